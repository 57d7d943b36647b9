package risk

import (
	"github.com/lox/urbanrisk/internal/models"
)

// Adjustment changes one indicator relative to its baseline value. Exactly one
// of Percent or Delta is used; Percent wins when non-zero.
type Adjustment struct {
	Indicator models.Indicator `json:"indicator"`
	Percent   float64          `json:"percent,omitempty"`
	Delta     float64          `json:"delta,omitempty"`
}

// Preset is a named, ready-made intervention for the simulation UI.
type Preset struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Apply turns the preset into a concrete modification for baseline. Indicators
// the baseline lacks are skipped.
func (p Preset) Apply(baseline models.CurrentState) models.Modification {
	mods := make(models.Modification, len(p.Adjustments))
	for _, adj := range p.Adjustments {
		base, ok := baseline.Value(adj.Indicator)
		if !ok {
			continue
		}
		spec, _ := models.LookupIndicator(adj.Indicator)
		v := base + adj.Delta
		if adj.Percent != 0 {
			v = base * (1 + adj.Percent/100)
		}
		mods[adj.Indicator] = spec.Clamp(v)
	}
	return mods
}

var presets = []Preset{
	{
		ID:          "clean_air_push",
		Name:        "Clean air push",
		Description: "Emission controls cut AQI and particulates by roughly a third.",
		Adjustments: []Adjustment{
			{Indicator: models.AQI, Percent: -30},
			{Indicator: models.PM25, Percent: -30},
			{Indicator: models.PM10, Percent: -25},
		},
	},
	{
		ID:          "traffic_restriction",
		Name:        "Traffic restriction",
		Description: "Odd-even vehicle rationing reduces traffic volume by a quarter.",
		Adjustments: []Adjustment{
			{Indicator: models.TrafficVolume, Percent: -25},
		},
	},
	{
		ID:          "heatwave",
		Name:        "Heatwave",
		Description: "Temperatures run six degrees above the current reading.",
		Adjustments: []Adjustment{
			{Indicator: models.Temperature, Delta: 6},
		},
	},
	{
		ID:          "crop_failure",
		Name:        "Crop failure",
		Description: "Regional harvest shortfall cuts crop supply by 40%.",
		Adjustments: []Adjustment{
			{Indicator: models.CropSupplyIndex, Percent: -40},
		},
	},
	{
		ID:          "hospital_surge_capacity",
		Name:        "Hospital surge capacity",
		Description: "Temporary wards relieve hospital load and bed occupancy.",
		Adjustments: []Adjustment{
			{Indicator: models.HospitalLoad, Percent: -20},
			{Indicator: models.BedOccupancyPercent, Percent: -15},
		},
	},
}

// Presets returns the built-in presets.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset finds a preset by ID.
func LookupPreset(id string) (Preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}
