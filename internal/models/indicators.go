package models

import (
	"errors"
	"math"
	"sort"
)

// Indicator names a single raw urban metric.
type Indicator string

const (
	AQI                    Indicator = "aqi"
	PM25                   Indicator = "pm25"
	PM10                   Indicator = "pm10"
	TrafficVolume          Indicator = "traffic_volume"
	TrafficCongestionIndex Indicator = "traffic_congestion_index"
	RespiratoryCases       Indicator = "respiratory_cases"
	HospitalLoad           Indicator = "hospital_load"
	BedOccupancyPercent    Indicator = "bed_occupancy_percent"
	CropSupplyIndex        Indicator = "crop_supply_index"
	FoodPriceIndex         Indicator = "food_price_index"
	FoodPriceVolatility    Indicator = "food_price_volatility"
	Temperature            Indicator = "temperature"
	Humidity               Indicator = "humidity"
	WindSpeed              Indicator = "wind_speed"
)

// IndicatorSpec describes the valid domain of an indicator.
//
// Min and Max bound every stored or propagated value. RefLo and RefHi describe the
// range over which the indicator is meaningful for risk; the default calibration
// curves and the cascade model both measure change relative to that span.
type IndicatorSpec struct {
	Name        Indicator
	Unit        string
	Min         float64
	Max         float64
	RefLo       float64
	RefHi       float64
	NonNegative bool // negative values are a caller error, not something to clamp
}

// RefSpan returns the width of the reference range.
func (s IndicatorSpec) RefSpan() float64 {
	return s.RefHi - s.RefLo
}

// Clamp limits v to the valid range.
func (s IndicatorSpec) Clamp(v float64) float64 {
	return math.Max(s.Min, math.Min(s.Max, v))
}

// Check reports why v cannot be used at all. Values that are merely outside
// [Min, Max] pass; they are clamped later.
func (s IndicatorSpec) Check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("not a finite number")
	}
	if s.NonNegative && v < 0 {
		return errors.New("negative values are not allowed")
	}
	return nil
}

var indicatorSpecs = map[Indicator]IndicatorSpec{
	AQI:                    {Name: AQI, Unit: "index", Min: 0, Max: 500, RefLo: 0, RefHi: 500, NonNegative: true},
	PM25:                   {Name: PM25, Unit: "µg/m³", Min: 0, Max: 500, RefLo: 0, RefHi: 250, NonNegative: true},
	PM10:                   {Name: PM10, Unit: "µg/m³", Min: 0, Max: 600, RefLo: 0, RefHi: 430, NonNegative: true},
	TrafficVolume:          {Name: TrafficVolume, Unit: "vehicles/h", Min: 0, Max: 20000, RefLo: 0, RefHi: 5000, NonNegative: true},
	TrafficCongestionIndex: {Name: TrafficCongestionIndex, Unit: "index", Min: 0, Max: 1, RefLo: 0, RefHi: 1, NonNegative: true},
	RespiratoryCases:       {Name: RespiratoryCases, Unit: "cases/day", Min: 0, Max: 5000, RefLo: 0, RefHi: 500, NonNegative: true},
	HospitalLoad:           {Name: HospitalLoad, Unit: "ratio", Min: 0, Max: 1, RefLo: 0, RefHi: 1, NonNegative: true},
	BedOccupancyPercent:    {Name: BedOccupancyPercent, Unit: "%", Min: 0, Max: 100, RefLo: 0, RefHi: 100, NonNegative: true},
	CropSupplyIndex:        {Name: CropSupplyIndex, Unit: "index", Min: 0, Max: 1, RefLo: 0, RefHi: 1, NonNegative: true},
	FoodPriceIndex:         {Name: FoodPriceIndex, Unit: "index", Min: 0, Max: 300, RefLo: 50, RefHi: 150, NonNegative: true},
	FoodPriceVolatility:    {Name: FoodPriceVolatility, Unit: "ratio", Min: 0, Max: 1, RefLo: 0, RefHi: 1, NonNegative: true},
	Temperature:            {Name: Temperature, Unit: "°C", Min: -30, Max: 55, RefLo: 15, RefHi: 45},
	Humidity:               {Name: Humidity, Unit: "%", Min: 0, Max: 100, RefLo: 20, RefHi: 100, NonNegative: true},
	WindSpeed:              {Name: WindSpeed, Unit: "km/h", Min: 0, Max: 150, RefLo: 0, RefHi: 40, NonNegative: true},
}

// LookupIndicator returns the ranges and unit of name.
func LookupIndicator(name Indicator) (IndicatorSpec, bool) {
	s, ok := indicatorSpecs[name]
	return s, ok
}

// Indicators returns every known indicator, sorted by name.
func Indicators() []Indicator {
	out := make([]Indicator, 0, len(indicatorSpecs))
	for name := range indicatorSpecs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
