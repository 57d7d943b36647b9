package risk

import (
	"fmt"
	"strings"

	"github.com/lox/urbanrisk/internal/models"
)

// MissingDataError means the state carried no usable indicators at all. Callers
// surface it as "not found"; it is never silently scored as zero risk.
type MissingDataError struct {
	City string
}

func (e *MissingDataError) Error() string {
	if e.City == "" {
		return "no indicator data available"
	}
	return fmt.Sprintf("no indicator data available for %s", e.City)
}

// InvalidRangeError rejects a value that clamping would turn into nonsense, such
// as a negative traffic volume, or a name that is not an indicator at all.
type InvalidRangeError struct {
	Indicator models.Indicator
	Value     float64
	Reason    string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid value for %s (%g): %s", e.Indicator, e.Value, e.Reason)
}

// GraphIntegrityError is fatal: a process must not serve with a broken graph.
type GraphIntegrityError struct {
	Problems []string
}

func (e *GraphIntegrityError) Error() string {
	return "cascade graph integrity: " + strings.Join(e.Problems, "; ")
}

func checkValue(name models.Indicator, v float64) (models.IndicatorSpec, error) {
	spec, ok := models.LookupIndicator(name)
	if !ok {
		return spec, &InvalidRangeError{Indicator: name, Value: v, Reason: "unknown indicator"}
	}
	if err := spec.Check(v); err != nil {
		return spec, &InvalidRangeError{Indicator: name, Value: v, Reason: err.Error()}
	}
	return spec, nil
}
