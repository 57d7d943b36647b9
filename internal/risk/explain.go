package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/lox/urbanrisk/internal/models"
)

var domainLabels = map[Domain]string{
	Environmental: "Environmental",
	Health:        "Health",
	FoodSecurity:  "Food security",
}

// Explain produces advisory explanation strings. The order is fixed: elevated
// domains (environmental, health, food security), then significant cascade
// edges by descending magnitude, then a note on defaulted indicators.
// fired must already be sorted, as Graph.Propagate returns it.
func Explain(sev DomainSeverity, a Assessment, fired []FiredEdge, cfg Config) []string {
	out := []string{}

	for _, d := range Domains {
		level := a.Level(d)
		if !level.Elevated() {
			continue
		}
		msg := fmt.Sprintf("%s risk is %s (%.0f%%)", domainLabels[d], level, a.Prob(d)*100)
		if c, ok := sev.Dominant(d); ok {
			if c.Defaulted {
				msg += fmt.Sprintf(", dominated by %s with no data (neutral score assumed)", c.Indicator)
			} else {
				msg += fmt.Sprintf(", driven mainly by %s at %s", c.Indicator, formatValue(c.Indicator, c.Raw))
			}
		}
		out = append(out, msg)
	}

	for _, f := range fired {
		if f.Magnitude < cfg.Cascade.MinSignificance {
			continue
		}
		direction := "raises"
		if f.Contribution < 0 {
			direction = "lowers"
		}
		out = append(out, fmt.Sprintf("Change in %s %s %s by %s",
			f.Source, direction, f.Target, formatValue(f.Target, math.Abs(f.Contribution))))
	}

	if missing := sev.Defaulted(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		out = append(out, "No data for "+strings.Join(names, ", ")+"; neutral severity assumed")
	}

	return out
}

func formatValue(name models.Indicator, v float64) string {
	spec, _ := models.LookupIndicator(name)
	switch spec.Unit {
	case "index", "ratio":
		if spec.Max <= 1 {
			return fmt.Sprintf("%.2f", v)
		}
		return fmt.Sprintf("%.0f", v)
	case "%":
		return fmt.Sprintf("%.1f%%", v)
	default:
		return fmt.Sprintf("%.1f %s", v, spec.Unit)
	}
}
