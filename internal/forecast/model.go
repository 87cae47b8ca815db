package forecast

import "fmt"

// ConsumptionModel estimates average daily consumption from daily sold
// quantities ordered oldest first. Implementations must return 0 when nothing
// was sold.
type ConsumptionModel interface {
	Name() string
	AverageDaily(daily []int) float64
}

// TrailingAverage is the plain mean over the look-back window.
type TrailingAverage struct{}

// Name implements ConsumptionModel.
func (TrailingAverage) Name() string { return "trailing" }

// AverageDaily implements ConsumptionModel.
func (TrailingAverage) AverageDaily(daily []int) float64 {
	if len(daily) == 0 {
		return 0
	}
	total := 0
	for _, q := range daily {
		total += q
	}
	return float64(total) / float64(len(daily))
}

// EWMA weighs recent days more heavily. Alpha in (0,1] is the weight of the
// newest observation.
type EWMA struct {
	Alpha float64
}

// Name implements ConsumptionModel.
func (m EWMA) Name() string { return fmt.Sprintf("ewma(%.2f)", m.Alpha) }

// AverageDaily implements ConsumptionModel.
func (m EWMA) AverageDaily(daily []int) float64 {
	if len(daily) == 0 {
		return 0
	}
	sold := false
	for _, q := range daily {
		if q != 0 {
			sold = true
			break
		}
	}
	if !sold {
		return 0
	}
	avg := float64(daily[0])
	for _, q := range daily[1:] {
		avg = m.Alpha*float64(q) + (1-m.Alpha)*avg
	}
	return avg
}

// ModelByName resolves a configured model name.
func ModelByName(name string, alpha float64) (ConsumptionModel, error) {
	switch name {
	case "", "trailing":
		return TrailingAverage{}, nil
	case "ewma":
		if alpha <= 0 || alpha > 1 {
			return nil, fmt.Errorf("forecast: ewma alpha must be within (0,1], got %v", alpha)
		}
		return EWMA{Alpha: alpha}, nil
	}
	return nil, fmt.Errorf("forecast: unknown consumption model %q", name)
}
