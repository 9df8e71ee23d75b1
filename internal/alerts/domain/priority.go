package alerts

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Priority ranks how far a metric is past its threshold.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast returns true when p is as urgent as target.
func (p Priority) AtLeast(target Priority) bool {
	return p.Rank() >= target.Rank()
}

// PriorityBands holds the margin fractions that promote an alert.
type PriorityBands struct {
	Critical float64
	High     float64
}

// DefaultPriorityBands returns the stock bands: 15% past threshold is critical, 5% is high.
func DefaultPriorityBands() PriorityBands {
	return PriorityBands{Critical: 0.15, High: 0.05}
}

// ParsePriorityBands reads "critical,high" fractions, e.g. "0.5,0.25".
func ParsePriorityBands(value string) (PriorityBands, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultPriorityBands(), nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return PriorityBands{}, errors.New("priority bands: expected critical,high")
	}
	critical, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return PriorityBands{}, err
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return PriorityBands{}, err
	}
	bands := PriorityBands{Critical: critical, High: high}
	if err := bands.Validate(); err != nil {
		return PriorityBands{}, err
	}
	return bands, nil
}

// Validate checks band ordering.
func (b PriorityBands) Validate() error {
	if b.High <= 0 || b.Critical <= 0 {
		return errors.New("priority bands: fractions must be positive")
	}
	if b.Critical < b.High {
		return errors.New("priority bands: critical below high")
	}
	return nil
}

// Margin is the distance past the threshold in the violating direction, relative to |threshold|.
// With a zero threshold the absolute distance is returned.
func Margin(op Operator, value, threshold float64) float64 {
	var distance float64
	switch op {
	case OperatorLess, OperatorLessOrEqual:
		distance = threshold - value
	default:
		distance = value - threshold
	}
	if distance < 0 {
		distance = 0
	}
	if threshold == 0 {
		return distance
	}
	return distance / math.Abs(threshold)
}

// PriorityFor derives the priority of a violation.
func (b PriorityBands) PriorityFor(op Operator, value, threshold float64) Priority {
	margin := Margin(op, value, threshold)
	if threshold == 0 {
		if margin > 0 {
			return PriorityMedium
		}
		return PriorityLow
	}
	switch {
	case margin >= b.Critical:
		return PriorityCritical
	case margin >= b.High:
		return PriorityHigh
	case margin > 0:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
