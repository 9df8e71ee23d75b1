package alerts

import "fmt"

// Operator is the comparison a metric is checked with.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Violated reports whether value breaches limit under the operator.
func (o Operator) Violated(value, limit float64) bool {
	switch o {
	case OperatorGreater:
		return value > limit
	case OperatorGreaterOrEqual:
		return value >= limit
	case OperatorLess:
		return value < limit
	case OperatorLessOrEqual:
		return value <= limit
	default:
		return false
	}
}

// CandidateViolation is a rule agent's raw finding before reconciliation.
type CandidateViolation struct {
	Category       string   `json:"category"`
	Route          string   `json:"route"`
	ConditionKind  string   `json:"condition_kind"`
	MetricValue    float64  `json:"metric_value"`
	ThresholdValue float64  `json:"threshold_value"`
	Operator       Operator `json:"operator"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description"`
	Confidence     float64  `json:"confidence,omitempty"`
}

// Validate checks the identity fields used for fingerprinting.
func (c CandidateViolation) Validate() error {
	if c.Route == "" {
		return fmt.Errorf("%w: empty route", ErrInvalidCandidate)
	}
	if c.ConditionKind == "" {
		return fmt.Errorf("%w: empty condition kind", ErrInvalidCandidate)
	}
	if c.Operator != "" && !c.Operator.Valid() {
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidCandidate, c.Operator)
	}
	return nil
}

// DefaultTitle builds a readable title when the agent supplies none.
func DefaultTitle(c CandidateViolation) string {
	if c.Category == "" {
		return fmt.Sprintf("%s on %s", c.ConditionKind, c.Route)
	}
	return fmt.Sprintf("%s %s on %s", c.Category, c.ConditionKind, c.Route)
}
