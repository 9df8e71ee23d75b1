package agents

import (
	"fmt"
	"sort"
	"strings"
	"time"

	alerts "routewatch/internal/alerts/domain"
)

// Kind selects the evaluation logic of an agent.
type Kind string

const (
	KindCompetitive Kind = "competitive"
	KindPerformance Kind = "performance"
	KindNetwork     Kind = "network"
)

// Valid returns true when kind has an implementation.
func (k Kind) Valid() bool {
	switch k {
	case KindCompetitive, KindPerformance, KindNetwork:
		return true
	default:
		return false
	}
}

// Threshold binds a condition to the metric it checks.
type Threshold struct {
	Metric   string          `yaml:"metric" json:"metric"`
	Operator alerts.Operator `yaml:"operator" json:"operator"`
	Limit    float64         `yaml:"limit" json:"limit"`
}

// Definition configures one rule agent. It is read-only once loaded.
type Definition struct {
	Name            string                          `yaml:"name" json:"name"`
	Kind            Kind                            `yaml:"kind" json:"kind"`
	IntervalSeconds int                             `yaml:"interval_seconds" json:"interval_seconds"`
	Scope           string                          `yaml:"scope" json:"scope"`
	Category        string                          `yaml:"category" json:"category"`
	Enabled         bool                            `yaml:"enabled" json:"enabled"`
	Thresholds      map[string]Threshold            `yaml:"thresholds" json:"thresholds"`
	Routes          map[string]map[string]Threshold `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// Interval returns the tick period.
func (d Definition) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Conditions returns condition kinds in a stable order.
func (d Definition) Conditions() []string {
	keys := make([]string, 0, len(d.Thresholds))
	for key := range d.Thresholds {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ThresholdFor returns the threshold of a condition with any per-route override applied.
func (d Definition) ThresholdFor(route, condition string) (Threshold, bool) {
	base, ok := d.Thresholds[condition]
	if !ok {
		return Threshold{}, false
	}
	if d.Routes == nil {
		return base, true
	}
	override, ok := d.Routes[route][condition]
	if !ok {
		return base, true
	}
	return mergeThreshold(base, override), true
}

// Validate checks the definition is runnable.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: agent %s: %q", ErrUnknownKind, d.Name, d.Kind)
	}
	if d.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: agent %s: interval must be positive", ErrInvalidDefinition, d.Name)
	}
	if len(d.Thresholds) == 0 {
		return fmt.Errorf("%w: agent %s: no thresholds", ErrInvalidDefinition, d.Name)
	}
	for condition, threshold := range d.Thresholds {
		if threshold.Metric == "" {
			return fmt.Errorf("%w: agent %s: condition %s has no metric", ErrInvalidDefinition, d.Name, condition)
		}
		if !threshold.Operator.Valid() {
			return fmt.Errorf("%w: agent %s: condition %s operator %q", ErrInvalidDefinition, d.Name, condition, threshold.Operator)
		}
	}
	for route, overrides := range d.Routes {
		for condition, override := range overrides {
			if _, ok := d.Thresholds[condition]; !ok {
				return fmt.Errorf("%w: agent %s: route %s overrides unknown condition %s", ErrInvalidDefinition, d.Name, route, condition)
			}
			if override.Operator != "" && !override.Operator.Valid() {
				return fmt.Errorf("%w: agent %s: route %s operator %q", ErrInvalidDefinition, d.Name, route, override.Operator)
			}
		}
	}
	return nil
}

func mergeThreshold(base, override Threshold) Threshold {
	if override.Metric != "" {
		base.Metric = override.Metric
	}
	if override.Operator != "" {
		base.Operator = override.Operator
	}
	if override.Limit != 0 {
		base.Limit = override.Limit
	}
	return base
}
