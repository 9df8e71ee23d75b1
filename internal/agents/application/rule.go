package application

import (
	"errors"
	"fmt"
	"math"

	agents "routewatch/internal/agents/domain"
	alerts "routewatch/internal/alerts/domain"
)

// deriveFunc computes a metric that is not stored directly.
type deriveFunc func(values map[string]float64) (float64, bool)

// describeFunc renders the operator-facing text of a violation.
type describeFunc func(condition, route string, value float64, threshold agents.Threshold) (title, description string)

// ruleAgent checks every route of a snapshot against the definition's thresholds.
type ruleAgent struct {
	def      agents.Definition
	derived  map[string]deriveFunc
	describe describeFunc
}

func (a *ruleAgent) Definition() agents.Definition {
	return a.def
}

func (a *ruleAgent) Evaluate(snapshot agents.MetricSnapshot) ([]alerts.CandidateViolation, error) {
	if a == nil {
		return nil, errors.New("agents: nil agent")
	}
	byRoute := snapshot.RouteValues()
	conditions := a.def.Conditions()
	var out []alerts.CandidateViolation
	for _, route := range snapshot.Routes() {
		values := byRoute[route]
		for _, condition := range conditions {
			threshold, ok := a.def.ThresholdFor(route, condition)
			if !ok {
				continue
			}
			value, ok := a.value(values, threshold.Metric)
			if !ok {
				continue
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, fmt.Errorf("agents: %s: %s on %s is not finite", a.def.Name, threshold.Metric, route)
			}
			if !threshold.Operator.Violated(value, threshold.Limit) {
				continue
			}
			title, description := a.describe(condition, route, value, threshold)
			out = append(out, alerts.CandidateViolation{
				Category:       a.def.Category,
				Route:          route,
				ConditionKind:  condition,
				MetricValue:    value,
				ThresholdValue: threshold.Limit,
				Operator:       threshold.Operator,
				Title:          title,
				Description:    description,
			})
		}
	}
	return out, nil
}

func (a *ruleAgent) value(values map[string]float64, metric string) (float64, bool) {
	if value, ok := values[metric]; ok {
		return value, true
	}
	if derive, ok := a.derived[metric]; ok {
		return derive(values)
	}
	return 0, false
}

func genericDescription(condition, route string, value float64, threshold agents.Threshold) (string, string) {
	return fmt.Sprintf("%s on %s", condition, route),
		fmt.Sprintf("%s is %.4g, breaching %s %.4g", threshold.Metric, value, threshold.Operator, threshold.Limit)
}
