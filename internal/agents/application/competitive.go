package application

import (
	"fmt"

	agents "routewatch/internal/agents/domain"
)

// Competitive metric names.
const (
	MetricCompetitorFare = "competitor_fare"
	MetricOurFare        = "our_fare"
	MetricFareGap        = "fare_gap"

	ConditionPriceDrop    = "price_drop"
	ConditionFareUndercut = "fare_undercut"
)

// NewCompetitiveAgent watches competitor fares.
func NewCompetitiveAgent(def agents.Definition) agents.Agent {
	return &ruleAgent{
		def: def,
		derived: map[string]deriveFunc{
			MetricFareGap: fareGap,
		},
		describe: describeCompetitive,
	}
}

// fareGap is how far the competitor undercuts our fare, as a fraction of our fare.
func fareGap(values map[string]float64) (float64, bool) {
	ours, ok := values[MetricOurFare]
	if !ok || ours <= 0 {
		return 0, false
	}
	theirs, ok := values[MetricCompetitorFare]
	if !ok {
		return 0, false
	}
	return (ours - theirs) / ours, true
}

func describeCompetitive(condition, route string, value float64, threshold agents.Threshold) (string, string) {
	switch condition {
	case ConditionPriceDrop:
		return fmt.Sprintf("Competitor price drop on %s", route),
			fmt.Sprintf("Competitor fare on %s is %.2f, below the %.2f floor.", route, value, threshold.Limit)
	case ConditionFareUndercut:
		return fmt.Sprintf("Competitor undercut on %s", route),
			fmt.Sprintf("Competitor undercuts our fare on %s by %.1f%% (limit %.1f%%).", route, value*100, threshold.Limit*100)
	default:
		return genericDescription(condition, route, value, threshold)
	}
}
