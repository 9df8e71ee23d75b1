package application

import (
	"fmt"

	agents "routewatch/internal/agents/domain"
)

// Performance metric names.
const (
	MetricLoadFactor = "load_factor"
	MetricYield      = "yield"

	ConditionLoadFactorShortfall = "load_factor_shortfall"
	ConditionYieldDecline        = "yield_decline"
)

// NewPerformanceAgent watches load factor and yield.
func NewPerformanceAgent(def agents.Definition) agents.Agent {
	return &ruleAgent{
		def:      def,
		describe: describePerformance,
	}
}

func describePerformance(condition, route string, value float64, threshold agents.Threshold) (string, string) {
	switch condition {
	case ConditionLoadFactorShortfall:
		return fmt.Sprintf("Load factor shortfall on %s", route),
			fmt.Sprintf("Load factor on %s is %.1f%%, under the %.1f%% target.", route, value*100, threshold.Limit*100)
	case ConditionYieldDecline:
		return fmt.Sprintf("Yield decline on %s", route),
			fmt.Sprintf("Yield on %s is %.4f per RPK, under %.4f.", route, value, threshold.Limit)
	default:
		return genericDescription(condition, route, value, threshold)
	}
}
