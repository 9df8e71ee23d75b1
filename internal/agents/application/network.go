package application

import (
	"fmt"
	"math"

	agents "routewatch/internal/agents/domain"
)

// Network metric names.
const (
	MetricOutboundSeats       = "outbound_seats"
	MetricInboundSeats        = "inbound_seats"
	MetricCapacityImbalance   = "capacity_imbalance"
	MetricCapacityUtilization = "capacity_utilization"

	ConditionCapacityImbalance = "capacity_imbalance"
	ConditionOvercapacity      = "overcapacity"
)

// NewNetworkAgent watches directional capacity balance and utilisation.
func NewNetworkAgent(def agents.Definition) agents.Agent {
	return &ruleAgent{
		def: def,
		derived: map[string]deriveFunc{
			MetricCapacityImbalance: capacityImbalance,
		},
		describe: describeNetwork,
	}
}

func capacityImbalance(values map[string]float64) (float64, bool) {
	out, ok := values[MetricOutboundSeats]
	if !ok {
		return 0, false
	}
	in, ok := values[MetricInboundSeats]
	if !ok {
		return 0, false
	}
	larger := math.Max(out, in)
	if larger <= 0 {
		return 0, false
	}
	return math.Abs(out-in) / larger, true
}

func describeNetwork(condition, route string, value float64, threshold agents.Threshold) (string, string) {
	switch condition {
	case ConditionCapacityImbalance:
		return fmt.Sprintf("Capacity imbalance on %s", route),
			fmt.Sprintf("Outbound and inbound seats on %s differ by %.1f%% (limit %.1f%%).", route, value*100, threshold.Limit*100)
	case ConditionOvercapacity:
		return fmt.Sprintf("Overcapacity on %s", route),
			fmt.Sprintf("Capacity utilisation on %s is %.1f%%, under %.1f%%.", route, value*100, threshold.Limit*100)
	default:
		return genericDescription(condition, route, value, threshold)
	}
}
