package memory

import (
	"sort"

	agents "routewatch/internal/agents/domain"
)

func sortMetrics(list []agents.Metric) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Route != list[j].Route {
			return list[i].Route < list[j].Route
		}
		if list[i].Category != list[j].Category {
			return list[i].Category < list[j].Category
		}
		return list[i].Name < list[j].Name
	})
}
