package application

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	agents "routewatch/internal/agents/domain"
	alerts "routewatch/internal/alerts/domain"
)

// Config is the agents YAML document.
type Config struct {
	Agents []DefinitionConfig `yaml:"agents"`
}

// DefinitionConfig is one agent entry; unset fields keep the built-in value.
type DefinitionConfig struct {
	Name            string                                 `yaml:"name"`
	Kind            agents.Kind                            `yaml:"kind"`
	IntervalSeconds int                                    `yaml:"interval_seconds"`
	Scope           string                                 `yaml:"scope"`
	Category        string                                 `yaml:"category"`
	Enabled         *bool                                  `yaml:"enabled"`
	Thresholds      map[string]agents.Threshold            `yaml:"thresholds"`
	Routes          map[string]map[string]agents.Threshold `yaml:"routes"`
}

// DefaultDefinitions returns the built-in agents.
func DefaultDefinitions() []agents.Definition {
	return []agents.Definition{
		{
			Name:            "competitive",
			Kind:            agents.KindCompetitive,
			IntervalSeconds: 900,
			Scope:           "pricing",
			Category:        "pricing",
			Enabled:         true,
			Thresholds: map[string]agents.Threshold{
				ConditionPriceDrop:    {Metric: MetricCompetitorFare, Operator: alerts.OperatorLess, Limit: 95},
				ConditionFareUndercut: {Metric: MetricFareGap, Operator: alerts.OperatorGreater, Limit: 0.10},
			},
		},
		{
			Name:            "performance",
			Kind:            agents.KindPerformance,
			IntervalSeconds: 1800,
			Scope:           "performance",
			Category:        "performance",
			Enabled:         true,
			Thresholds: map[string]agents.Threshold{
				ConditionLoadFactorShortfall: {Metric: MetricLoadFactor, Operator: alerts.OperatorLess, Limit: 0.75},
				ConditionYieldDecline:        {Metric: MetricYield, Operator: alerts.OperatorLess, Limit: 0.08},
			},
		},
		{
			Name:            "network",
			Kind:            agents.KindNetwork,
			IntervalSeconds: 3600,
			Scope:           "network",
			Category:        "network",
			Enabled:         true,
			Thresholds: map[string]agents.Threshold{
				ConditionCapacityImbalance: {Metric: MetricCapacityImbalance, Operator: alerts.OperatorGreater, Limit: 0.20},
				ConditionOvercapacity:      {Metric: MetricCapacityUtilization, Operator: alerts.OperatorLess, Limit: 0.60},
			},
		},
	}
}

// LoadConfig returns the built-in definitions merged with the YAML file at path, if any.
func LoadConfig(path string) ([]agents.Definition, error) {
	defs := DefaultDefinitions()
	if path == "" {
		return defs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return MergeConfig(defs, data)
}

// MergeConfig overlays a YAML document on base definitions by name.
func MergeConfig(base []agents.Definition, data []byte) ([]agents.Definition, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agents config: %w", err)
	}
	index := make(map[string]int, len(base))
	out := make([]agents.Definition, len(base))
	for i, def := range base {
		out[i] = cloneDefinition(def)
		index[def.Name] = i
	}
	for _, entry := range cfg.Agents {
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: config entry without name", agents.ErrInvalidDefinition)
		}
		if i, ok := index[entry.Name]; ok {
			out[i] = mergeDefinition(out[i], entry)
			continue
		}
		def := mergeDefinition(agents.Definition{Name: entry.Name, Enabled: true}, entry)
		if def.Scope == "" {
			def.Scope = def.Category
		}
		index[def.Name] = len(out)
		out = append(out, def)
	}
	for _, def := range out {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mergeDefinition(def agents.Definition, entry DefinitionConfig) agents.Definition {
	if entry.Kind != "" {
		def.Kind = entry.Kind
	}
	if entry.IntervalSeconds != 0 {
		def.IntervalSeconds = entry.IntervalSeconds
	}
	if entry.Scope != "" {
		def.Scope = entry.Scope
	}
	if entry.Category != "" {
		def.Category = entry.Category
	}
	if entry.Enabled != nil {
		def.Enabled = *entry.Enabled
	}
	if def.Thresholds == nil {
		def.Thresholds = make(map[string]agents.Threshold)
	}
	for condition, threshold := range entry.Thresholds {
		if existing, ok := def.Thresholds[condition]; ok {
			if threshold.Metric == "" {
				threshold.Metric = existing.Metric
			}
			if threshold.Operator == "" {
				threshold.Operator = existing.Operator
			}
		}
		def.Thresholds[condition] = threshold
	}
	if len(entry.Routes) > 0 {
		if def.Routes == nil {
			def.Routes = make(map[string]map[string]agents.Threshold)
		}
		for route, overrides := range entry.Routes {
			def.Routes[route] = overrides
		}
	}
	return def
}

func cloneDefinition(def agents.Definition) agents.Definition {
	thresholds := make(map[string]agents.Threshold, len(def.Thresholds))
	for k, v := range def.Thresholds {
		thresholds[k] = v
	}
	def.Thresholds = thresholds
	if def.Routes != nil {
		routes := make(map[string]map[string]agents.Threshold, len(def.Routes))
		for route, overrides := range def.Routes {
			routes[route] = overrides
		}
		def.Routes = routes
	}
	return def
}
