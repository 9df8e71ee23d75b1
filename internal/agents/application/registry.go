package application

import (
	"fmt"
	"sort"

	agents "routewatch/internal/agents/domain"
)

// Registry holds the agents built from definitions, keyed by name.
type Registry struct {
	agents map[string]agents.Agent
	names  []string
}

// NewAgent builds an agent for a definition by kind.
func NewAgent(def agents.Definition) (agents.Agent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	switch def.Kind {
	case agents.KindCompetitive:
		return NewCompetitiveAgent(def), nil
	case agents.KindPerformance:
		return NewPerformanceAgent(def), nil
	case agents.KindNetwork:
		return NewNetworkAgent(def), nil
	default:
		return nil, fmt.Errorf("%w: %q", agents.ErrUnknownKind, def.Kind)
	}
}

// NewRegistry builds every definition. Names must be unique.
func NewRegistry(defs []agents.Definition) (*Registry, error) {
	r := &Registry{agents: make(map[string]agents.Agent, len(defs))}
	for _, def := range defs {
		if _, exists := r.agents[def.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate agent name %s", agents.ErrInvalidDefinition, def.Name)
		}
		agent, err := NewAgent(def)
		if err != nil {
			return nil, err
		}
		r.agents[def.Name] = agent
		r.names = append(r.names, def.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (agents.Agent, error) {
	if r == nil {
		return nil, agents.ErrUnknownAgent
	}
	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", agents.ErrUnknownAgent, name)
	}
	return agent, nil
}

// List returns all agents sorted by name.
func (r *Registry) List() []agents.Agent {
	if r == nil {
		return nil
	}
	out := make([]agents.Agent, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.agents[name])
	}
	return out
}

// Enabled returns the agents the scheduler should run.
func (r *Registry) Enabled() []agents.Agent {
	var out []agents.Agent
	for _, agent := range r.List() {
		if agent.Definition().Enabled {
			out = append(out, agent)
		}
	}
	return out
}
