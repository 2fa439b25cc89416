// Package topology checks diagram states for structural mistakes before they
// reach the store.
package topology

import (
	"strings"

	"gridops/internal/domain"
)

var knownKinds = map[domain.ComponentKind]bool{
	domain.ComponentBus:         true,
	domain.ComponentBreaker:     true,
	domain.ComponentTransformer: true,
	domain.ComponentGenerator:   true,
	domain.ComponentLoad:        true,
	domain.ComponentMeter:       true,
}

type Engine struct {
	maxComponents int
}

// NewEngine returns an Engine. maxComponents <= 0 means no limit.
func NewEngine(maxComponents int) *Engine {
	return &Engine{maxComponents: maxComponents}
}

func (e *Engine) Evaluate(state domain.DiagramState) domain.TopologyDecision {
	if e.maxComponents > 0 && len(state.Components) > e.maxComponents {
		return domain.TopologyDecision{Allowed: false, DenyReason: "too_many_components"}
	}
	ids := make(map[string]bool, len(state.Components))
	for _, c := range state.Components {
		if strings.TrimSpace(c.ID) == "" {
			return domain.TopologyDecision{Allowed: false, DenyReason: "component_id_missing"}
		}
		if ids[c.ID] {
			return deny("duplicate_component_id", c.ID)
		}
		ids[c.ID] = true
		if !knownKinds[c.Kind] {
			return deny("unknown_component_kind", c.ID)
		}
	}
	for _, c := range state.Components {
		for _, link := range c.Links {
			if link == c.ID {
				return deny("self_link", c.ID)
			}
			if !ids[link] {
				return deny("dangling_link", c.ID)
			}
		}
	}
	return domain.TopologyDecision{Allowed: true}
}

func deny(reason, componentID string) domain.TopologyDecision {
	return domain.TopologyDecision{Allowed: false, DenyReason: reason, ComponentID: componentID}
}
