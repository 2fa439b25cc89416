package topology

import (
	"testing"

	"gridops/internal/domain"
)

func TestEvaluate_AllowsValidState(t *testing.T) {
	engine := NewEngine(10)
	decision := engine.Evaluate(domain.DiagramState{Components: []domain.Component{
		{ID: "bus-1", Kind: domain.ComponentBus},
		{ID: "brk-1", Kind: domain.ComponentBreaker, Links: []string{"bus-1"}},
		{ID: "load-1", Kind: domain.ComponentLoad, Links: []string{"brk-1"}},
	}})
	if !decision.Allowed {
		t.Fatalf("expected allowed decision, got deny=%q", decision.DenyReason)
	}
}

func TestEvaluate_AllowsEmptyState(t *testing.T) {
	if d := NewEngine(0).Evaluate(domain.DiagramState{}); !d.Allowed {
		t.Fatalf("expected empty diagram to be allowed, got %+v", d)
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		max       int
		state     []domain.Component
		reason    string
		component string
	}{
		{
			name:   "too many components",
			max:    1,
			state:  []domain.Component{{ID: "a", Kind: domain.ComponentBus}, {ID: "b", Kind: domain.ComponentBus}},
			reason: "too_many_components",
		},
		{
			name:   "missing id",
			state:  []domain.Component{{ID: " ", Kind: domain.ComponentBus}},
			reason: "component_id_missing",
		},
		{
			name:      "duplicate id",
			state:     []domain.Component{{ID: "a", Kind: domain.ComponentBus}, {ID: "a", Kind: domain.ComponentLoad}},
			reason:    "duplicate_component_id",
			component: "a",
		},
		{
			name:      "unknown kind",
			state:     []domain.Component{{ID: "a", Kind: "capacitor"}},
			reason:    "unknown_component_kind",
			component: "a",
		},
		{
			name:      "dangling link",
			state:     []domain.Component{{ID: "a", Kind: domain.ComponentBreaker, Links: []string{"missing"}}},
			reason:    "dangling_link",
			component: "a",
		},
		{
			name:      "self link",
			state:     []domain.Component{{ID: "a", Kind: domain.ComponentBus, Links: []string{"a"}}},
			reason:    "self_link",
			component: "a",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewEngine(tc.max).Evaluate(domain.DiagramState{Components: tc.state})
			if d.Allowed || d.DenyReason != tc.reason || d.ComponentID != tc.component {
				t.Fatalf("expected %s on %q, got %+v", tc.reason, tc.component, d)
			}
		})
	}
}
