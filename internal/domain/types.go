package domain

import (
	"slices"
	"time"
)

type EventType string

const (
	EventLogin           EventType = "SessionLogin"
	EventTokenRefreshed  EventType = "TokenRefreshed"
	EventRefreshRejected EventType = "RefreshRejected"
	EventLogout          EventType = "SessionLogout"
	EventDiagramCreated  EventType = "DiagramCreated"
	EventDiagramChanged  EventType = "DiagramChanged"
	EventDiagramUndone   EventType = "DiagramUndone"
	EventDiagramRedone   EventType = "DiagramRedone"
	EventHistoryCleared  EventType = "DiagramHistoryCleared"
)

type ComponentKind string

const (
	ComponentBus         ComponentKind = "bus"
	ComponentBreaker     ComponentKind = "breaker"
	ComponentTransformer ComponentKind = "transformer"
	ComponentGenerator   ComponentKind = "generator"
	ComponentLoad        ComponentKind = "load"
	ComponentMeter       ComponentKind = "meter"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Subject   string                 `json:"subject,omitempty"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// RefreshSession is a server-side record of an issued refresh token. Only the
// hash of the token is persisted.
type RefreshSession struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Token     string    `json:"-"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is what /auth/login and /auth/refresh return.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Component is one element placed on a single-line diagram.
type Component struct {
	ID       string            `json:"id"`
	Kind     ComponentKind     `json:"kind"`
	Label    string            `json:"label,omitempty"`
	X        float64           `json:"x"`
	Y        float64           `json:"y"`
	Rotation int               `json:"rotation,omitempty"`
	Links    []string          `json:"links,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

// DiagramState is the editable content of a diagram, and the value tracked by
// the editor's undo history.
type DiagramState struct {
	Components []Component `json:"components"`
}

// Clone deep-copies the state so history entries never alias a caller's slices.
func (s DiagramState) Clone() DiagramState {
	if s.Components == nil {
		return DiagramState{}
	}
	out := make([]Component, len(s.Components))
	for i, c := range s.Components {
		c.Links = slices.Clone(c.Links)
		if c.Props != nil {
			props := make(map[string]string, len(c.Props))
			for k, v := range c.Props {
				props[k] = v
			}
			c.Props = props
		}
		out[i] = c
	}
	return DiagramState{Components: out}
}

// Find returns the index of the component with id, or -1.
func (s DiagramState) Find(id string) int {
	return slices.IndexFunc(s.Components, func(c Component) bool { return c.ID == id })
}

type Diagram struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Owner     string       `json:"owner"`
	State     DiagramState `json:"state"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DiagramView is a diagram as seen through its editor session.
type DiagramView struct {
	Diagram
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// TopologyDecision is the outcome of checking a diagram state before it is
// stored.
type TopologyDecision struct {
	Allowed     bool   `json:"allowed"`
	DenyReason  string `json:"deny_reason,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
}
