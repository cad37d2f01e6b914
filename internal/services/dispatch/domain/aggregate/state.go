package aggregate

import (
	"fmt"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// State is the in-memory state of one aggregate instance. Values are treated
// as copy-on-write: Apply returns a new State and never mutates its input.
type State struct {
	Type          string
	IdentityField string
	Shape         []string // fields the state can hold
	Values        param.Map
	Version       uint64 // version of the last applied event
}

// NewState returns the uninitialized state for def.
func NewState(def *Definition) State {
	return State{
		Type:          def.Type,
		IdentityField: def.IdentityField,
		Shape:         def.Shape(),
		Values:        param.Map{},
	}
}

// Identity returns the identity value once the aggregate has been created.
func (s State) Identity() (any, bool) {
	value, ok := s.Values[s.IdentityField]
	if !ok || value == nil || value == "" {
		return nil, false
	}
	return value, true
}

// IdentityString renders the identity for envelopes and storage keys.
func (s State) IdentityString() string {
	value, ok := s.Identity()
	if !ok {
		return ""
	}
	return fmt.Sprint(value)
}

// Initialized reports whether an identity has been set.
func (s State) Initialized() bool {
	_, ok := s.Identity()
	return ok
}

// Has reports whether field is part of the state shape.
func (s State) Has(field string) bool {
	for _, declared := range s.Shape {
		if declared == field {
			return true
		}
	}
	return false
}

// Get returns a state value.
func (s State) Get(field string) any {
	return s.Values[field]
}

// Clone returns a copy that shares no maps or slices with s.
func (s State) Clone() State {
	s.Shape = append([]string(nil), s.Shape...)
	s.Values = s.Values.Clone()
	return s
}
