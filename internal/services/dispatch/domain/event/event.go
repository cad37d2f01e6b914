// Package event defines the immutable fact produced by a successful command
// and the definitions that declare each event's fields.
package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/eventcore/internal/platform/id"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

var (
	// ErrNameRequired indicates a definition or event without a name.
	ErrNameRequired = errors.New("event name is required")
	// ErrNameUnknown indicates an event name with no registered definition.
	ErrNameUnknown = errors.New("event name is not registered")
)

// Event is one applied-or-appliable fact about an aggregate.
type Event struct {
	ID            string
	Name          string
	AggregateType string
	AggregateID   string
	Version       uint64
	Fields        []string
	Values        param.Map
	Timestamp     time.Time
}

// Value returns the value recorded for field.
func (e Event) Value(field string) (any, bool) {
	value, ok := e.Values[field]
	return value, ok
}

// Clone returns a copy that shares no maps or slices with e.
func (e Event) Clone() Event {
	e.Fields = append([]string(nil), e.Fields...)
	e.Values = e.Values.Clone()
	return e
}

// Definition declares an event name and its fields.
type Definition struct {
	Name   string
	Fields []string
}

// Declares reports whether field is part of the event.
func (d Definition) Declares(field string) bool {
	for _, declared := range d.Fields {
		if declared == field {
			return true
		}
	}
	return false
}

// Registry stores event definitions by name.
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return ErrNameRequired
	}
	if r.definitions == nil {
		r.definitions = make(map[string]Definition)
	}
	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("event already registered: %s", def.Name)
	}
	def.Fields = append([]string(nil), def.Fields...)
	r.definitions[def.Name] = def
	return nil
}

// Definition returns the definition for name.
func (r *Registry) Definition(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[name]
	return def, ok
}

// Names returns registered event names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stamp carries the envelope attributes of a new event.
type Stamp struct {
	AggregateType string
	AggregateID   string
	Version       uint64
	Now           func() time.Time
}

// FromCommand builds an event by copying every field the event declares from
// the command values with the same name. Command fields the event does not
// declare are dropped; declared fields the command lacks are left unset.
func FromCommand(def Definition, cmd command.Command, stamp Stamp) (Event, error) {
	if strings.TrimSpace(def.Name) == "" {
		return Event{}, ErrNameRequired
	}
	eventID, err := id.NewID()
	if err != nil {
		return Event{}, err
	}
	now := stamp.Now
	if now == nil {
		now = time.Now
	}

	values := make(param.Map, len(def.Fields))
	for _, field := range def.Fields {
		if value, ok := cmd.Values[field]; ok {
			values[field] = value
		}
	}
	return Event{
		ID:            eventID,
		Name:          def.Name,
		AggregateType: stamp.AggregateType,
		AggregateID:   stamp.AggregateID,
		Version:       stamp.Version,
		Fields:        append([]string(nil), def.Fields...),
		Values:        values,
		Timestamp:     now().UTC(),
	}, nil
}
