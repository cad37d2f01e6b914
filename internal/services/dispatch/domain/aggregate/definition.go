package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/mapper"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/middleware"
)

var (
	// ErrTypeRequired indicates a definition without an aggregate type.
	ErrTypeRequired = errors.New("aggregate type is required")
	// ErrIdentityFieldRequired indicates a definition without an identity field.
	ErrIdentityFieldRequired = errors.New("aggregate identity field is required")
	// ErrTypeUnknown indicates an unregistered aggregate type.
	ErrTypeUnknown = errors.New("aggregate type is not registered")
	// ErrCommandUnknown indicates a command the aggregate does not declare.
	ErrCommandUnknown = errors.New("command is not registered for aggregate")
)

// FoldFunc applies one event to state, replacing the default field copy for
// that event name.
type FoldFunc func(state State, evt event.Event) (State, error)

// CommandDefinition binds a command name to its action and produced event.
type CommandDefinition struct {
	Name          string
	Fields        []string
	IdentityField string // defaults to the aggregate's identity field
	Action        string
	ActionType    command.ActionType // empty infers from Action
	Event         string
	Options       mapper.Options
	Middleware    []middleware.Middleware
}

// Command builds a command instance from values. Values for fields the
// definition does not declare are rejected.
func (d CommandDefinition) Command(values map[string]any) (command.Command, error) {
	cmd, err := command.New(d.Name, d.Fields, values)
	if err != nil {
		return command.Command{}, err
	}
	for _, key := range cmd.Values.Keys() {
		if !cmd.Declares(key) {
			return command.Command{}, fmt.Errorf("%w: %s.%s", command.ErrUnknownField, d.Name, key)
		}
	}
	cmd.IdentityField = d.IdentityField
	cmd.Action = d.Action
	cmd.ActionType = d.ActionType
	return cmd, nil
}

// Definition declares one aggregate type.
type Definition struct {
	Type          string
	IdentityField string
	Resource      string   // resource passed to the action collaborators
	Fields        []string // state shape; defaults to the union of event fields
	Commands      []CommandDefinition
	Events        []event.Definition
	Folds         map[string]FoldFunc
	Middleware    []middleware.Middleware

	commands map[string]CommandDefinition
	events   *event.Registry
}

// Shape returns the state fields, always including the identity field.
func (d *Definition) Shape() []string {
	seen := map[string]struct{}{}
	var shape []string
	add := func(field string) {
		if _, ok := seen[field]; ok || field == "" {
			return
		}
		seen[field] = struct{}{}
		shape = append(shape, field)
	}
	add(d.IdentityField)
	if len(d.Fields) > 0 {
		for _, field := range d.Fields {
			add(field)
		}
		return shape
	}
	for _, def := range d.Events {
		for _, field := range def.Fields {
			add(field)
		}
	}
	return shape
}

// Command returns the command definition for name.
func (d *Definition) Command(name string) (CommandDefinition, bool) {
	def, ok := d.commands[name]
	return def, ok
}

// Event returns the event definition for name.
func (d *Definition) Event(name string) (event.Definition, bool) {
	return d.events.Definition(name)
}

func (d *Definition) index() error {
	d.Type = strings.TrimSpace(d.Type)
	if d.Type == "" {
		return ErrTypeRequired
	}
	d.IdentityField = strings.TrimSpace(d.IdentityField)
	if d.IdentityField == "" {
		return fmt.Errorf("%s: %w", d.Type, ErrIdentityFieldRequired)
	}

	d.events = event.NewRegistry()
	for _, def := range d.Events {
		if err := d.events.Register(def); err != nil {
			return fmt.Errorf("%s: %w", d.Type, err)
		}
	}

	d.commands = make(map[string]CommandDefinition, len(d.Commands))
	for i, def := range d.Commands {
		def.Name = strings.TrimSpace(def.Name)
		if def.Name == "" {
			return fmt.Errorf("%s: %w", d.Type, command.ErrNameRequired)
		}
		if _, exists := d.commands[def.Name]; exists {
			return fmt.Errorf("%s: command already registered: %s", d.Type, def.Name)
		}
		if _, ok := d.events.Definition(def.Event); !ok {
			return fmt.Errorf("%s.%s: %w: %q", d.Type, def.Name, event.ErrNameUnknown, def.Event)
		}
		if def.IdentityField == "" {
			def.IdentityField = d.IdentityField
		}
		if !contains(def.Fields, def.IdentityField) {
			return fmt.Errorf("%s.%s: identity field %q is not declared", d.Type, def.Name, def.IdentityField)
		}
		if def.ActionType != "" && !def.ActionType.Valid() {
			return fmt.Errorf("%s.%s: invalid action type %q", d.Type, def.Name, def.ActionType)
		}
		if strings.TrimSpace(def.Action) == "" {
			def.Action = def.Name
		}
		d.Commands[i] = def
		d.commands[def.Name] = def
	}

	for name := range d.Folds {
		if _, ok := d.events.Definition(name); !ok {
			return fmt.Errorf("%s: fold for %w: %q", d.Type, event.ErrNameUnknown, name)
		}
	}
	return nil
}

// Registry stores aggregate definitions by type.
type Registry struct {
	definitions map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register validates and adds a definition.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Commands = append([]CommandDefinition(nil), def.Commands...)
	if err := def.index(); err != nil {
		return err
	}
	if r.definitions == nil {
		r.definitions = make(map[string]*Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("aggregate type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = &def
	return nil
}

// Definition returns the definition for an aggregate type.
func (r *Registry) Definition(aggregateType string) (*Definition, bool) {
	if r == nil {
		return nil, false
	}
	def, ok := r.definitions[aggregateType]
	return def, ok
}

// Types returns the registered aggregate types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Resolve returns the aggregate and command definitions for a command name.
func (r *Registry) Resolve(aggregateType, commandName string) (*Definition, CommandDefinition, error) {
	def, ok := r.Definition(aggregateType)
	if !ok {
		return nil, CommandDefinition{}, fmt.Errorf("%w: %s", ErrTypeUnknown, aggregateType)
	}
	cmdDef, ok := def.Command(commandName)
	if !ok {
		return nil, CommandDefinition{}, fmt.Errorf("%w: %s.%s", ErrCommandUnknown, aggregateType, commandName)
	}
	return def, cmdDef, nil
}

func contains(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
