package command

import (
	"errors"
	"strings"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// ActionType classifies the external operation a command drives.
type ActionType string

const (
	ActionCreate  ActionType = "create"
	ActionUpdate  ActionType = "update"
	ActionDestroy ActionType = "destroy"
	ActionRead    ActionType = "read"
	ActionCustom  ActionType = "custom"
)

var (
	// ErrNameRequired indicates a command without a name.
	ErrNameRequired = errors.New("command name is required")
	// ErrUnknownField indicates a value for a field the command does not declare.
	ErrUnknownField = errors.New("command field is not declared")
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDestroy, ActionRead, ActionCustom:
		return true
	default:
		return false
	}
}

// RequiresIdentity reports whether the action targets an existing record.
func (t ActionType) RequiresIdentity() bool {
	switch t {
	case ActionUpdate, ActionDestroy, ActionRead:
		return true
	default:
		return false
	}
}

// InferActionType derives the action type from an action name prefix.
func InferActionType(action string) ActionType {
	name := strings.ToLower(strings.TrimSpace(action))
	switch {
	case strings.HasPrefix(name, "create"):
		return ActionCreate
	case strings.HasPrefix(name, "update"):
		return ActionUpdate
	case strings.HasPrefix(name, "destroy"), strings.HasPrefix(name, "delete"):
		return ActionDestroy
	case strings.HasPrefix(name, "read"), strings.HasPrefix(name, "get"):
		return ActionRead
	default:
		return ActionCustom
	}
}

// Command is one invocation of a declared command.
type Command struct {
	Name          string
	Fields        []string // declared field names, in declaration order
	Values        param.Map
	IdentityField string
	Action        string
	ActionType    ActionType // empty means infer from Action
}

// New builds a command and copies values so later changes to the caller's map
// are not observed.
func New(name string, fields []string, values map[string]any) (Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Command{}, ErrNameRequired
	}
	return Command{
		Name:   name,
		Fields: append([]string(nil), fields...),
		Values: param.Map(values).Clone(),
	}, nil
}

// Params returns a copy of the command values.
func (c Command) Params() param.Map {
	return c.Values.Clone()
}

// Identity returns the identity field value, if set.
func (c Command) Identity() (any, bool) {
	if c.IdentityField == "" {
		return nil, false
	}
	value, ok := c.Values[c.IdentityField]
	if !ok || value == nil {
		return nil, false
	}
	if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return value, true
}

// Declares reports whether field is one of the command fields.
func (c Command) Declares(field string) bool {
	for _, declared := range c.Fields {
		if declared == field {
			return true
		}
	}
	return false
}

// ResolvedActionType returns the explicit action type or the inferred one.
func (c Command) ResolvedActionType() ActionType {
	if c.ActionType != "" {
		return c.ActionType
	}
	return InferActionType(c.Action)
}

// WithValue returns a copy of c with field set to value.
func (c Command) WithValue(field string, value any) Command {
	c.Values = c.Values.Clone()
	c.Values[field] = value
	return c
}
