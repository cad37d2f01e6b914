package aggregate

import (
	"context"
	"fmt"
	"reflect"
	"time"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/mapper"
)

// Executor runs commands against aggregate state.
type Executor struct {
	Registry *Registry
	Mapper   *mapper.Mapper
	Now      func() time.Time
}

// Execute checks that cmd targets state, maps it to its action and returns
// the event the command produces. State is not modified.
func (x *Executor) Execute(ctx context.Context, state State, cmd command.Command) (event.Event, error) {
	def, cmdDef, err := x.Registry.Resolve(state.Type, cmd.Name)
	if err != nil {
		return event.Event{}, apperrors.Command(err.Error(), apperrors.WithContext("aggregate", state.Type))
	}
	identityField := cmd.IdentityField
	if identityField == "" {
		identityField = cmdDef.IdentityField
	}

	if current, ok := state.Identity(); ok {
		incoming := cmd.Values[identityField]
		if !sameIdentity(current, incoming) {
			return event.Event{}, apperrors.Aggregate("Invalid identity",
				apperrors.WithField(identityField),
				apperrors.WithValue(incoming),
				apperrors.WithContext("expected", current),
				apperrors.WithContext("actual", incoming),
			)
		}
	}

	if x.Mapper == nil {
		return event.Event{}, apperrors.Dispatch("mapper is required")
	}
	action := cmd.Action
	if action == "" {
		action = cmdDef.Action
	}
	opts := cmdDef.Options
	if opts.ActionType == "" {
		opts.ActionType = cmd.ActionType
	}
	if opts.ActionType == "" {
		opts.ActionType = cmdDef.ActionType
	}
	if _, err := x.Mapper.MapToAction(ctx, cmd, def.Resource, action, opts); err != nil {
		return event.Event{}, err
	}

	evtDef, ok := def.Event(cmdDef.Event)
	if !ok {
		return event.Event{}, apperrors.Command("Unknown event", apperrors.WithValue(cmdDef.Event))
	}
	aggregateID := state.IdentityString()
	if aggregateID == "" {
		if value, ok := cmd.Values[identityField]; ok && value != nil {
			aggregateID = fmt.Sprint(value)
		}
	}
	evt, err := event.FromCommand(evtDef, cmd, event.Stamp{
		AggregateType: def.Type,
		AggregateID:   aggregateID,
		Version:       state.Version + 1,
		Now:           x.Now,
	})
	if err != nil {
		return event.Event{}, apperrors.Dispatch(err.Error(), apperrors.WithCause(err))
	}
	return evt, nil
}

func sameIdentity(current, incoming any) bool {
	if incoming == nil {
		return false
	}
	if reflect.DeepEqual(current, incoming) {
		return true
	}
	return fmt.Sprint(current) == fmt.Sprint(incoming)
}
