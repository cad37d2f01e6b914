package aggregate

import (
	"log"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
)

// Folder applies events to aggregate state.
type Folder struct {
	Registry *Registry
	Logger   *log.Logger // defaults to the standard logger
}

// Apply returns state with evt applied. By default every event field that is
// part of the state shape is copied onto the state; fields outside the shape
// are ignored. A fold registered for the event name replaces the default.
//
// Apply never fails: when folding errors or panics the fault is logged and
// the original state is returned unchanged.
func (f *Folder) Apply(state State, evt event.Event) (next State) {
	defer func() {
		if r := recover(); r != nil {
			f.logf("apply %s v%d to %s/%s: recovered: %v", evt.Name, evt.Version, state.Type, state.IdentityString(), r)
			next = state
		}
	}()

	updated, err := f.fold(state.Clone(), evt)
	if err != nil {
		f.logf("apply %s v%d to %s/%s: %v", evt.Name, evt.Version, state.Type, state.IdentityString(), err)
		return state
	}
	if evt.Version > updated.Version {
		updated.Version = evt.Version
	}
	return updated
}

// ApplyAll folds events in order.
func (f *Folder) ApplyAll(state State, events []event.Event) State {
	for _, evt := range events {
		state = f.Apply(state, evt)
	}
	return state
}

func (f *Folder) fold(state State, evt event.Event) (State, error) {
	if def, ok := f.Registry.Definition(state.Type); ok {
		if fold, ok := def.Folds[evt.Name]; ok && fold != nil {
			return fold(state, evt)
		}
	}
	for _, field := range evt.Fields {
		if !state.Has(field) {
			continue
		}
		if value, ok := evt.Values[field]; ok {
			state.Values[field] = value
		}
	}
	return state, nil
}

func (f *Folder) logf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
