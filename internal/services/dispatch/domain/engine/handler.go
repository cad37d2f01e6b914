package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/platform/id"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/aggregate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/middleware"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

var (
	// ErrRegistryRequired indicates a missing aggregate registry.
	ErrRegistryRequired = errors.New("aggregate registry is required")
	// ErrExecutorRequired indicates a missing executor.
	ErrExecutorRequired = errors.New("executor is required")
)

// Request is one command submission.
type Request struct {
	AggregateType string
	AggregateID   string // optional when the identity is among Fields or generated
	Command       string
	Fields        map[string]any
	Metadata      map[string]any
}

// Result captures a handled command.
type Result struct {
	// Event is the appended event. It is nil when middleware short-circuited
	// with a successful non-event value.
	Event    *event.Event
	Value    any
	State    aggregate.State
	Snapshot *snapshot.Snapshot // set when this command triggered a capture
}

// Handler runs commands against aggregate instances.
type Handler struct {
	Registry   *aggregate.Registry
	Executor   *aggregate.Executor
	Folder     *aggregate.Folder
	Journal    journal.Store
	Snapshots  snapshot.Store // optional
	Middleware middleware.Config

	// Transaction, when it supports transactions, wraps execution and the
	// journal append in one unit.
	Transaction        transaction.Resource
	TransactionOptions transaction.Options

	SnapshotThreshold int
	SchemaVersion     int

	locks keyedLock
}

// Handle runs one command. Failures are *apperrors.Error or apperrors.List.
func (h *Handler) Handle(ctx context.Context, req Request) (Result, error) {
	if h.Registry == nil {
		return Result{}, apperrors.Dispatch(ErrRegistryRequired.Error())
	}
	if h.Executor == nil {
		return Result{}, apperrors.Dispatch(ErrExecutorRequired.Error())
	}
	def, cmdDef, err := h.Registry.Resolve(req.AggregateType, req.Command)
	if err != nil {
		return Result{}, apperrors.Command(err.Error(),
			apperrors.WithContext("aggregate", req.AggregateType),
			apperrors.WithContext("command", req.Command),
		)
	}

	fields, aggregateID, err := resolveIdentity(req, cmdDef)
	if err != nil {
		return Result{}, err
	}
	cmd, err := cmdDef.Command(fields)
	if err != nil {
		return Result{}, apperrors.Command(err.Error(), apperrors.WithCause(err))
	}

	unlock := h.locks.lock(def.Type + "/" + aggregateID)
	defer unlock()

	loaded, err := h.loader().Load(ctx, def, aggregateID)
	if err != nil {
		return Result{}, apperrors.Dispatch(err.Error(), apperrors.WithCause(err))
	}

	mctx := middleware.Context{
		AggregateType: def.Type,
		AggregateID:   aggregateID,
		Resource:      def.Resource,
		Metadata:      req.Metadata,
	}
	chain := h.Middleware.For(def.Middleware, cmdDef.Middleware)
	out, err := h.inTransaction(ctx, func(ctx context.Context) (any, error) {
		res := middleware.Apply(ctx, cmd, mctx, chain, func(ctx context.Context, cmd command.Command, _ middleware.Context) middleware.Result {
			evt, err := h.Executor.Execute(ctx, loaded.State, cmd)
			if err != nil {
				return middleware.Failed(err)
			}
			return middleware.Result{Value: evt}
		})
		if res.Err != nil {
			return nil, res.Err
		}
		evt, ok := res.Value.(event.Event)
		if !ok {
			return res.Value, nil
		}
		return h.append(ctx, evt)
	})
	if err != nil {
		return Result{State: loaded.State}, domainError(err)
	}
	evt, ok := out.(event.Event)
	if !ok {
		return Result{Value: out, State: loaded.State}, nil
	}

	state := h.Folder.Apply(loaded.State, evt)
	state.Version = evt.Version
	result := Result{Event: &evt, Value: evt, State: state}
	result.Snapshot = h.capture(ctx, state, loaded.SnapshotVersion)
	return result, nil
}

// State returns the current state of one aggregate instance without
// running a command.
func (h *Handler) State(ctx context.Context, aggregateType, aggregateID string) (aggregate.State, error) {
	if h.Registry == nil {
		return aggregate.State{}, apperrors.Dispatch(ErrRegistryRequired.Error())
	}
	def, ok := h.Registry.Definition(aggregateType)
	if !ok {
		return aggregate.State{}, apperrors.Command(aggregate.ErrTypeUnknown.Error(), apperrors.WithContext("aggregate", aggregateType))
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return aggregate.State{}, apperrors.Command("Missing identity field", apperrors.WithField(def.IdentityField))
	}

	unlock := h.locks.lock(def.Type + "/" + aggregateID)
	defer unlock()

	loaded, err := h.loader().Load(ctx, def, aggregateID)
	if err != nil {
		return aggregate.State{}, apperrors.Dispatch(err.Error(), apperrors.WithCause(err))
	}
	return loaded.State, nil
}

// inTransaction runs fn inside the configured transaction, or directly
// when there is none.
func (h *Handler) inTransaction(ctx context.Context, fn transaction.Func) (any, error) {
	if h.Transaction == nil || !h.Transaction.SupportsTransactions() {
		return fn(ctx)
	}
	return transaction.Run(ctx, h.Transaction, fn, h.TransactionOptions)
}

// append records evt once the whole middleware chain accepted it.
func (h *Handler) append(ctx context.Context, evt event.Event) (event.Event, error) {
	if h.Journal == nil {
		return event.Event{}, apperrors.Dispatch(ErrJournalRequired.Error())
	}
	stored, err := h.Journal.Append(ctx, evt)
	if err != nil {
		if errors.Is(err, journal.ErrVersionConflict) {
			return event.Event{}, apperrors.Aggregate("Concurrent modification",
				apperrors.WithContext("expected_version", evt.Version),
				apperrors.WithCause(err),
			)
		}
		return event.Event{}, apperrors.Dispatch(fmt.Sprintf("append event: %v", err), apperrors.WithCause(err))
	}
	return stored, nil
}

// domainError keeps domain errors as they are and normalizes anything else.
func domainError(err error) error {
	switch err.(type) {
	case *apperrors.Error, apperrors.List:
		return err
	}
	list := apperrors.Normalize(err)
	if len(list) == 1 {
		return list[0]
	}
	return list
}

// capture snapshots state when the threshold is reached. Capture failures
// are logged; the command already succeeded.
func (h *Handler) capture(ctx context.Context, state aggregate.State, lastSnapshot uint64) *snapshot.Snapshot {
	if h.Snapshots == nil || !state.Initialized() {
		return nil
	}
	if !snapshot.ShouldSnapshot(int(state.Version-lastSnapshot), h.SnapshotThreshold) {
		return nil
	}
	snap, err := snapshot.Create(state, state.Type, state.Version, h.SchemaVersion)
	if err != nil {
		log.Printf("create %s/%s snapshot: %v", state.Type, state.IdentityString(), err)
		return nil
	}
	if err := h.Snapshots.Put(ctx, snap); err != nil {
		log.Printf("save %s/%s snapshot: %v", state.Type, state.IdentityString(), err)
		return nil
	}
	return &snap
}

func (h *Handler) loader() StateLoader {
	return StateLoader{
		Journal:       h.Journal,
		Snapshots:     h.Snapshots,
		Folder:        h.Folder,
		SchemaVersion: h.SchemaVersion,
	}
}

// resolveIdentity fills the identity field from the request and generates
// one for create commands that carry none.
func resolveIdentity(req Request, cmdDef aggregate.CommandDefinition) (map[string]any, string, error) {
	fields := make(map[string]any, len(req.Fields)+1)
	for key, value := range req.Fields {
		fields[key] = value
	}
	identityField := cmdDef.IdentityField
	aggregateID := strings.TrimSpace(req.AggregateID)
	if value, ok := fields[identityField]; ok && value != nil && value != "" {
		given := fmt.Sprint(value)
		if aggregateID != "" && aggregateID != given {
			return nil, "", apperrors.Command("Conflicting identity",
				apperrors.WithField(identityField),
				apperrors.WithValue(value),
				apperrors.WithContext("aggregate_id", aggregateID),
			)
		}
		return fields, given, nil
	}
	if aggregateID == "" {
		actionType := cmdDef.ActionType
		if actionType == "" {
			actionType = command.InferActionType(cmdDef.Action)
		}
		if actionType != command.ActionCreate {
			return nil, "", apperrors.Command("Missing identity field", apperrors.WithField(identityField))
		}
		generated, err := id.NewID()
		if err != nil {
			return nil, "", apperrors.Dispatch(fmt.Sprintf("generate identity: %v", err), apperrors.WithCause(err))
		}
		aggregateID = generated
	}
	fields[identityField] = aggregateID
	return fields, aggregateID, nil
}
