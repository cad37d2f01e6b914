package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/eventcore/internal/platform/timeouts"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/aggregate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/engine"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/mapper"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/middleware"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
	"github.com/louisbranch/eventcore/internal/services/dispatch/resource/memory"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/postgres"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/sqlite"
)

// Backend selects where events and snapshots are stored.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

const defaultSnapshotThreshold = 50

// Config configures the dispatch runtime.
type Config struct {
	Backend           Backend
	SQLitePath        string
	PostgresURL       string
	SnapshotThreshold int
	SchemaVersion     int
	TxTimeout         time.Duration
	TxIsolation       transaction.IsolationLevel
	Logger            *log.Logger
}

// App is a running dispatch runtime.
type App struct {
	handler   *engine.Handler
	resources *memory.Store
	closers   []func() error
}

// New builds the registry, resources and storage selected by cfg.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.SnapshotThreshold == 0 {
		cfg.SnapshotThreshold = defaultSnapshotThreshold
	}
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = timeouts.Transaction
	}

	registry := aggregate.NewRegistry()
	account, err := AccountDefinition()
	if err != nil {
		return nil, fmt.Errorf("account definition: %w", err)
	}
	if err := registry.Register(account); err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}

	resources := memory.New()
	RegisterAccountActions(resources)

	a := &App{resources: resources}
	handler := &engine.Handler{
		Registry: registry,
		Executor: &aggregate.Executor{Registry: registry, Mapper: mapper.New(resources, resources)},
		Folder:   &aggregate.Folder{Registry: registry},
		Middleware: middleware.Config{Global: []middleware.Middleware{
			middleware.Logging{Logger: cfg.Logger},
			middleware.Tracing{},
		}},
		TransactionOptions: transaction.Options{Timeout: cfg.TxTimeout, Isolation: cfg.TxIsolation},
		SnapshotThreshold:  cfg.SnapshotThreshold,
		SchemaVersion:      cfg.SchemaVersion,
	}

	switch Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend)))) {
	case "", BackendMemory:
		handler.Journal = journal.NewMemory()
		handler.Snapshots = snapshot.NewMemory()
	case BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		handler.Journal = store
		handler.Snapshots = store.Snapshots()
		handler.Transaction = store
	case BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		handler.Journal = store
		handler.Snapshots = store.Snapshots()
		handler.Transaction = store
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
	a.handler = handler
	return a, nil
}

// Dispatch handles one command. Records kept by the resource store are
// rebuilt from the journal the first time an aggregate is addressed.
func (a *App) Dispatch(ctx context.Context, req engine.Request) (engine.Result, error) {
	if err := a.hydrate(ctx, req); err != nil {
		return engine.Result{}, err
	}
	return a.handler.Handle(ctx, req)
}

// State returns the current state of one aggregate instance.
func (a *App) State(ctx context.Context, aggregateType, aggregateID string) (aggregate.State, error) {
	return a.handler.State(ctx, aggregateType, aggregateID)
}

// Types lists the registered aggregate types.
func (a *App) Types() []string {
	return a.handler.Registry.Types()
}

func (a *App) hydrate(ctx context.Context, req engine.Request) error {
	def, ok := a.handler.Registry.Definition(req.AggregateType)
	if !ok || def.Resource == "" {
		return nil
	}
	aggregateID := strings.TrimSpace(req.AggregateID)
	if aggregateID == "" {
		if value, ok := req.Fields[def.IdentityField]; ok && value != nil {
			aggregateID = fmt.Sprint(value)
		}
	}
	if aggregateID == "" {
		return nil
	}
	if _, exists := a.resources.Get(def.Resource, aggregateID); exists {
		return nil
	}
	state, err := a.handler.State(ctx, def.Type, aggregateID)
	if err != nil {
		return err
	}
	if state.Initialized() {
		a.resources.Put(def.Resource, aggregateID, state.Values.Clone())
	}
	return nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
