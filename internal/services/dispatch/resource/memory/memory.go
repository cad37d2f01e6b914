// Package memory is an in-memory action collaborator: it keeps records per
// resource and performs create, update, destroy and read actions on them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/mapper"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// ErrUnknownAction indicates a custom action with no registered function.
var ErrUnknownAction = errors.New("unknown action")

// ActionFunc performs a custom action.
type ActionFunc func(ctx context.Context, store *Store, params param.Map, actx mapper.ActionContext) (any, error)

// Store holds records keyed by resource and identity.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]param.Map
	actions map[string]ActionFunc
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]param.Map),
		actions: make(map[string]ActionFunc),
	}
}

// Register binds a custom action of resource to fn. Registered actions take
// precedence over the built-in behavior of their action type.
func (s *Store) Register(resource, action string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[resource+"."+action] = fn
}

// Invoke implements mapper.ActionInvoker.
func (s *Store) Invoke(ctx context.Context, resource, action string, params param.Map, actx mapper.ActionContext) (any, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	fn, ok := s.actions[resource+"."+action]
	s.mu.RUnlock()
	if ok {
		return fn(ctx, s, params, actx)
	}

	identityField := actx.Command.IdentityField
	switch actx.ActionType {
	case command.ActionCreate:
		identity, ok := params.Get(identityField)
		if !ok || identity == nil || identity == "" {
			return nil, apperrors.Action("identity is required", apperrors.WithField(identityField))
		}
		key := fmt.Sprint(identity)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.records[resource][key]; exists {
			return nil, apperrors.Action("already exists", apperrors.WithField(identityField), apperrors.WithValue(identity))
		}
		s.put(resource, key, params)
		return params.Clone(), nil
	case command.ActionUpdate:
		record, _ := actx.Record.(param.Map)
		updated := record.Clone()
		for key, value := range params {
			updated[key] = value
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.put(resource, fmt.Sprint(params[identityField]), updated)
		return updated.Clone(), nil
	case command.ActionDestroy:
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.records[resource], fmt.Sprint(params[identityField]))
		return actx.Record, nil
	case command.ActionRead:
		return actx.Record, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAction, resource, action)
	}
}

// FindByIdentity implements mapper.RecordLookup.
func (s *Store) FindByIdentity(ctx context.Context, resource, _ string, identity any, _ mapper.ActionContext) (any, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	record, ok := s.Get(resource, fmt.Sprint(identity))
	if !ok {
		return nil, mapper.ErrRecordNotFound
	}
	return record, nil
}

// Get returns a copy of one record.
func (s *Store) Get(resource, identity string) (param.Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[resource][identity]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Put stores a copy of record.
func (s *Store) Put(resource, identity string, record param.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(resource, identity, record)
}

// Identities lists the stored identities of resource in order.
func (s *Store) Identities(resource string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records[resource]))
	for key := range s.records[resource] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (s *Store) put(resource, identity string, record param.Map) {
	byID, ok := s.records[resource]
	if !ok {
		byID = make(map[string]param.Map)
		s.records[resource] = byID
	}
	byID[identity] = record.Clone()
}
