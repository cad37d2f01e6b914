// Package journal stores the ordered events of each aggregate.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
)

var (
	// ErrVersionConflict indicates an append whose version does not follow
	// the last recorded version.
	ErrVersionConflict = errors.New("event version conflict")
	// ErrAggregateRequired indicates an event without aggregate type or id.
	ErrAggregateRequired = errors.New("event aggregate type and id are required")
)

// Store appends and lists aggregate events.
type Store interface {
	// Append records evt. evt.Version must be exactly one past the last
	// recorded version for its aggregate.
	Append(ctx context.Context, evt event.Event) (event.Event, error)
	// List returns events with a version greater than afterVersion in order.
	// A non-positive limit returns every remaining event.
	List(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64, limit int) ([]event.Event, error)
}

// ConflictError reports the versions of a rejected append.
type ConflictError struct {
	AggregateType string
	AggregateID   string
	Expected      uint64
	Actual        uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: expected version %d, got %d", e.AggregateType, e.AggregateID, e.Expected, e.Actual)
}

// Unwrap exposes ErrVersionConflict.
func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// CheckAppend validates the aggregate key of evt against the last version.
func CheckAppend(evt event.Event, lastVersion uint64) error {
	if strings.TrimSpace(evt.AggregateType) == "" || strings.TrimSpace(evt.AggregateID) == "" {
		return ErrAggregateRequired
	}
	if strings.TrimSpace(evt.Name) == "" {
		return event.ErrNameRequired
	}
	if evt.Version != lastVersion+1 {
		return &ConflictError{
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			Expected:      lastVersion + 1,
			Actual:        evt.Version,
		}
	}
	return nil
}

type memoryKey struct {
	aggregateType string
	aggregateID   string
}

// Memory stores events in memory.
type Memory struct {
	mu     sync.RWMutex
	events map[memoryKey][]event.Event
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{events: make(map[memoryKey][]event.Event)}
}

// Append records evt after checking its version.
func (m *Memory) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return event.Event{}, err
		}
	}
	if m == nil {
		return event.Event{}, errors.New("journal is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{aggregateType: evt.AggregateType, aggregateID: evt.AggregateID}
	stream := m.events[key]
	var last uint64
	if n := len(stream); n > 0 {
		last = stream[n-1].Version
	}
	if err := CheckAppend(evt, last); err != nil {
		return event.Event{}, err
	}
	m.events[key] = append(stream, evt.Clone())
	return evt, nil
}

// List returns events after afterVersion.
func (m *Memory) List(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, errors.New("journal is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.events[memoryKey{aggregateType: aggregateType, aggregateID: aggregateID}]
	var out []event.Event
	for _, evt := range stream {
		if evt.Version <= afterVersion {
			continue
		}
		out = append(out, evt.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
