package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

// Append records evt after the optimistic version check. It joins the
// transaction carried by ctx, or runs in its own.
func (s *Store) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return event.Event{}, err
	}
	payload, err := s.codec.Encode(map[string]any{
		"fields": evt.Fields,
		"values": map[string]any(evt.Values),
	})
	if err != nil {
		return event.Event{}, fmt.Errorf("encode event payload: %w", err)
	}

	_, err = s.Transaction(ctx, func(ctx context.Context) (any, error) {
		var last sql.NullInt64
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT MAX(version) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
			evt.AggregateType, evt.AggregateID,
		).Scan(&last); err != nil {
			return nil, fmt.Errorf("read last version: %w", err)
		}
		if err := journal.CheckAppend(evt, uint64(last.Int64)); err != nil {
			return nil, err
		}
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO events (aggregate_type, aggregate_id, version, id, name, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			evt.AggregateType, evt.AggregateID, int64(evt.Version), evt.ID, evt.Name, payload, toMillis(evt.Timestamp),
		); err != nil {
			if isConstraintError(err) {
				return nil, &journal.ConflictError{
					AggregateType: evt.AggregateType,
					AggregateID:   evt.AggregateID,
					Expected:      uint64(last.Int64) + 1,
					Actual:        evt.Version,
				}
			}
			return nil, fmt.Errorf("insert event: %w", err)
		}
		return nil, nil
	}, transaction.Options{})
	if err != nil {
		return event.Event{}, err
	}
	return evt, nil
}

// List returns events after afterVersion ordered by version.
func (s *Store) List(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	query := `SELECT aggregate_type, aggregate_id, version, id, name, payload, timestamp
		FROM events WHERE aggregate_type = ? AND aggregate_id = ? AND version > ? ORDER BY version`
	args := []any{aggregateType, aggregateID, int64(afterVersion)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			evt       event.Event
			version   int64
			payload   []byte
			timestamp int64
		)
		if err := rows.Scan(&evt.AggregateType, &evt.AggregateID, &version, &evt.ID, &evt.Name, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Version = uint64(version)
		evt.Timestamp = fromMillis(timestamp)
		if err := s.decodePayload(payload, &evt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func (s *Store) decodePayload(payload []byte, evt *event.Event) error {
	decoded, err := s.codec.DecodeMap(payload)
	if err != nil {
		return fmt.Errorf("decode event %s payload: %w", evt.ID, err)
	}
	if fields, ok := decoded["fields"].([]any); ok {
		evt.Fields = make([]string, 0, len(fields))
		for _, field := range fields {
			evt.Fields = append(evt.Fields, fmt.Sprint(field))
		}
	}
	evt.Values = param.Map{}
	if values, ok := decoded["values"].(map[string]any); ok {
		evt.Values = param.Map(values)
	}
	return nil
}

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}
