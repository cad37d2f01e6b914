package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

// Append records evt after the optimistic version check.
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
		var last int64
		query := fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2`, s.eventsTable)
		if err := s.q(ctx).QueryRow(ctx, query, evt.AggregateType, evt.AggregateID).Scan(&last); err != nil {
			return nil, fmt.Errorf("read last version: %w", err)
		}
		if err := journal.CheckAppend(evt, uint64(last)); err != nil {
			return nil, err
		}
		insert := fmt.Sprintf(`INSERT INTO %s (aggregate_type, aggregate_id, version, id, name, payload, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.eventsTable)
		if _, err := s.q(ctx).Exec(ctx, insert,
			evt.AggregateType, evt.AggregateID, int64(evt.Version), evt.ID, evt.Name, payload, evt.Timestamp.UTC(),
		); err != nil {
			if isUniqueViolation(err) {
				return nil, &journal.ConflictError{
					AggregateType: evt.AggregateType,
					AggregateID:   evt.AggregateID,
					Expected:      uint64(last) + 1,
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
	query := fmt.Sprintf(`SELECT aggregate_type, aggregate_id, version, id, name, payload, timestamp
		FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2 AND version > $3 ORDER BY version`, s.eventsTable)
	args := []any{aggregateType, aggregateID, int64(afterVersion)}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
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
			timestamp time.Time
		)
		if err := rows.Scan(&evt.AggregateType, &evt.AggregateID, &version, &evt.ID, &evt.Name, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Version = uint64(version)
		evt.Timestamp = timestamp.UTC()
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
