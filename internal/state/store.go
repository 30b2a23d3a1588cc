package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// Names of the internal tables.
const (
	NotificationsTable = "_leapbase_notifications"
	ViewsTable         = "_leapbase_views"
)

// Store reads and writes the internal tables. It holds no connection;
// every method runs on the querier it is given, so callers choose
// whether the work joins a transaction.
type Store struct {
	d *dialect.Dialect
}

// New creates a store for the given dialect.
func New(d *dialect.Dialect) *Store {
	return &Store{d: d}
}

// Payload is the JSON document carried by a queued notification.
type Payload struct {
	Table    string `json:"table"`
	Action   string `json:"action"`
	RecordID string `json:"record_id"`
}

// DecodeEvent parses a notification payload into a change event.
func DecodeEvent(seq int64, payload string) (core.ChangeEvent, error) {
	var p Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return core.ChangeEvent{}, fmt.Errorf("failed to decode notification %d: %w", seq, err)
	}
	if p.Table == "" || p.Action == "" {
		return core.ChangeEvent{}, fmt.Errorf("notification %d is missing table or action", seq)
	}
	return core.ChangeEvent{Seq: seq, Table: p.Table, Action: strings.ToUpper(p.Action), RecordID: p.RecordID}, nil
}

// Enqueue appends a change to the notification queue.
func (s *Store) Enqueue(ctx context.Context, q core.Querier, ev core.ChangeEvent) error {
	body, err := json.Marshal(Payload{Table: ev.Table, Action: ev.Action, RecordID: ev.RecordID})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	//nolint:gosec // table name is a constant
	query := fmt.Sprintf("INSERT INTO %s (payload) VALUES (%s)", NotificationsTable, s.d.FormatPlaceholder(1))
	if _, err := q.ExecContext(ctx, query, string(body)); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Pending returns up to limit unprocessed notifications with a sequence
// above after, oldest first. Undecodable rows are returned as events with
// an empty Table so the caller can mark them processed.
func (s *Store) Pending(ctx context.Context, q core.Querier, after int64, limit int) ([]core.ChangeEvent, error) {
	//nolint:gosec // table name is a constant
	query := fmt.Sprintf(
		"SELECT id, payload FROM %s WHERE processed = %s AND id > %s ORDER BY id LIMIT %d",
		NotificationsTable, s.d.FormatPlaceholder(1), s.d.FormatPlaceholder(2), limit,
	)
	rows, err := q.QueryContext(ctx, query, false, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []core.ChangeEvent
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		ev, err := DecodeEvent(seq, payload)
		if err != nil {
			ev = core.ChangeEvent{Seq: seq}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return events, nil
}

// MarkProcessed flags the given queue entries as delivered.
func (s *Store) MarkProcessed(ctx context.Context, q core.Querier, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, 0, len(seqs)+1)
	args = append(args, true)
	phs := make([]string, len(seqs))
	for i, seq := range seqs {
		phs[i] = s.d.FormatPlaceholder(i + 2)
		args = append(args, seq)
	}
	//nolint:gosec // placeholders come from the dialect
	query := fmt.Sprintf(
		"UPDATE %s SET processed = %s WHERE id IN (%s)",
		NotificationsTable, s.d.FormatPlaceholder(1), strings.Join(phs, ", "),
	)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark notifications processed: %w", err)
	}
	return nil
}

// ViewDefinition returns the recorded definition of a view.
func (s *Store) ViewDefinition(ctx context.Context, q core.Querier, name string) (string, bool, error) {
	//nolint:gosec // table name is a constant
	query := fmt.Sprintf("SELECT definition FROM %s WHERE name = %s", ViewsTable, s.d.FormatPlaceholder(1))
	var def string
	err := q.QueryRowContext(ctx, query, name).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read view definition: %w", err)
	}
	return def, true, nil
}

// SaveView records the definition a view was created with.
func (s *Store) SaveView(ctx context.Context, q core.Querier, name, definition string) error {
	if err := s.DeleteView(ctx, q, name); err != nil {
		return err
	}
	//nolint:gosec // table name is a constant
	query := fmt.Sprintf(
		"INSERT INTO %s (name, definition) VALUES (%s, %s)",
		ViewsTable, s.d.FormatPlaceholder(1), s.d.FormatPlaceholder(2),
	)
	if _, err := q.ExecContext(ctx, query, name, definition); err != nil {
		return fmt.Errorf("failed to record view definition: %w", err)
	}
	return nil
}

// DeleteView forgets a view definition.
func (s *Store) DeleteView(ctx context.Context, q core.Querier, name string) error {
	//nolint:gosec // table name is a constant
	query := fmt.Sprintf("DELETE FROM %s WHERE name = %s", ViewsTable, s.d.FormatPlaceholder(1))
	if _, err := q.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete view definition: %w", err)
	}
	return nil
}
