package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exportlens/eventd/internal/eventbus"
	"github.com/exportlens/eventd/internal/schema"
)

const defaultListLimit = 100

// SQLite persists events in a local sqlite database. It is the default
// store for single-node deployments.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Insert(ctx context.Context, evt eventbus.Event, status schema.Status) error {
	payloadJSON, err := encodeJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	metadataJSON, err := encodeJSON(evt.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = execWithRetry(ctx, s.db, `
		INSERT INTO events (id, type, source, priority, status, payload, metadata, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		evt.ID, evt.Type, evt.Source, string(evt.Priority), string(status),
		nullString(payloadJSON), nullString(metadataJSON),
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateStatus moves an event to the given status. Moving to the status the
// event already has is a no-op, so a retried mark-processed stays safe.
func (s *SQLite) UpdateStatus(ctx context.Context, eventID string, status schema.Status, processedAt time.Time) error {
	current, err := s.currentStatus(ctx, eventID)
	if err != nil {
		return err
	}
	if current == status {
		return nil
	}
	if !schema.CanTransition(current, status) {
		return &StatusTransitionError{EventID: eventID, From: current, To: status}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, processed_at = ? WHERE id = ? AND status = ?
	`, string(status), processedAt.UTC().Format(time.RFC3339Nano), eventID, string(current))
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if affected == 0 {
		// Lost a race with another writer; re-read and accept if it
		// already landed where we wanted.
		now, err := s.currentStatus(ctx, eventID)
		if err != nil {
			return err
		}
		if now == status {
			return nil
		}
		return &StatusTransitionError{EventID: eventID, From: now, To: status}
	}
	return nil
}

func (s *SQLite) currentStatus(ctx context.Context, eventID string) (schema.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM events WHERE id = ?`, eventID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return "", fmt.Errorf("load event status: %w", err)
	}
	return schema.Status(status), nil
}

func (s *SQLite) Get(ctx context.Context, eventID string) (eventbus.StoredEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, source, priority, status, payload, metadata, created_at, processed_at
		FROM events WHERE id = ?
	`, eventID)

	evt, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return eventbus.StoredEvent{}, false, nil
	}
	if err != nil {
		return eventbus.StoredEvent{}, false, fmt.Errorf("load event: %w", err)
	}
	return evt, true, nil
}

func (s *SQLite) ListByType(ctx context.Context, eventType string, q eventbus.Query) ([]eventbus.StoredEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, type, source, priority, status, payload, metadata, created_at, processed_at
		FROM events WHERE type = ?
	`
	args := []any{eventType}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	// Event ids are ULIDs, so the id tiebreak keeps equal timestamps in
	// newest-first order too.
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []eventbus.StoredEvent
	for rows.Next() {
		evt, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// PruneProcessed deletes processed events created before the cutoff and
// reports how many rows went away.
func (s *SQLite) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE status = ? AND created_at < ?
	`, string(schema.StatusProcessed), before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}

func scanEvent(scan func(dest ...any) error) (eventbus.StoredEvent, error) {
	var (
		evt         eventbus.StoredEvent
		priority    string
		status      string
		payload     sql.NullString
		metadata    sql.NullString
		createdAt   string
		processedAt sql.NullString
	)
	err := scan(&evt.ID, &evt.Type, &evt.Source, &priority, &status, &payload, &metadata, &createdAt, &processedAt)
	if err != nil {
		return eventbus.StoredEvent{}, err
	}

	evt.Priority = schema.Priority(priority)
	evt.Status = schema.Status(status)
	evt.Payload = decodeJSON(payload.String)
	evt.Metadata = decodeJSONMap(metadata.String)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return eventbus.StoredEvent{}, fmt.Errorf("parse created_at: %w", err)
	}
	evt.Timestamp = ts

	if processedAt.Valid && processedAt.String != "" {
		pt, err := time.Parse(time.RFC3339Nano, processedAt.String)
		if err != nil {
			return eventbus.StoredEvent{}, fmt.Errorf("parse processed_at: %w", err)
		}
		evt.ProcessedAt = pt
	}
	return evt, nil
}

// execWithRetry retries short-lived sqlite write contention. WAL mode plus
// busy_timeout covers most of it, but concurrent writers can still surface
// SQLITE_BUSY under load.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		_, err = db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
