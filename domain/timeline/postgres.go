package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRecorder is a Recorder backed by gateway_timeline_events, using
// database/sql + lib/pq directly. seq_id is assigned with a single
// round-trip MAX+1 INSERT ... SELECT; the (session_id, seq_id) primary key
// catches concurrent appends and the loser retries.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder wraps an already-open *sql.DB (migrations are applied
// once, by domain/session.OpenPostgresStore, against the same database).
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Append(ctx context.Context, sessionID, eventType, status, detail, actor string, now time.Time) (Event, error) {
	ev := Event{
		SessionID: sessionID,
		EventType: eventType,
		Status:    status,
		Detail:    detail,
		Actor:     actor,
		CreatedAt: now,
	}

	// Two writers for the same session can compute the same seq_id; the
	// primary key rejects the loser and we retry with a fresh MAX.
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO gateway_timeline_events (session_id, seq_id, event_type, status, detail, actor, created_at)
			SELECT $1, COALESCE(MAX(seq_id), 0) + 1, $2, $3, $4, $5, $6
			FROM gateway_timeline_events WHERE session_id = $1
			RETURNING seq_id
		`, ev.SessionID, ev.EventType, ev.Status, ev.Detail, ev.Actor, ev.CreatedAt)

		err := row.Scan(&ev.SeqID)
		if err == nil {
			return ev, nil
		}
		if !isUniqueViolation(err) {
			return Event{}, fmt.Errorf("insert timeline event: %w", err)
		}
	}
	return Event{}, fmt.Errorf("insert timeline event: seq_id contention exceeded %d retries", maxAppendRetries)
}

const maxAppendRetries = 5

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *PostgresRecorder) List(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, seq_id, event_type, status, detail, actor, created_at
		FROM gateway_timeline_events
		WHERE session_id = $1
		ORDER BY seq_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.SessionID, &ev.SeqID, &ev.EventType, &ev.Status, &ev.Detail, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
