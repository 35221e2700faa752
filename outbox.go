package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Outbox is the durable queue of mutations awaiting replay.
type Outbox interface {
	Enqueue(ctx context.Context, e OutboxEntry) (int64, error)
	ListOutbox(ctx context.Context) ([]OutboxEntry, error)
	RemoveOutbox(ctx context.Context, id int64) error
}

// Enqueue appends an entry to the outbox and returns its queue id.
// The payload is stored as a snapshot; later edits to the record do not
// change it.
func (s *Store) Enqueue(ctx context.Context, e OutboxEntry) (int64, error) {
	if !e.Op.IsValid() {
		return 0, fmt.Errorf("store: enqueue %q: %w", e.Op, ErrInvalidOp)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: encode outbox payload: %w", err)
	}
	queuedAt := e.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now().UTC()
	}

	var localID *int64
	if e.LocalID != nil {
		v := *e.LocalID
		localID = &v
	}

	var id int64
	err = s.withDB(ctx, "enqueue", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO outbox (op, local_id, payload, queued_at)
			VALUES (?, ?, ?, ?)
		`, string(e.Op), localID, string(payload), formatTime(queuedAt))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: enqueue: %w", err)
	}
	return id, nil
}

// ListOutbox returns all queued entries in insertion order.
func (s *Store) ListOutbox(ctx context.Context) ([]OutboxEntry, error) {
	return s.queryOutbox(ctx, "list outbox", "SELECT id, op, local_id, payload, queued_at FROM outbox ORDER BY id")
}

// PendingForRecord returns the queued entries that reference localID, in
// insertion order.
func (s *Store) PendingForRecord(ctx context.Context, localID int64) ([]OutboxEntry, error) {
	return s.queryOutbox(ctx, "pending for record",
		"SELECT id, op, local_id, payload, queued_at FROM outbox WHERE local_id = ? ORDER BY id", localID)
}

// RemoveOutbox deletes a queued entry. Removing an absent entry is not an error.
func (s *Store) RemoveOutbox(ctx context.Context, id int64) error {
	err := s.withDB(ctx, "remove outbox", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: remove outbox %d: %w", id, err)
	}
	return nil
}

func (s *Store) queryOutbox(ctx context.Context, op, query string, args ...any) ([]OutboxEntry, error) {
	var out []OutboxEntry
	err := s.withDB(ctx, op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var (
				e        OutboxEntry
				opStr    string
				localID  sql.NullInt64
				payload  string
				queuedAt string
			)
			if err := rows.Scan(&e.ID, &opStr, &localID, &payload, &queuedAt); err != nil {
				return err
			}
			e.Op = Op(opStr)
			if localID.Valid {
				v := localID.Int64
				e.LocalID = &v
			}
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return fmt.Errorf("decode outbox entry %d: %w", e.ID, err)
			}
			e.QueuedAt = parseTime(queuedAt)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	return out, nil
}
