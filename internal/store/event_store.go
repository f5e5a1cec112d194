package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/tmail/internal/model"
)

// RecordEvent appends an entry to the local history.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e model.Event) error {
	if e.Action == "" {
		return fmt.Errorf("event action must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, action, email, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		e.ID, string(e.Action), e.Email, e.Detail, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", e.Action, err)
	}
	return nil
}

// GetEvents returns the most recent events first. A non-positive limit
// returns the whole history.
func (s *SQLiteStore) GetEvents(ctx context.Context, limit int) ([]model.Event, error) {
	query := "SELECT id, action, email, detail, created_at FROM events ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e      model.Event
			action string
		)
		if err := rows.Scan(&e.ID, &action, &e.Email, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Action = model.EventAction(action)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}

	return events, rows.Err()
}
