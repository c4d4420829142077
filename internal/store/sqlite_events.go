package store

import (
	"context"
	"fmt"
	"time"

	"github.com/smarzola/dirsync/internal/models"
)

// RecordEvent stores an audit event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	contextJSON, err := encodeJSONObject(event.Context)
	if err != nil {
		return err
	}

	query := `INSERT INTO events (kind, message, source, context, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, string(event.Kind), event.Message, event.Source, contextJSON, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	event.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	return nil
}

// ListEvents returns events newest first. An empty kind matches every kind;
// a non-positive limit returns all events.
func (s *SQLiteStore) ListEvents(ctx context.Context, kind models.EventKind, limit int) ([]*models.Event, error) {
	query := `SELECT id, kind, message, source, context, created_at FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			event       models.Event
			kindStr     string
			contextJSON string
		)
		if err := rows.Scan(&event.ID, &kindStr, &event.Message, &event.Source, &contextJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = models.EventKind(kindStr)
		if event.Context, err = decodeJSONObject(contextJSON); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
