// Package events records audit events raised during synchronization.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/smarzola/dirsync/internal/models"
)

// Sink records audit events. Recording never fails from the caller's point
// of view.
type Sink interface {
	Record(ctx context.Context, kind models.EventKind, message string, fields map[string]any)
}

// Recorder persists events.
type Recorder interface {
	RecordEvent(ctx context.Context, event *models.Event) error
}

// StoreSink writes events to a Recorder and logs them.
type StoreSink struct {
	recorder Recorder
	source   string
}

// NewStoreSink creates a sink tagging every event with source.
func NewStoreSink(recorder Recorder, source string) *StoreSink {
	return &StoreSink{recorder: recorder, source: source}
}

func (s *StoreSink) Record(ctx context.Context, kind models.EventKind, message string, fields map[string]any) {
	logEvent(kind, message, s.source)

	event := &models.Event{
		Kind:      kind,
		Message:   message,
		Source:    s.source,
		Context:   fields,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.recorder.RecordEvent(ctx, event); err != nil {
		slog.Error("Failed to record event", "kind", kind, "source", s.source, "error", err)
	}
}

// LogSink only logs events.
type LogSink struct {
	Source string
}

func (s LogSink) Record(_ context.Context, kind models.EventKind, message string, _ map[string]any) {
	logEvent(kind, message, s.Source)
}

func logEvent(kind models.EventKind, message, source string) {
	level := slog.LevelWarn
	if kind == models.EventConfigurationError || kind == models.EventVendorHookError {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, message, "event", kind, "source", source)
}
