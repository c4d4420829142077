package models

import "time"

// EventKind classifies audit events recorded during synchronization
type EventKind string

const (
	EventConfigurationError EventKind = "configuration_error"
	EventSyncWarning        EventKind = "sync_warning"
	EventVendorHookError    EventKind = "vendor_hook_error"
)

// Event is an audit event
type Event struct {
	ID        int64
	Kind      EventKind
	Message   string
	Source    string
	Context   map[string]any
	CreatedAt time.Time
}
