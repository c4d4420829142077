package store

import (
	"context"

	"github.com/smarzola/dirsync/internal/models"
)

// UpsertResult is the outcome of an upsert by uniqueness key.
type UpsertResult struct {
	Identity *models.Identity
	Created  bool
}

// Store defines the interface for identity storage
type Store interface {
	// Initialize sets up the database and runs migrations
	Initialize(ctx context.Context) error

	// Close closes the database connection
	Close() error

	// Identity operations
	UpsertByUniqueAttribute(ctx context.Context, source, key string, props map[string]any) (*UpsertResult, error)
	FindIdentityForKey(ctx context.Context, source, key string) (*models.Identity, error)
	GetIdentityByKey(ctx context.Context, source, key string) (*models.Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (*models.Identity, error)
	ListIdentities(ctx context.Context, source string) ([]*models.Identity, error)
	CreateLocalIdentity(ctx context.Context, username, name, email string) (*models.Identity, error)
	SetAttribute(ctx context.Context, username, name string, value any) error

	// Account state operations used by vendor hooks and the CLI
	SetActive(ctx context.Context, id int64, active bool) error
	MarkPasswordUnusable(ctx context.Context, id int64) error
	SetPassword(ctx context.Context, username, hash string) error

	// Audit events
	RecordEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, kind models.EventKind, limit int) ([]*models.Event, error)
}
