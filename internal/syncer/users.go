// Package syncer reconciles directory users into the local identity store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/smarzola/dirsync/internal/codec"
	"github.com/smarzola/dirsync/internal/directory"
	"github.com/smarzola/dirsync/internal/events"
	"github.com/smarzola/dirsync/internal/mapping"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/resolver"
	"github.com/smarzola/dirsync/internal/store"
	"github.com/smarzola/dirsync/internal/vendor"
	"github.com/smarzola/dirsync/pkg/config"
)

// PageSource enumerates directory entries page by page.
type PageSource interface {
	Pages(ctx context.Context, q directory.Query) iter.Seq2[directory.Page, error]
}

// Mapper turns raw attributes into identity properties.
type Mapper interface {
	Build(ctx context.Context, objectType string, raw map[string]any, mctx mapping.Context) (mapping.PropertySet, error)
}

// Resolver correlates entries with identities and writes them.
type Resolver interface {
	Key(entry directory.Entry) (string, error)
	Existing(ctx context.Context, key string) (*models.Identity, error)
	ResolveAndUpsert(ctx context.Context, key string, props map[string]any) (*store.UpsertResult, error)
}

// HookRunner applies post-sync side effects and returns how many failed.
type HookRunner interface {
	Run(ctx context.Context, attrs map[string]any, identity *models.Identity, created bool) int
}

// Deps are the collaborators of a UserSynchronizer.
type Deps struct {
	Pages    PageSource
	Mapper   Mapper
	Resolver Resolver
	Hooks    HookRunner
	Sink     events.Sink
}

// UserSynchronizer runs sync passes for one source. A pass is sequential;
// concurrent passes rely on the store's atomic upsert.
type UserSynchronizer struct {
	source   *config.Source
	deps     Deps
	messages []string
}

// NewUserSynchronizer creates a synchronizer for source.
func NewUserSynchronizer(source *config.Source, deps Deps) *UserSynchronizer {
	if deps.Sink == nil {
		deps.Sink = events.LogSink{Source: source.Name}
	}
	if deps.Hooks == nil {
		deps.Hooks = vendor.NewChain(deps.Sink)
	}
	return &UserSynchronizer{source: source, deps: deps}
}

// Name identifies what this synchronizer syncs.
func (s *UserSynchronizer) Name() string {
	return "users"
}

// Messages returns the operator-facing messages of the last pass.
func (s *UserSynchronizer) Messages() []string {
	return s.messages
}

func (s *UserSynchronizer) message(msg string, args ...any) {
	s.messages = append(s.messages, msg)
	slog.Info(msg, append([]any{"source", s.source.Name}, args...)...)
}

// Query is the directory search for this source's users.
func (s *UserSynchronizer) Query() directory.Query {
	return directory.Query{
		BaseDN:     s.source.UsersBaseDN(),
		Filter:     s.source.UserObjectFilter,
		Scope:      s.source.Scope,
		Attributes: directory.AllAttributes,
	}
}

// Objects returns the pages of user entries, or an empty sequence when user
// sync is disabled.
func (s *UserSynchronizer) Objects(ctx context.Context) iter.Seq2[directory.Page, error] {
	if !s.source.SyncUsers {
		s.message("User syncing is disabled for this Source")
		return func(func(directory.Page, error) bool) {}
	}
	return s.deps.Pages.Pages(ctx, s.Query())
}

// Sync runs one full pass. A broken property mapping aborts the pass with a
// *StopSyncError; directory and storage failures abort it with their error.
// Per-record problems are recorded and skipped.
func (s *UserSynchronizer) Sync(ctx context.Context) (Result, error) {
	s.messages = nil
	if !s.source.SyncUsers {
		s.message("User syncing is disabled for this Source")
		return Result{Status: StatusDisabled}, nil
	}

	res := Result{}
	for page, err := range s.Objects(ctx) {
		if err != nil {
			res.Status = StatusAborted
			return res, fmt.Errorf("failed to fetch users: %w", err)
		}
		res.Pages++
		if err := s.syncPage(ctx, page.Entries, &res); err != nil {
			res.Status = StatusAborted
			return res, err
		}
	}

	res.Status = StatusCompleted
	slog.Info("User sync completed", "source", s.source.Name, "synced", res.Synced, "created", res.Created,
		"updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed, "pages", res.Pages)
	return res, nil
}

// SyncPage syncs one batch of entries and returns how many were synced, or
// Disabled when user sync is turned off.
func (s *UserSynchronizer) SyncPage(ctx context.Context, entries []directory.Entry) (int, error) {
	s.messages = nil
	if !s.source.SyncUsers {
		s.message("User syncing is disabled for this Source")
		return Disabled, nil
	}
	var res Result
	err := s.syncPage(ctx, entries, &res)
	return res.Synced, err
}

func (s *UserSynchronizer) syncPage(ctx context.Context, entries []directory.Entry, res *Result) error {
	for _, entry := range entries {
		if err := s.syncEntry(ctx, entry, res); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserSynchronizer) syncEntry(ctx context.Context, entry directory.Entry, res *Result) error {
	if len(entry.Attributes) == 0 {
		res.Skipped++
		return nil
	}

	dn := codec.String(entry.Identifier())
	key, err := s.deps.Resolver.Key(entry)
	if err != nil {
		var missing *resolver.MissingUniquenessError
		if !errors.As(err, &missing) {
			return err
		}
		msg := fmt.Sprintf("Cannot find uniqueness field in attributes: '%s'", dn)
		s.message(msg, "dn", dn, "attributes", missing.Present)
		s.deps.Sink.Record(ctx, models.EventSyncWarning, msg, map[string]any{
			"dn":         dn,
			"attribute":  missing.Attribute,
			"attributes": missing.Present,
		})
		res.Skipped++
		return nil
	}

	mctx := mapping.Context{DN: dn}
	existing, err := s.deps.Resolver.Existing(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up identity for %s: %w", dn, err)
	}
	if existing != nil {
		mctx.Identity = existing.Properties()
	}

	props, err := s.deps.Mapper.Build(ctx, mapping.ObjectTypeUser, entry.Attributes, mctx)
	if err != nil {
		var exprErr *mapping.ExpressionError
		switch {
		case errors.As(err, &exprErr):
			slog.Error("Property mapping failed, stopping sync", "source", s.source.Name, "mapping", exprErr.Mapping, "dn", dn, "error", exprErr.Err)
			return &StopSyncError{Mapping: exprErr.Mapping, Err: err}
		case errors.Is(err, mapping.ErrSkipObject):
			slog.Debug("Skipping user", "dn", dn)
			res.Skipped++
			return nil
		default:
			return err
		}
	}

	defaults := make(map[string]any, len(props))
	for k, v := range props {
		defaults[k] = codec.Flatten(v)
	}
	slog.Debug("Writing user with attributes", "dn", dn, "key", key, "properties", defaults)

	upserted, err := s.deps.Resolver.ResolveAndUpsert(ctx, key, defaults)
	if err != nil {
		if !errors.Is(err, store.ErrIntegrity) {
			return fmt.Errorf("failed to write user %s: %w", dn, err)
		}
		msg := fmt.Sprintf("Failed to create user: %v To merge new user with existing user, set the user's Attribute '%s' to '%s'",
			err, models.UniquenessAttribute, key)
		s.deps.Sink.Record(ctx, models.EventConfigurationError, msg, map[string]any{"dn": dn, "key": key})
		res.Failed++
		return nil
	}

	identity := upserted.Identity
	slog.Debug("Synced user", "username", identity.Username, "created", upserted.Created)
	res.Synced++
	if upserted.Created {
		res.Created++
	} else {
		res.Updated++
	}
	res.HookFailures += s.deps.Hooks.Run(ctx, entry.Attributes, identity, upserted.Created)
	return nil
}
