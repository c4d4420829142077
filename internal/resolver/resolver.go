// Package resolver correlates directory entries with local identities through
// a configured uniqueness attribute.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/smarzola/dirsync/internal/codec"
	"github.com/smarzola/dirsync/internal/directory"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/store"
)

// Upserter is the part of the identity store the resolver works through.
type Upserter interface {
	UpsertByUniqueAttribute(ctx context.Context, source, key string, props map[string]any) (*store.UpsertResult, error)
	FindIdentityForKey(ctx context.Context, source, key string) (*models.Identity, error)
}

// MissingUniquenessError reports an entry without the uniqueness attribute.
type MissingUniquenessError struct {
	DN        string
	Attribute string
	Present   []string
}

func (e *MissingUniquenessError) Error() string {
	return fmt.Sprintf("entry %s has no %q attribute (present: %s)", e.DN, e.Attribute, strings.Join(e.Present, ", "))
}

// Resolver computes uniqueness keys and upserts identities by them.
type Resolver struct {
	store     Upserter
	source    string
	attribute string
}

// New creates a resolver for identities of source keyed by attribute.
func New(s Upserter, source, attribute string) *Resolver {
	return &Resolver{store: s, source: source, attribute: attribute}
}

// Attribute returns the configured uniqueness attribute name.
func (r *Resolver) Attribute() string {
	return r.attribute
}

// Key returns the flattened uniqueness value of entry. Multi-valued
// attributes use their first value.
func (r *Resolver) Key(entry directory.Entry) (string, error) {
	raw, ok := entry.Lookup(r.attribute)
	if ok {
		if key := codec.String(codec.FlattenAttribute(r.attribute, raw)); key != "" {
			return key, nil
		}
	}
	return "", &MissingUniquenessError{DN: entry.Identifier(), Attribute: r.attribute, Present: entry.AttributeNames()}
}

// Existing returns the identity ResolveAndUpsert would update for key, or nil
// when it would create one.
func (r *Resolver) Existing(ctx context.Context, key string) (*models.Identity, error) {
	return r.store.FindIdentityForKey(ctx, r.source, key)
}

// ResolveAndUpsert applies props to the identity keyed by key, creating it
// when it does not exist. Property sets without a username are rejected
// before the store is touched.
func (r *Resolver) ResolveAndUpsert(ctx context.Context, key string, props map[string]any) (*store.UpsertResult, error) {
	if v, ok := props[models.PropertyUsername]; !ok || v == nil || v == "" {
		return nil, store.RequiredFieldError(models.PropertyUsername)
	}
	return r.store.UpsertByUniqueAttribute(ctx, r.source, key, props)
}
