package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/pkg/crypto"
)

// maxUpsertAttempts bounds retries after losing an insert race on the
// uniqueness key to a concurrent writer.
const maxUpsertAttempts = 3

// UpsertByUniqueAttribute finds the identity synced from source with the given
// uniqueness key and applies props to it, or creates one. A local identity
// whose ldap_uniq attribute equals key and which is not yet bound to a key is
// adopted, which is how operators merge an existing account with a directory
// entry.
func (s *SQLiteStore) UpsertByUniqueAttribute(ctx context.Context, source, key string, props map[string]any) (*UpsertResult, error) {
	if key == "" {
		return nil, RequiredFieldError("uniqueness_key")
	}

	var lastErr error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		res, err := s.upsertOnce(ctx, source, key, props)
		if err == nil {
			return res, nil
		}
		if !isKeyRace(err) && !isBusy(err) {
			return nil, err
		}
		lastErr = err
		slog.Debug("Upsert conflicted with a concurrent writer, retrying", "source", source, "key", key, "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	if isBusy(lastErr) {
		return nil, fmt.Errorf("failed to upsert identity: %w", lastErr)
	}
	return nil, &IntegrityError{Reason: ReasonDuplicateKey, Field: "uniqueness_key", Err: lastErr}
}

func (s *SQLiteStore) upsertOnce(ctx context.Context, source, key string, props map[string]any) (*UpsertResult, error) {
	var res *UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := findByKey(ctx, tx, source, key)
		if err != nil {
			return err
		}

		identity := existing
		created := identity == nil
		if created {
			identity = models.NewIdentity(source, key)
			identity.UUID = uuid.NewString()
			identity.PasswordHash = crypto.UnusablePassword()
		}

		if err := identity.Apply(props); err != nil {
			return fieldIntegrityError(err)
		}
		if identity.Username == "" {
			return RequiredFieldError(models.PropertyUsername)
		}

		// Adopted local identities become bound to this source and key
		identity.Source = source
		identity.UniquenessKey = key
		identity.Attributes[models.UniquenessAttribute] = key

		if created {
			err = insertIdentity(ctx, tx, identity)
		} else {
			err = updateIdentity(ctx, tx, identity)
		}
		if err != nil {
			return err
		}

		res = &UpsertResult{Identity: identity, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func findByKey(ctx context.Context, q queryRower, source, key string) (*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE (source = ? AND uniqueness_key = ?)
		   OR (uniqueness_key IS NULL AND json_extract(attributes, '$.ldap_uniq') = ?)
		ORDER BY uniqueness_key IS NULL
		LIMIT 1
	`
	identity, err := scanIdentity(q.QueryRowContext(ctx, query, source, key, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by key: %w", err)
	}
	return identity, nil
}

func insertIdentity(ctx context.Context, tx *sql.Tx, identity *models.Identity) error {
	attrs, err := encodeJSONObject(identity.Attributes)
	if err != nil {
		return &IntegrityError{Reason: ReasonTypeMismatch, Field: models.PropertyAttributes, Err: err}
	}

	query := `
		INSERT INTO identities (uuid, source, uniqueness_key, username, name, email, path, type,
			is_active, password_hash, password_changed_at, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		identity.UUID,
		identity.Source,
		nullString(identity.UniquenessKey),
		identity.Username,
		identity.Name,
		identity.Email,
		identity.Path,
		identity.Type,
		identity.IsActive,
		identity.PasswordHash,
		identity.PasswordChangedAt,
		attrs,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return writeError("create", err)
	}

	identity.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get identity ID: %w", err)
	}
	return nil
}

func updateIdentity(ctx context.Context, tx *sql.Tx, identity *models.Identity) error {
	attrs, err := encodeJSONObject(identity.Attributes)
	if err != nil {
		return &IntegrityError{Reason: ReasonTypeMismatch, Field: models.PropertyAttributes, Err: err}
	}

	query := `
		UPDATE identities
		SET source = ?, uniqueness_key = ?, username = ?, name = ?, email = ?, path = ?, type = ?,
			is_active = ?, attributes = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		identity.Source,
		nullString(identity.UniquenessKey),
		identity.Username,
		identity.Name,
		identity.Email,
		identity.Path,
		identity.Type,
		identity.IsActive,
		attrs,
		identity.UpdatedAt,
		identity.ID,
	)
	if err != nil {
		return writeError("update", err)
	}
	return nil
}

// writeError maps unique constraint failures to integrity errors. Races on
// the uniqueness key are left as is so the caller can retry.
func writeError(op string, err error) error {
	cols := uniqueViolation(err)
	switch {
	case cols == "":
		return fmt.Errorf("failed to %s identity: %w", op, err)
	case isKeyRace(err):
		return err
	default:
		return &IntegrityError{Reason: ReasonDuplicateKey, Field: cols, Err: err}
	}
}

// FindIdentityForKey returns the identity an upsert with key would update:
// the one synced from source under key, or an unsynced local identity linked
// through its ldap_uniq attribute. It returns nil when the upsert would create.
func (s *SQLiteStore) FindIdentityForKey(ctx context.Context, source, key string) (*models.Identity, error) {
	return findByKey(ctx, s.db, source, key)
}

// GetIdentityByKey returns the identity synced from source with key, or nil.
func (s *SQLiteStore) GetIdentityByKey(ctx context.Context, source, key string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE source = ? AND uniqueness_key = ?`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, source, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity by key: %w", err)
	}
	return identity, nil
}

// GetIdentityByUsername returns the identity with username, or nil.
func (s *SQLiteStore) GetIdentityByUsername(ctx context.Context, username string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE username = ?`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity by username: %w", err)
	}
	return identity, nil
}

// ListIdentities lists identities ordered by username. An empty source lists
// all of them.
func (s *SQLiteStore) ListIdentities(ctx context.Context, source string) ([]*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// CreateLocalIdentity creates an identity that is not bound to any source.
func (s *SQLiteStore) CreateLocalIdentity(ctx context.Context, username, name, email string) (*models.Identity, error) {
	if username == "" {
		return nil, RequiredFieldError(models.PropertyUsername)
	}

	now := time.Now().UTC()
	identity := &models.Identity{
		UUID:              uuid.NewString(),
		Username:          username,
		Name:              name,
		Email:             email,
		Type:              "internal",
		IsActive:          true,
		PasswordHash:      crypto.UnusablePassword(),
		PasswordChangedAt: now,
		Attributes:        map[string]any{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertIdentity(ctx, tx, identity)
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// SetAttribute sets one entry of an identity's attributes.
func (s *SQLiteStore) SetAttribute(ctx context.Context, username, name string, value any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + identityColumns + ` FROM identities WHERE username = ?`
		identity, err := scanIdentity(tx.QueryRowContext(ctx, query, username))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		if err != nil {
			return fmt.Errorf("failed to get identity: %w", err)
		}

		identity.Attributes[name] = value
		identity.UpdatedAt = time.Now().UTC()
		return updateIdentity(ctx, tx, identity)
	})
}

// SetActive activates or deactivates an identity.
func (s *SQLiteStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, `UPDATE identities SET is_active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC(), id)
}

// MarkPasswordUnusable replaces the local password with a marker no password
// verifies against.
func (s *SQLiteStore) MarkPasswordUnusable(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return s.exec(ctx,
		`UPDATE identities SET password_hash = ?, password_changed_at = ?, updated_at = ? WHERE id = ?`,
		crypto.UnusablePassword(), now, now, id)
}

// SetPassword stores a password hash for the identity with username.
func (s *SQLiteStore) SetPassword(ctx context.Context, username, hash string) error {
	now := time.Now().UTC()
	err := s.exec(ctx,
		`UPDATE identities SET password_hash = ?, password_changed_at = ?, updated_at = ? WHERE username = ?`,
		hash, now, now, username)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return err
}

// exec runs a single-row update and reports ErrNotFound when no row matched.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
