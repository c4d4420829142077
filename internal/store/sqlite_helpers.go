package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/smarzola/dirsync/internal/models"
)

const identityColumns = `id, uuid, source, uniqueness_key, username, name, email, path, type,
	is_active, password_hash, password_changed_at, attributes, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// encodeJSONObject encodes a mapping for a TEXT column. A nil map is stored
// as an empty object.
func encodeJSONObject(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON object: %w", err)
	}
	return string(data), nil
}

// decodeJSONObject decodes a TEXT column holding a JSON object. Handles
// empty and null values.
func decodeJSONObject(jsonStr string) (map[string]any, error) {
	out := make(map[string]any)
	if jsonStr == "" || jsonStr == "null" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON object: %w", err)
	}
	return out, nil
}

// scanIdentity reads one row selected with identityColumns
func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		identity  models.Identity
		key       sql.NullString
		attrsJSON string
	)
	err := row.Scan(
		&identity.ID,
		&identity.UUID,
		&identity.Source,
		&key,
		&identity.Username,
		&identity.Name,
		&identity.Email,
		&identity.Path,
		&identity.Type,
		&identity.IsActive,
		&identity.PasswordHash,
		&identity.PasswordChangedAt,
		&attrsJSON,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	identity.UniquenessKey = key.String
	identity.Attributes, err = decodeJSONObject(attrsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", identity.Username, err)
	}
	return &identity, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
