package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/smarzola/dirsync/internal/models"
)

var (
	// ErrNotFound is returned when a referenced identity does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrIntegrity matches every *IntegrityError.
	ErrIntegrity = errors.New("integrity violation")
)

// IntegrityReason says which storage rule a write broke.
type IntegrityReason string

const (
	ReasonDuplicateKey  IntegrityReason = "duplicate_key"
	ReasonRequiredField IntegrityReason = "required_field"
	ReasonTypeMismatch  IntegrityReason = "type_mismatch"
	ReasonUnknownField  IntegrityReason = "unknown_field"
)

// IntegrityError is a write rejected by the identity schema. It concerns a
// single record and never the store as a whole.
type IntegrityError struct {
	Reason IntegrityReason
	Field  string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity violation (%s) on %q: %v", e.Reason, e.Field, e.Err)
	}
	return fmt.Sprintf("integrity violation (%s) on %q", e.Reason, e.Field)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// RequiredFieldError reports a missing required identity property.
func RequiredFieldError(field string) *IntegrityError {
	return &IntegrityError{Reason: ReasonRequiredField, Field: field}
}

// fieldIntegrityError converts a model field error into an integrity error.
func fieldIntegrityError(err error) error {
	var fe *models.FieldError
	if !errors.As(err, &fe) {
		return err
	}
	reason := ReasonTypeMismatch
	switch {
	case strings.Contains(fe.Reason, "unknown"):
		reason = ReasonUnknownField
	case strings.Contains(fe.Reason, "empty"):
		reason = ReasonRequiredField
	}
	return &IntegrityError{Reason: reason, Field: fe.Field, Err: err}
}

// uniqueViolation returns the column list of a UNIQUE constraint failure, or
// "" when err is something else.
func uniqueViolation(err error) string {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return ""
	}
	msg := sqlErr.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed:"); i >= 0 {
		cols := strings.TrimSpace(msg[i+len("UNIQUE constraint failed:"):])
		if j := strings.Index(cols, " ("); j >= 0 {
			cols = cols[:j]
		}
		return cols
	}
	return "unknown"
}

// isKeyRace reports a lost race on the (source, uniqueness_key) index.
func isKeyRace(err error) bool {
	return strings.Contains(uniqueViolation(err), "uniqueness_key")
}

// isBusy reports a write lock held by another connection past busy_timeout.
func isBusy(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_BUSY
}
