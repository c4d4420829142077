package directory

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups directory failures by what the caller can do about them.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// Error wraps a failed directory operation.
type Error struct {
	Operation string
	Category  ErrorCategory
	Code      uint16 // LDAP result code, 0 for transport errors
	BaseDN    string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d, %s)", e.Operation, e.Code, e.Category))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed (%s)", e.Operation, e.Category))
	}
	if e.BaseDN != "" {
		parts = append(parts, "base: "+e.BaseDN)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// wrapError classifies err; nil stays nil.
func wrapError(operation, baseDN string, err error) error {
	if err == nil {
		return nil
	}

	e := &Error{Operation: operation, BaseDN: baseDN, Cause: err, Category: ErrorCategoryUnknown}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		e.Code = ldapErr.ResultCode
		e.Category, e.Retryable = categorize(ldapErr.ResultCode)
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e.Category = ErrorCategoryConnection
		e.Retryable = true
	}
	return e
}

func categorize(code uint16) (ErrorCategory, bool) {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication, false
	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission, false
	case ldap.LDAPResultNoSuchObject:
		return ErrorCategoryNotFound, false
	case ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultUndefinedAttributeType,
		ldap.LDAPResultInappropriateMatching:
		return ErrorCategoryValidation, false
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer, true
	case ldap.ErrorNetwork:
		return ErrorCategoryConnection, true
	default:
		return ErrorCategoryServer, false
	}
}

// IsRetryable reports whether err is a directory error worth retrying.
func IsRetryable(err error) bool {
	var dirErr *Error
	return errors.As(err, &dirErr) && dirErr.Retryable
}
