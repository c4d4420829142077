package models

import (
	"fmt"
	"sort"
	"time"
)

// UniquenessAttribute is the identity attribute mirroring the directory
// uniqueness key. Setting it on an existing identity merges that identity
// with the directory entry on the next sync.
const UniquenessAttribute = "ldap_uniq"

// Identity property names accepted from property mappings.
const (
	PropertyUsername   = "username"
	PropertyName       = "name"
	PropertyEmail      = "email"
	PropertyPath       = "path"
	PropertyType       = "type"
	PropertyIsActive   = "is_active"
	PropertyAttributes = "attributes"
)

// Identity is a local identity record.
type Identity struct {
	ID                int64
	UUID              string
	Source            string // source the identity was synced from
	UniquenessKey     string
	Username          string
	Name              string
	Email             string
	Path              string
	Type              string
	IsActive          bool
	PasswordHash      string
	PasswordChangedAt time.Time
	Attributes        map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FieldError reports a property that cannot be stored on an identity.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// NewIdentity creates an identity for a source and uniqueness key.
func NewIdentity(source, uniquenessKey string) *Identity {
	now := time.Now().UTC()
	return &Identity{
		Source:            source,
		UniquenessKey:     uniquenessKey,
		Type:              "external",
		IsActive:          true,
		PasswordChangedAt: now,
		Attributes:        map[string]any{UniquenessAttribute: uniquenessKey},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Apply sets the given properties on the identity. Properties are applied in
// sorted order so a failure is reported deterministically. The attributes
// property is merged into the existing attributes rather than replacing them.
func (i *Identity) Apply(props map[string]any) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := i.set(k, props[k]); err != nil {
			return err
		}
	}
	i.UpdatedAt = time.Now().UTC()
	return nil
}

func (i *Identity) set(field string, value any) error {
	switch field {
	case PropertyUsername:
		s, err := stringField(field, value)
		if err != nil {
			return err
		}
		if s == "" {
			return &FieldError{Field: field, Reason: "must not be empty"}
		}
		i.Username = s
	case PropertyName:
		return assignString(&i.Name, field, value)
	case PropertyEmail:
		return assignString(&i.Email, field, value)
	case PropertyPath:
		return assignString(&i.Path, field, value)
	case PropertyType:
		return assignString(&i.Type, field, value)
	case PropertyIsActive:
		b, ok := value.(bool)
		if !ok {
			return &FieldError{Field: field, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
		i.IsActive = b
	case PropertyAttributes:
		m, ok := value.(map[string]any)
		if !ok {
			return &FieldError{Field: field, Reason: fmt.Sprintf("expected mapping, got %T", value)}
		}
		if i.Attributes == nil {
			i.Attributes = make(map[string]any)
		}
		MergeInto(i.Attributes, m)
	default:
		return &FieldError{Field: field, Reason: "unknown identity property"}
	}
	return nil
}

func stringField(field string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &FieldError{Field: field, Reason: fmt.Sprintf("expected string, got %T", value)}
	}
	return s, nil
}

func assignString(dst *string, field string, value any) error {
	s, err := stringField(field, value)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

// MergeInto copies src into dst. Nested mappings are merged recursively;
// any other value in src overwrites the one in dst.
func MergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				MergeInto(existing, sub)
				continue
			}
			copied := make(map[string]any, len(sub))
			MergeInto(copied, sub)
			dst[k] = copied
			continue
		}
		dst[k] = v
	}
}

// Properties returns the identity's mappable properties, as seen by property
// mappings on later syncs.
func (i *Identity) Properties() map[string]any {
	attrs := make(map[string]any, len(i.Attributes))
	MergeInto(attrs, i.Attributes)
	return map[string]any{
		PropertyUsername:   i.Username,
		PropertyName:       i.Name,
		PropertyEmail:      i.Email,
		PropertyPath:       i.Path,
		PropertyType:       i.Type,
		PropertyIsActive:   i.IsActive,
		PropertyAttributes: attrs,
	}
}
