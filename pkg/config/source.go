package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"
)

// Source describes one directory the users are synchronized from.
type Source struct {
	Name                  string            `yaml:"name" default:"ldap"`
	SyncUsers             bool              `yaml:"sync_users" default:"true"`
	BaseDN                string            `yaml:"base_dn"`
	AdditionalUserDN      string            `yaml:"additional_user_dn"`
	UserObjectFilter      string            `yaml:"user_object_filter" default:"(objectClass=person)"`
	Scope                 string            `yaml:"scope" default:"sub"` // base, one or sub
	ObjectUniquenessField string            `yaml:"object_uniqueness_field" default:"objectSid"`
	PageSize              uint32            `yaml:"page_size" default:"100"`
	PropertyMappings      []PropertyMapping `yaml:"property_mappings"`
}

// PropertyMapping is a named expression producing identity properties.
// Mappings are evaluated in the order they are listed.
type PropertyMapping struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// LoadSource reads and validates a source definition file.
func LoadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	return ParseSource(data)
}

// ParseSource decodes a YAML source definition, applying defaults for
// omitted fields.
func ParseSource(data []byte) (*Source, error) {
	src := &Source{}
	// Defaults first so explicit false/zero values in the file win.
	if err := defaults.Set(src); err != nil {
		return nil, fmt.Errorf("failed to apply source defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, src); err != nil {
		return nil, fmt.Errorf("failed to parse source file: %w", err)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return src, nil
}

// Validate checks the source for settings a sync pass cannot run without.
func (s *Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if s.BaseDN == "" {
		return fmt.Errorf("source %s: base_dn is required", s.Name)
	}
	if s.ObjectUniquenessField == "" {
		return fmt.Errorf("source %s: object_uniqueness_field is required", s.Name)
	}
	if _, err := ldap.CompileFilter(s.UserObjectFilter); err != nil {
		return fmt.Errorf("source %s: invalid user_object_filter %q: %w", s.Name, s.UserObjectFilter, err)
	}
	s.Scope = strings.ToLower(s.Scope)
	if _, err := ParseScope(s.Scope); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	if s.PageSize == 0 {
		return fmt.Errorf("source %s: page_size must be positive", s.Name)
	}
	if s.SyncUsers && len(s.PropertyMappings) == 0 {
		return fmt.Errorf("source %s: property_mappings is required when sync_users is enabled", s.Name)
	}
	seen := make(map[string]bool, len(s.PropertyMappings))
	for i, m := range s.PropertyMappings {
		if m.Name == "" {
			return fmt.Errorf("source %s: property mapping #%d has no name", s.Name, i+1)
		}
		if seen[m.Name] {
			return fmt.Errorf("source %s: duplicate property mapping %q", s.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// ParseScope maps a search scope name to its go-ldap constant. Names are
// case-insensitive and an empty scope searches the whole subtree.
func ParseScope(scope string) (int, error) {
	switch strings.ToLower(scope) {
	case "base":
		return ldap.ScopeBaseObject, nil
	case "one", "single":
		return ldap.ScopeSingleLevel, nil
	case "", "sub", "subtree":
		return ldap.ScopeWholeSubtree, nil
	default:
		return 0, fmt.Errorf("unknown search scope %q", scope)
	}
}

// UsersBaseDN is the search base for user entries.
func (s *Source) UsersBaseDN() string {
	return JoinDN(s.AdditionalUserDN, s.BaseDN)
}
