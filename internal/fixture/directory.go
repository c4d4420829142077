// Package fixture serves a static, YAML-defined directory over LDAP so sync
// passes can be exercised without a real directory server.
package fixture

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/schema"
)

// Search scopes as carried in a search request.
const (
	ScopeBase = 0
	ScopeOne  = 1
	ScopeSub  = 2
)

// File is the on-disk fixture format.
type File struct {
	BaseDN  string      `yaml:"base_dn"`
	Bind    Credentials `yaml:"bind"`
	Entries []EntryDef  `yaml:"entries"`
}

// Credentials is the one simple bind the fixture accepts. Without a DN,
// anonymous sessions may search.
type Credentials struct {
	DN       string `yaml:"dn"`
	Password string `yaml:"password"`
}

// EntryDef is an entry as written in a fixture file. Attribute values are
// scalars or lists of scalars; binary values are base64 encoded.
type EntryDef struct {
	DN         string         `yaml:"dn"`
	Attributes map[string]any `yaml:"attributes"`
	Binary     map[string]any `yaml:"binary"`
}

// Directory is an immutable set of entries under one naming context.
type Directory struct {
	BaseDN  string
	Bind    Credentials
	entries []*models.Entry
	byDN    map[string]*models.Entry
}

// Load reads a fixture file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML fixture.
func Parse(data []byte) (*Directory, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}

	entries := make([]*models.Entry, 0, len(f.Entries))
	for i, def := range f.Entries {
		entry, err := def.toEntry()
		if err != nil {
			return nil, fmt.Errorf("fixture entry #%d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}

	dir, err := New(f.BaseDN, entries...)
	if err != nil {
		return nil, err
	}
	dir.Bind = f.Bind
	return dir, nil
}

// New builds a directory from entries, which must all lie under baseDN.
// Search results keep the order entries are given in.
func New(baseDN string, entries ...*models.Entry) (*Directory, error) {
	if strings.TrimSpace(baseDN) == "" {
		return nil, fmt.Errorf("fixture base_dn is required")
	}
	d := &Directory{BaseDN: baseDN, byDN: make(map[string]*models.Entry, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if !e.IsDescendantOf(baseDN) {
			return nil, fmt.Errorf("entry %s is outside of %s", e.DN, baseDN)
		}
		key := normalizeDN(e.DN)
		if _, dup := d.byDN[key]; dup {
			return nil, fmt.Errorf("duplicate entry %s", e.DN)
		}
		d.byDN[key] = e
		d.entries = append(d.entries, e)
	}
	return d, nil
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	return len(d.entries)
}

// Get returns the entry with the given DN, or nil.
func (d *Directory) Get(dn string) *models.Entry {
	return d.byDN[normalizeDN(dn)]
}

// Search returns the entries in scope of baseDN matching filter. ok is false
// when baseDN names neither an entry nor the naming context.
func (d *Directory) Search(baseDN string, scope int, filter *schema.Filter) (results []*models.Entry, ok bool) {
	base := normalizeDN(baseDN)
	if d.byDN[base] == nil && base != normalizeDN(d.BaseDN) {
		return nil, false
	}

	for _, e := range d.entries {
		if !inScope(e, base, scope) {
			continue
		}
		if filter.Matches(e) {
			results = append(results, e)
		}
	}
	return results, true
}

func inScope(e *models.Entry, base string, scope int) bool {
	switch scope {
	case ScopeBase:
		return normalizeDN(e.DN) == base
	case ScopeOne:
		return normalizeDN(e.ParentDN) == base
	default:
		return e.IsDescendantOf(base)
	}
}

func (def EntryDef) toEntry() (*models.Entry, error) {
	if def.DN == "" {
		return nil, fmt.Errorf("dn is required")
	}
	entry := models.NewEntry(def.DN)
	for name, raw := range def.Attributes {
		values, err := scalars(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: attribute %s: %w", def.DN, name, err)
		}
		for _, v := range values {
			entry.AddAttribute(name, v)
		}
	}
	for name, raw := range def.Binary {
		values, err := scalars(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: binary attribute %s: %w", def.DN, name, err)
		}
		for _, v := range values {
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("%s: binary attribute %s: %w", def.DN, name, err)
			}
			entry.AddBinaryAttribute(name, b)
		}
	}
	return entry, nil
}

func scalars(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := scalar(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func scalar(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("unsupported value %v of type %T", v, v)
	}
}

func normalizeDN(dn string) string {
	return strings.ToLower(strings.TrimSpace(dn))
}
