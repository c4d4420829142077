package models

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is a directory entry as served by the fixture directory.
// Attribute names keep the case they were defined with; lookups are
// case-insensitive as in LDAP.
type Entry struct {
	DN         string              // Distinguished Name
	ParentDN   string              // Parent DN for scope evaluation
	Attributes map[string][]string // Multi-valued text attributes
	Binary     map[string][][]byte // Multi-valued binary attributes (objectGUID, objectSid, ...)
}

// NewEntry creates a new directory entry
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		ParentDN:   extractParentDN(dn),
		Attributes: make(map[string][]string),
		Binary:     make(map[string][][]byte),
	}
}

// key returns the stored spelling of name, or name itself when absent.
func (e *Entry) key(name string) string {
	if _, ok := e.Attributes[name]; ok {
		return name
	}
	for k := range e.Attributes {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// SetAttribute sets a single-valued attribute
func (e *Entry) SetAttribute(name, value string) {
	e.Attributes[e.key(name)] = []string{value}
}

// AddAttribute adds a value to a multi-valued attribute
func (e *Entry) AddAttribute(name, value string) {
	k := e.key(name)
	e.Attributes[k] = append(e.Attributes[k], value)
}

// AddBinaryAttribute adds a raw value to a binary attribute
func (e *Entry) AddBinaryAttribute(name string, value []byte) {
	for k := range e.Binary {
		if strings.EqualFold(k, name) {
			name = k
			break
		}
	}
	e.Binary[name] = append(e.Binary[name], value)
}

// GetAttribute gets the first value of an attribute
func (e *Entry) GetAttribute(name string) string {
	if values := e.GetAttributes(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetAttributes gets all values of an attribute, text or binary
func (e *Entry) GetAttributes(name string) []string {
	for k, values := range e.Attributes {
		if strings.EqualFold(k, name) {
			return values
		}
	}
	for k, values := range e.Binary {
		if strings.EqualFold(k, name) {
			out := make([]string, len(values))
			for i, v := range values {
				out[i] = string(v)
			}
			return out
		}
	}
	return []string{}
}

// HasAttribute checks if an attribute exists
func (e *Entry) HasAttribute(name string) bool {
	return len(e.GetAttributes(name)) > 0
}

// AttributeNames returns the attribute names of the entry in sorted order
func (e *Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes)+len(e.Binary))
	for k := range e.Attributes {
		names = append(names, k)
	}
	for k := range e.Binary {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// extractParentDN extracts the parent DN from a DN
// e.g., "uid=admin,ou=users,dc=example,dc=com" -> "ou=users,dc=example,dc=com"
func extractParentDN(dn string) string {
	if i := findFirstComma(dn); i >= 0 {
		return strings.TrimSpace(dn[i+1:])
	}
	return ""
}

// findFirstComma finds the first unescaped comma in a DN string
func findFirstComma(dn string) int {
	for i := 0; i < len(dn); i++ {
		if dn[i] == ',' {
			if i > 0 && dn[i-1] == '\\' {
				continue
			}
			return i
		}
	}
	return -1
}

// IsDescendantOf reports whether the entry lies at or below baseDN
func (e *Entry) IsDescendantOf(baseDN string) bool {
	dn := strings.ToLower(strings.TrimSpace(e.DN))
	base := strings.ToLower(strings.TrimSpace(baseDN))
	if base == "" || dn == base {
		return true
	}
	return strings.HasSuffix(dn, ","+base)
}

// Validate checks if the entry has required attributes
func (e *Entry) Validate() error {
	if e.DN == "" {
		return fmt.Errorf("DN is required")
	}
	if !e.HasAttribute("objectClass") {
		return fmt.Errorf("entry %s has no objectClass", e.DN)
	}
	return nil
}
