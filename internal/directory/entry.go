package directory

import (
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/smarzola/dirsync/internal/codec"
)

// Entry is one raw directory record: an identifier plus a mapping from
// attribute name to its values. Text attributes hold []string, binary
// attributes hold [][]byte.
type Entry struct {
	DN         string
	Attributes map[string]any
}

// Page is a batch of entries as returned by one search round trip.
type Page struct {
	Number  int
	Entries []Entry
}

// NewEntry converts a go-ldap entry, keeping binary attributes as bytes.
func NewEntry(e *ldap.Entry) Entry {
	attrs := make(map[string]any, len(e.Attributes))
	for _, a := range e.Attributes {
		if codec.IsBinaryAttribute(a.Name) {
			attrs[a.Name] = a.ByteValues
			continue
		}
		attrs[a.Name] = a.Values
	}
	return Entry{DN: e.DN, Attributes: attrs}
}

// Lookup returns the raw values of an attribute. An exact name match wins;
// otherwise names are compared case-insensitively.
func (e Entry) Lookup(name string) (any, bool) {
	if v, ok := e.Attributes[name]; ok {
		return v, true
	}
	for k, v := range e.Attributes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether the attribute is present.
func (e Entry) Has(name string) bool {
	_, ok := e.Lookup(name)
	return ok
}

// AttributeNames returns the entry's attribute names in sorted order.
func (e Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Identifier is the entry's external identifier: entryDN when the directory
// returns it as an attribute, the DN otherwise.
func (e Entry) Identifier() string {
	if v, ok := e.Lookup("entryDN"); ok {
		if s := codec.String(v); s != "" {
			return s
		}
	}
	return e.DN
}
