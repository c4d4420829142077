// Package schema evaluates LDAP search filters against directory entries.
package schema

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/smarzola/dirsync/internal/models"
)

// FilterType represents the type of LDAP filter
type FilterType int

const (
	FilterTypeAnd FilterType = iota
	FilterTypeOr
	FilterTypeNot
	FilterTypeEquality
	FilterTypePresent
	FilterTypeApproxMatch
	FilterTypeGreaterOrEqual
	FilterTypeLessOrEqual
	FilterTypeSubstrings
)

// Filter represents an LDAP search filter
type Filter struct {
	Type      FilterType
	Attribute string
	Value     string
	Filters   []*Filter

	// Substring assertion parts; Any may be empty.
	Initial string
	Any     []string
	Final   string
}

// ParseFilter parses an RFC 4515 filter string. The empty filter matches
// every entry.
func ParseFilter(filterStr string) (*Filter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		return &Filter{Type: FilterTypePresent, Attribute: "objectClass"}, nil
	}
	if !strings.HasPrefix(filterStr, "(") || !strings.HasSuffix(filterStr, ")") {
		return nil, fmt.Errorf("filter must be enclosed in parentheses")
	}

	filter, pos, err := parseFilterRecursive(filterStr, 0)
	if err != nil {
		return nil, err
	}
	if pos != len(filterStr) {
		return nil, fmt.Errorf("unexpected data after filter at position %d", pos)
	}
	return filter, nil
}

// parseFilterRecursive parses the filter starting at pos and returns the
// position just past its closing parenthesis.
func parseFilterRecursive(filterStr string, pos int) (*Filter, int, error) {
	if pos >= len(filterStr) || filterStr[pos] != '(' {
		return nil, pos, fmt.Errorf("expected '(' at position %d", pos)
	}
	pos++
	if pos >= len(filterStr) {
		return nil, pos, fmt.Errorf("unexpected end of filter")
	}

	switch filterStr[pos] {
	case '&', '|':
		filter := &Filter{Type: FilterTypeAnd}
		if filterStr[pos] == '|' {
			filter.Type = FilterTypeOr
		}
		pos++
		for pos < len(filterStr) && filterStr[pos] == '(' {
			sub, next, err := parseFilterRecursive(filterStr, pos)
			if err != nil {
				return nil, next, err
			}
			filter.Filters = append(filter.Filters, sub)
			pos = next
		}
		if pos >= len(filterStr) || filterStr[pos] != ')' {
			return nil, pos, fmt.Errorf("expected ')' at position %d", pos)
		}
		return filter, pos + 1, nil

	case '!':
		sub, next, err := parseFilterRecursive(filterStr, pos+1)
		if err != nil {
			return nil, next, err
		}
		if next >= len(filterStr) || filterStr[next] != ')' {
			return nil, next, fmt.Errorf("expected ')' at position %d", next)
		}
		return &Filter{Type: FilterTypeNot, Filters: []*Filter{sub}}, next + 1, nil
	}

	end := strings.IndexByte(filterStr[pos:], ')')
	if end == -1 {
		return nil, pos, fmt.Errorf("expected ')'")
	}
	filter, err := parseItem(filterStr[pos : pos+end])
	if err != nil {
		return nil, pos, err
	}
	return filter, pos + end + 1, nil
}

// parseItem parses a simple assertion such as uid=john, cn=jo*n or
// age>=30. Values may carry \XX escapes.
func parseItem(item string) (*Filter, error) {
	eq := strings.IndexByte(item, '=')
	if eq <= 0 {
		return nil, fmt.Errorf("invalid filter format: %s", item)
	}

	filter := &Filter{Type: FilterTypeEquality, Attribute: item[:eq]}
	switch item[eq-1] {
	case '~':
		filter.Type = FilterTypeApproxMatch
		filter.Attribute = item[:eq-1]
	case '>':
		filter.Type = FilterTypeGreaterOrEqual
		filter.Attribute = item[:eq-1]
	case '<':
		filter.Type = FilterTypeLessOrEqual
		filter.Attribute = item[:eq-1]
	}
	filter.Attribute = strings.TrimSpace(filter.Attribute)
	if filter.Attribute == "" {
		return nil, fmt.Errorf("invalid filter format: %s", item)
	}

	raw := item[eq+1:]
	if filter.Type == FilterTypeEquality && strings.Contains(raw, "*") {
		if raw == "*" {
			filter.Type = FilterTypePresent
			return filter, nil
		}
		return parseSubstrings(filter, raw)
	}

	value, err := unescape(raw)
	if err != nil {
		return nil, err
	}
	filter.Value = value
	return filter, nil
}

func parseSubstrings(filter *Filter, raw string) (*Filter, error) {
	parts := strings.Split(raw, "*")
	decoded := make([]string, len(parts))
	for i, p := range parts {
		v, err := unescape(p)
		if err != nil {
			return nil, err
		}
		decoded[i] = v
	}

	filter.Type = FilterTypeSubstrings
	filter.Initial = decoded[0]
	filter.Final = decoded[len(decoded)-1]
	for _, v := range decoded[1 : len(decoded)-1] {
		if v != "" {
			filter.Any = append(filter.Any, v)
		}
	}
	return filter, nil
}

// unescape decodes RFC 4515 \XX escapes.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			sb.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in filter value %q", s)
		}
		b, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return "", fmt.Errorf("invalid escape in filter value %q", s)
		}
		sb.Write(b)
		i += 2
	}
	return sb.String(), nil
}

// Matches checks if an entry matches this filter. Value comparisons are
// case-insensitive, as for the caseIgnore matching rules.
func (f *Filter) Matches(entry *models.Entry) bool {
	switch f.Type {
	case FilterTypeAnd:
		for _, sub := range f.Filters {
			if !sub.Matches(entry) {
				return false
			}
		}
		return true

	case FilterTypeOr:
		for _, sub := range f.Filters {
			if sub.Matches(entry) {
				return true
			}
		}
		return false

	case FilterTypeNot:
		if len(f.Filters) > 0 {
			return !f.Filters[0].Matches(entry)
		}
		return true

	case FilterTypePresent:
		return entry.HasAttribute(f.Attribute)
	}

	for _, v := range entry.GetAttributes(f.Attribute) {
		if f.matchValue(v) {
			return true
		}
	}
	return false
}

func (f *Filter) matchValue(v string) bool {
	switch f.Type {
	case FilterTypeEquality, FilterTypeApproxMatch:
		return strings.EqualFold(v, f.Value)
	case FilterTypeGreaterOrEqual:
		return strings.ToLower(v) >= strings.ToLower(f.Value)
	case FilterTypeLessOrEqual:
		return strings.ToLower(v) <= strings.ToLower(f.Value)
	case FilterTypeSubstrings:
		return f.matchSubstrings(strings.ToLower(v))
	default:
		return false
	}
}

func (f *Filter) matchSubstrings(v string) bool {
	initial := strings.ToLower(f.Initial)
	if !strings.HasPrefix(v, initial) {
		return false
	}
	v = v[len(initial):]
	for _, part := range f.Any {
		part = strings.ToLower(part)
		i := strings.Index(v, part)
		if i < 0 {
			return false
		}
		v = v[i+len(part):]
	}
	return strings.HasSuffix(v, strings.ToLower(f.Final))
}

// String returns a string representation of the filter
func (f *Filter) String() string {
	switch f.Type {
	case FilterTypeAnd, FilterTypeOr:
		op := "&"
		if f.Type == FilterTypeOr {
			op = "|"
		}
		parts := []string{"(" + op}
		for _, sub := range f.Filters {
			parts = append(parts, sub.String())
		}
		parts = append(parts, ")")
		return strings.Join(parts, "")

	case FilterTypeNot:
		if len(f.Filters) > 0 {
			return "(!" + f.Filters[0].String() + ")"
		}
		return "(!)"

	case FilterTypePresent:
		return fmt.Sprintf("(%s=*)", f.Attribute)

	case FilterTypeEquality:
		return fmt.Sprintf("(%s=%s)", f.Attribute, escape(f.Value))

	case FilterTypeApproxMatch:
		return fmt.Sprintf("(%s~=%s)", f.Attribute, escape(f.Value))

	case FilterTypeGreaterOrEqual:
		return fmt.Sprintf("(%s>=%s)", f.Attribute, escape(f.Value))

	case FilterTypeLessOrEqual:
		return fmt.Sprintf("(%s<=%s)", f.Attribute, escape(f.Value))

	case FilterTypeSubstrings:
		parts := []string{escape(f.Initial)}
		for _, a := range f.Any {
			parts = append(parts, escape(a))
		}
		parts = append(parts, escape(f.Final))
		return fmt.Sprintf("(%s=%s)", f.Attribute, strings.Join(parts, "*"))

	default:
		return ""
	}
}

func escape(v string) string {
	return ldap.EscapeFilter(v)
}
