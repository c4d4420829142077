// Package codec normalizes raw directory attribute values into scalars or
// ordered lists of scalars usable as identity property values.
//
// Flattening is pure and total: it never fails, and values of types it does
// not recognise are returned unchanged. A list with a single element flattens
// to that element, an empty list flattens to nil, and byte payloads are
// rendered as text where they can be.
package codec

import (
	"fmt"
	"strings"
)

// Flatten normalizes a single raw attribute value.
func Flatten(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return decodeBytes(v)
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return collapse(items)
	case [][]byte:
		items := make([]any, len(v))
		for i, b := range v {
			items[i] = decodeBytes(b)
		}
		return collapse(items)
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			items = appendFlat(items, item)
		}
		return collapse(items)
	default:
		return value
	}
}

// FlattenAttribute normalizes a value knowing the attribute it belongs to,
// so well-known binary attributes get their canonical text form.
func FlattenAttribute(name string, value any) any {
	if decode, ok := binaryDecoders[strings.ToLower(name)]; ok {
		switch v := value.(type) {
		case []byte:
			return decode(v)
		case [][]byte:
			items := make([]any, len(v))
			for i, b := range v {
				items[i] = decode(b)
			}
			return collapse(items)
		}
	}
	return Flatten(value)
}

// FlattenAll flattens every attribute of an entry into a new map.
func FlattenAll(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for name, value := range attrs {
		out[name] = FlattenAttribute(name, value)
	}
	return out
}

// String renders a flattened value as a single string. Lists use their first
// element; undecodable bytes are hex encoded.
func String(value any) string {
	switch v := Flatten(value).(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return fmt.Sprintf("%x", v)
	case []any:
		if len(v) == 0 {
			return ""
		}
		return String(v[0])
	default:
		return fmt.Sprint(v)
	}
}

func appendFlat(items []any, value any) []any {
	switch f := Flatten(value).(type) {
	case nil:
		return items
	case []any:
		return append(items, f...)
	default:
		return append(items, f)
	}
}

func collapse(items []any) any {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	default:
		return items
	}
}
