// Package mapping evaluates user-authored property mappings against directory
// attributes.
//
// Each mapping is an expr expression returning a mapping of identity property
// names to values. Expressions see:
//
//	ldap         flattened attributes by their directory names
//	raw          attribute values as returned by the directory
//	dn           the entry's identifier
//	object_type  the kind of object being mapped ("user")
//	identity     the existing identity's properties, nil on first sync
//
// and the functions skip(), which excludes the entry from the sync, and
// flatten(x).
package mapping

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smarzola/dirsync/internal/codec"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/pkg/config"
)

// ObjectTypeUser is the object type passed when mapping user entries.
const ObjectTypeUser = "user"

// PropertySet maps identity property names to values.
type PropertySet map[string]any

// Context carries what is known about an entry besides its attributes.
type Context struct {
	DN       string
	Identity map[string]any
}

type skipMarker struct{}

var skipValue = &skipMarker{}

type compiled struct {
	name    string
	program *vm.Program
}

// Mapper evaluates an ordered list of compiled mappings.
type Mapper struct {
	mappings []compiled
}

// New compiles the mappings in order. The first mapping that does not compile
// is reported as an *ExpressionError.
func New(mappings []config.PropertyMapping) (*Mapper, error) {
	m := &Mapper{mappings: make([]compiled, 0, len(mappings))}
	for _, pm := range mappings {
		program, err := expr.Compile(pm.Expression, expr.Env(templateEnv()))
		if err != nil {
			return nil, &ExpressionError{Mapping: pm.Name, Err: err}
		}
		m.mappings = append(m.mappings, compiled{name: pm.Name, program: program})
	}
	return m, nil
}

// Len returns the number of mappings.
func (m *Mapper) Len() int {
	return len(m.mappings)
}

// Build evaluates every mapping against raw and merges their outputs in order.
// Later mappings overwrite keys set by earlier ones; nested mappings are merged.
// A mapping returning nil contributes nothing.
func (m *Mapper) Build(ctx context.Context, objectType string, raw map[string]any, mctx Context) (PropertySet, error) {
	env := map[string]any{
		"ldap":        codec.FlattenAll(raw),
		"raw":         raw,
		"dn":          mctx.DN,
		"object_type": objectType,
		"identity":    mctx.Identity,
		"skip":        skip,
		"flatten":     flatten,
	}

	props := make(map[string]any)
	for _, c := range m.mappings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := expr.Run(c.program, env)
		if err != nil {
			return nil, &ExpressionError{Mapping: c.name, Err: err}
		}

		switch v := out.(type) {
		case nil:
			continue
		case *skipMarker:
			return nil, ErrSkipObject
		case map[string]any:
			models.MergeInto(props, dropNil(v))
		default:
			return nil, &ExpressionError{Mapping: c.name, Err: fmt.Errorf("expression returned %T, expected a mapping", out)}
		}
	}
	return PropertySet(props), nil
}

// templateEnv declares the variable types expressions are checked against.
func templateEnv() map[string]any {
	return map[string]any{
		"ldap":        map[string]any{},
		"raw":         map[string]any{},
		"dn":          "",
		"object_type": "",
		"identity":    map[string]any(nil),
		"skip":        skip,
		"flatten":     flatten,
	}
}

func skip() any {
	return skipValue
}

func flatten(v any) any {
	return codec.Flatten(v)
}

func dropNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = dropNil(x)
		default:
			out[k] = v
		}
	}
	return out
}
