// Package fields compiles schema field definitions into executable field
// interpreters. A compiled field knows which store attributes it needs, how
// to project them into an API value, and how to stage validated writes into
// a plan without touching the store itself.
package fields

import (
	"context"
	"fmt"
	"regexp"

	"github.com/castellan-dir/castellan/internal/breach"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/schema"
)

// Resolver resolves cross-view references to absolute entry DNs. It is pure
// composition over the schema and never queries the store.
type Resolver interface {
	ForeignDN(viewKey, primaryKey string) (string, error)
}

// Deps carries everything field compilation needs from the surrounding view.
type Deps struct {
	Resolver Resolver
	Breach   breach.Checker
	// RequiredClasses are the view's structural classes; objectClass fields
	// refuse to remove them.
	RequiredClasses []string
}

// Field is one compiled field interpreter.
type Field interface {
	Key() string
	Def() *schema.FieldDef
	// Attrs lists the store attributes the field reads.
	Attrs() []string
	// Writable and Creatable report whether client input is accepted; some
	// variants force these off regardless of the schema flags.
	Writable() bool
	Creatable() bool
	// Computed fields are planned on every write even without client input.
	Computed() bool
	// Project derives the API value from a store entry. ok=false omits the
	// field from the projection.
	Project(entry directory.Entry) (value any, ok bool)
	// PlanCreate stages the field's contribution to a new entry. Validation
	// failures go into wctx.Errs; the returned error is reserved for
	// infrastructure failures.
	PlanCreate(ctx context.Context, wctx *WriteContext, value any, present bool) error
	// PlanModify stages the field's contribution to an update of entry.
	PlanModify(ctx context.Context, wctx *WriteContext, entry directory.Entry, value any) error
}

// Compile builds the interpreter for one definition. The definition is
// assumed schema-validated.
func Compile(def *schema.FieldDef, deps Deps) (Field, error) {
	switch def.Type {
	case schema.TypeText:
		return compileText(def)
	case schema.TypeDateTime:
		return &datetimeField{base{def}}, nil
	case schema.TypeGenerate:
		return compileGenerate(def)
	case schema.TypePassword:
		return compilePassword(def, deps.Breach)
	case schema.TypeObjectClass:
		return &objectClassField{base: base{def}, required: deps.RequiredClasses}, nil
	case schema.TypeIsMemberOf:
		return compileIsMemberOf(def, deps.Resolver)
	case schema.TypeInitial:
		return compileInitial(def, deps)
	default:
		return nil, fmt.Errorf("fields: unknown type %q for %s", def.Type, def.Key)
	}
}

// CompileAll compiles a definition list preserving order.
func CompileAll(defs []*schema.FieldDef, deps Deps) ([]Field, error) {
	out := make([]Field, 0, len(defs))
	for _, def := range defs {
		f, err := Compile(def, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// PlanOrder returns the fields in write-planning order: computed fields go
// last so their inputs see the staged values of everything else.
func PlanOrder(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if !f.Computed() {
			out = append(out, f)
		}
	}
	for _, f := range fields {
		if f.Computed() {
			out = append(out, f)
		}
	}
	return out
}

type base struct {
	def *schema.FieldDef
}

func (b base) Key() string           { return b.def.Key }
func (b base) Def() *schema.FieldDef { return b.def }
func (b base) Attrs() []string       { return []string{b.def.Field} }
func (b base) Writable() bool        { return b.def.Writable }
func (b base) Creatable() bool       { return b.def.Creatable }
func (b base) Computed() bool        { return false }

func compileFormat(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("fields: format %q: %w", pattern, err)
	}
	return re, nil
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func asBool(value any) (bool, bool) {
	v, ok := value.(bool)
	return v, ok
}
