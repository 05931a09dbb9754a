package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/schema"
)

// objectClassField toggles the presence of one auxiliary class on the entry.
type objectClassField struct {
	base
	required []string
}

func (f *objectClassField) has(values []string) bool {
	for _, v := range values {
		if strings.EqualFold(v, f.def.ObjectClass) {
			return true
		}
	}
	return false
}

func (f *objectClassField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	return f.has(entry.Attrs[f.def.Field]), true
}

func (f *objectClassField) PlanCreate(_ context.Context, wctx *WriteContext, value any, present bool) error {
	if !present {
		return nil
	}
	want, ok := asBool(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a boolean")
		return nil
	}
	if want {
		wctx.Plan.AppendAttr(f.def.Field, f.def.ObjectClass)
	}
	return nil
}

func (f *objectClassField) PlanModify(_ context.Context, wctx *WriteContext, entry directory.Entry, value any) error {
	want, ok := asBool(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a boolean")
		return nil
	}
	has := f.has(wctx.Plan.Effective(entry, f.def.Field))
	switch {
	case want && !has:
		wctx.Plan.AddMod(directory.ModAdd, f.def.Field, f.def.ObjectClass)
	case !want && has:
		for _, structural := range f.required {
			if strings.EqualFold(structural, f.def.ObjectClass) {
				wctx.Errs.Add(f.def.Key, "structural class %s cannot be removed", f.def.ObjectClass)
				return nil
			}
		}
		wctx.Plan.AddMod(directory.ModDelete, f.def.Field, f.def.ObjectClass)
	}
	return nil
}

// isMemberOfField exposes membership in one specific foreign group as a
// boolean. Reads come from the entry's reverse membership attribute; writes
// go to the group's forward attribute, so the store stays the single owner
// of the relation.
type isMemberOfField struct {
	base
	groupDN string
}

func compileIsMemberOf(def *schema.FieldDef, resolver Resolver) (*isMemberOfField, error) {
	if resolver == nil {
		return nil, fmt.Errorf("fields: %s: resolver required", def.Key)
	}
	groupDN, err := resolver.ForeignDN(def.ForeignView, def.MemberOf)
	if err != nil {
		return nil, fmt.Errorf("fields: %s: %w", def.Key, err)
	}
	return &isMemberOfField{base: base{def}, groupDN: groupDN}, nil
}

func (f *isMemberOfField) member(entry directory.Entry) bool {
	for _, v := range entry.Attrs[f.def.Field] {
		if strings.EqualFold(v, f.groupDN) {
			return true
		}
	}
	return false
}

func (f *isMemberOfField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	return f.member(entry), true
}

func (f *isMemberOfField) PlanCreate(_ context.Context, wctx *WriteContext, value any, present bool) error {
	if !present {
		return nil
	}
	want, ok := asBool(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a boolean")
		return nil
	}
	if want {
		wctx.Plan.AddForeign(f.groupDN, directory.ModAdd, f.def.ForeignField, wctx.SubjectDN)
	}
	return nil
}

func (f *isMemberOfField) PlanModify(_ context.Context, wctx *WriteContext, entry directory.Entry, value any) error {
	want, ok := asBool(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a boolean")
		return nil
	}
	switch member := f.member(entry); {
	case want && !member:
		wctx.Plan.AddForeign(f.groupDN, directory.ModAdd, f.def.ForeignField, wctx.SubjectDN)
	case !want && member:
		wctx.Plan.AddForeign(f.groupDN, directory.ModDelete, f.def.ForeignField, wctx.SubjectDN)
	}
	return nil
}

// initialField assigns a fixed value at creation time, optionally through a
// nested target field (e.g. joining a starter group). It never accepts
// client input and does nothing on update.
type initialField struct {
	base
	attr   string
	target Field
}

func compileInitial(def *schema.FieldDef, deps Deps) (*initialField, error) {
	f := &initialField{base: base{def}, attr: def.Field}
	if f.attr == "" {
		f.attr = def.Key
	}
	if def.Target != nil {
		target, err := Compile(def.Target, deps)
		if err != nil {
			return nil, err
		}
		f.target = target
	}
	return f, nil
}

func (f *initialField) Writable() bool  { return false }
func (f *initialField) Creatable() bool { return false }
func (f *initialField) Computed() bool  { return true }

func (f *initialField) Attrs() []string {
	if f.target != nil {
		return f.target.Attrs()
	}
	return []string{f.attr}
}

func (f *initialField) Project(directory.Entry) (any, bool) { return nil, false }

func (f *initialField) PlanCreate(ctx context.Context, wctx *WriteContext, _ any, _ bool) error {
	if f.target != nil {
		return f.target.PlanCreate(ctx, wctx, f.def.Value, true)
	}
	wctx.Plan.SetAttr(f.attr, fmt.Sprint(f.def.Value))
	return nil
}

func (f *initialField) PlanModify(context.Context, *WriteContext, directory.Entry, any) error {
	return nil
}
