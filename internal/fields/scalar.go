package fields

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/schema"
)

// text is the plain attribute field: a single string value with optional
// pattern and enum constraints.
type textField struct {
	base
	format *regexp.Regexp
}

func compileText(def *schema.FieldDef) (*textField, error) {
	format, err := compileFormat(def.Format)
	if err != nil {
		return nil, err
	}
	return &textField{base: base{def}, format: format}, nil
}

func (f *textField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	v, _ := entry.First(f.def.Field)
	return v, true
}

func (f *textField) validate(wctx *WriteContext, value any) (string, bool) {
	s, ok := asString(value)
	if !ok {
		wctx.Errs.Add(f.def.Key, "must be a string")
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if f.def.Required {
			wctx.Errs.Add(f.def.Key, "required")
			return "", false
		}
		return "", true
	}
	if f.format != nil && !f.format.MatchString(s) {
		wctx.Errs.Add(f.def.Key, "%s", f.def.FormatMessage)
		return "", false
	}
	if len(f.def.Enum) > 0 {
		allowed := false
		for _, e := range f.def.Enum {
			if e.Value == s {
				allowed = true
				break
			}
		}
		if !allowed {
			wctx.Errs.Add(f.def.Key, "value %q not allowed", s)
			return "", false
		}
	}
	return s, true
}

func (f *textField) PlanCreate(_ context.Context, wctx *WriteContext, value any, present bool) error {
	if !present {
		if f.def.Required {
			wctx.Errs.Add(f.def.Key, "required")
		}
		return nil
	}
	s, ok := f.validate(wctx, value)
	if !ok || s == "" {
		return nil
	}
	wctx.Plan.SetAttr(f.def.Field, s)
	return nil
}

func (f *textField) PlanModify(_ context.Context, wctx *WriteContext, entry directory.Entry, value any) error {
	s, ok := f.validate(wctx, value)
	if !ok {
		return nil
	}
	current, _ := entry.First(f.def.Field)
	switch {
	case s == current:
	case s == "":
		wctx.Plan.AddMod(directory.ModDelete, f.def.Field)
	default:
		wctx.Plan.AddMod(directory.ModReplace, f.def.Field, s)
	}
	return nil
}

// datetimeField exposes a store timestamp read-only, converted from
// generalized time to RFC 3339.
type datetimeField struct {
	base
}

const storeTimeLayout = "20060102150405Z"

func (f *datetimeField) Writable() bool  { return false }
func (f *datetimeField) Creatable() bool { return false }

func (f *datetimeField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	raw, _ := entry.First(f.def.Field)
	if raw == "" {
		return "", true
	}
	t, err := time.Parse(storeTimeLayout, raw)
	if err != nil {
		return raw, true
	}
	return t.UTC().Format(time.RFC3339), true
}

func (f *datetimeField) PlanCreate(context.Context, *WriteContext, any, bool) error { return nil }

func (f *datetimeField) PlanModify(context.Context, *WriteContext, directory.Entry, any) error {
	return nil
}

// generateField derives its value from other attributes through a
// placeholder template, e.g. "{givenName} {sn}". It is recomputed on every
// write after all client-supplied fields have been staged.
type generateField struct {
	base
	segments []templateSegment
}

type templateSegment struct {
	literal string
	attr    string
}

func compileGenerate(def *schema.FieldDef) (*generateField, error) {
	segments, err := parseTemplate(def.Format)
	if err != nil {
		return nil, fmt.Errorf("fields: %s: %w", def.Key, err)
	}
	return &generateField{base: base{def}, segments: segments}, nil
}

func parseTemplate(format string) ([]templateSegment, error) {
	var out []templateSegment
	rest := format
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out = append(out, templateSegment{literal: rest})
			break
		}
		if open > 0 {
			out = append(out, templateSegment{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder in %q", format)
		}
		attr := rest[open+1 : open+end]
		if attr == "" {
			return nil, fmt.Errorf("empty placeholder in %q", format)
		}
		out = append(out, templateSegment{attr: attr})
		rest = rest[open+end+1:]
	}
	return out, nil
}

func (f *generateField) Writable() bool  { return false }
func (f *generateField) Creatable() bool { return false }
func (f *generateField) Computed() bool  { return true }

func (f *generateField) Attrs() []string {
	attrs := []string{f.def.Field}
	for _, seg := range f.segments {
		if seg.attr != "" {
			attrs = append(attrs, seg.attr)
		}
	}
	return attrs
}

func (f *generateField) Project(entry directory.Entry) (any, bool) {
	if !f.def.Readable {
		return nil, false
	}
	v, _ := entry.First(f.def.Field)
	return v, true
}

func (f *generateField) render(wctx *WriteContext, entry directory.Entry) string {
	var b strings.Builder
	empty := true
	for _, seg := range f.segments {
		if seg.attr == "" {
			b.WriteString(seg.literal)
			continue
		}
		vals := wctx.Plan.Effective(entry, seg.attr)
		if len(vals) > 0 && vals[0] != "" {
			b.WriteString(vals[0])
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.TrimSpace(b.String())
}

func (f *generateField) PlanCreate(_ context.Context, wctx *WriteContext, _ any, _ bool) error {
	if s := f.render(wctx, directory.Entry{}); s != "" {
		wctx.Plan.SetAttr(f.def.Field, s)
	}
	return nil
}

func (f *generateField) PlanModify(_ context.Context, wctx *WriteContext, entry directory.Entry, _ any) error {
	s := f.render(wctx, entry)
	current, _ := entry.First(f.def.Field)
	switch {
	case s == current:
	case s == "":
		if current != "" {
			wctx.Plan.AddMod(directory.ModDelete, f.def.Field)
		}
	default:
		wctx.Plan.AddMod(directory.ModReplace, f.def.Field, s)
	}
	return nil
}
