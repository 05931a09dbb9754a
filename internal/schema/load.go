package schema

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/castellan-dir/castellan/internal/pwhash"
)

// Load reads and validates a schema file.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates schema YAML.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks structural invariants that must hold before the engine
// compiles the document: every view is addressable, every field definition
// carries the parameters its type needs, and cross-view references resolve.
func (d *Document) Validate() error {
	if len(d.Views) == 0 {
		return fmt.Errorf("schema: at least one view required")
	}
	for _, view := range d.Views {
		if err := d.validateView(view); err != nil {
			return err
		}
	}
	if d.Auth.View != "" && d.ViewByKey(d.Auth.View) == nil {
		return fmt.Errorf("schema: auth view %q not declared", d.Auth.View)
	}
	for i, q := range d.Auth.AntiSpam.Questions {
		if q.Question == "" || q.Answer == "" {
			return fmt.Errorf("schema: anti-spam question %d incomplete", i)
		}
		if _, err := regexp.Compile(q.Answer); err != nil {
			return fmt.Errorf("schema: anti-spam question %d: %w", i, err)
		}
	}
	return nil
}

func (d *Document) validateView(view *View) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("schema: view %s: %s", view.Key, fmt.Sprintf(format, args...))
	}
	if view.DN == "" {
		return fail("dn required")
	}
	if view.PrimaryKey == "" {
		return fail("primaryKey required")
	}
	if len(view.Classes) == 0 {
		return fail("classes required")
	}
	if len(view.List) == 0 {
		return fail("list projection required")
	}
	for _, def := range view.List {
		if err := d.validateField(view, def); err != nil {
			return err
		}
	}
	for _, def := range view.Auth {
		if err := d.validateField(view, def); err != nil {
			return err
		}
	}
	for _, projection := range [][]*Group{view.Details, view.Self, view.Register} {
		for _, group := range projection {
			if err := d.validateGroup(view, group); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) validateGroup(view *View, group *Group) error {
	switch group.Type {
	case GroupFields:
		for _, def := range group.Fields {
			if err := d.validateField(view, def); err != nil {
				return err
			}
		}
	case GroupMember, GroupMemberOf:
		if group.ForeignView == "" {
			return fmt.Errorf("schema: view %s: group %s: foreignView required", view.Key, group.Key)
		}
		if d.ViewByKey(group.ForeignView) == nil {
			return fmt.Errorf("schema: view %s: group %s: foreignView %q not declared", view.Key, group.Key, group.ForeignView)
		}
	}
	return nil
}

func (d *Document) validateField(view *View, def *FieldDef) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("schema: view %s: field %s: %s", view.Key, def.Key, fmt.Sprintf(format, args...))
	}
	switch def.Type {
	case TypeText:
		if def.Format != "" {
			if _, err := regexp.Compile(def.Format); err != nil {
				return fail("format: %v", err)
			}
		}
	case TypeDateTime:
	case TypeGenerate:
		if def.Format == "" {
			return fail("generate requires format")
		}
	case TypePassword:
		if def.Hashing == "" {
			return fail("password requires hashing")
		}
		if !pwhash.Known(pwhash.Scheme(def.Hashing)) {
			return fail("unknown hashing scheme %q", def.Hashing)
		}
	case TypeObjectClass:
		if def.ObjectClass == "" {
			return fail("objectClass requires objectClass")
		}
	case TypeIsMemberOf:
		if def.MemberOf == "" {
			return fail("isMemberOf requires memberOf")
		}
		if def.ForeignView == "" {
			return fail("isMemberOf requires foreignView")
		}
		if d.ViewByKey(def.ForeignView) == nil {
			return fail("foreignView %q not declared", def.ForeignView)
		}
	case TypeInitial:
		if def.Value == nil {
			return fail("initial requires value")
		}
		if def.Target != nil {
			if err := d.validateField(view, def.Target); err != nil {
				return err
			}
		}
	default:
		return fail("unknown type %q", def.Type)
	}
	return nil
}
