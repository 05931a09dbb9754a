// Package schema holds the declarative view schema: entity collections,
// their field projections, validation rules and access rules. The schema is
// loaded once at process start and treated as immutable for the process
// lifetime; components receive it explicitly.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldType is the closed set of field-type variants.
type FieldType string

const (
	TypeText        FieldType = "text"
	TypeDateTime    FieldType = "datetime"
	TypeGenerate    FieldType = "generate"
	TypePassword    FieldType = "password"
	TypeObjectClass FieldType = "objectClass"
	TypeIsMemberOf  FieldType = "isMemberOf"
	TypeInitial     FieldType = "initial"
)

// GroupType is the kind of a detail-projection group.
type GroupType string

const (
	GroupFields   GroupType = "fields"
	GroupMember   GroupType = "member"
	GroupMemberOf GroupType = "memberOf"
)

// EnumValue is one allowed value with its display title.
type EnumValue struct {
	Title string `yaml:"title" json:"title"`
	Value string `yaml:"value" json:"value"`
}

// FieldDef is one field definition inside a projection.
type FieldDef struct {
	Key   string
	Type  FieldType
	Title string
	// Field is the underlying store attribute; defaults to Key (or to the
	// conventional attribute for relational variants).
	Field     string
	Required  bool
	Readable  bool
	Writable  bool
	Creatable bool
	Hidden    bool

	// Format is the validation pattern for text fields and the placeholder
	// template for generate fields.
	Format        string
	FormatMessage string
	Enum          []EnumValue

	// password
	Hashing      string
	AutoGenerate bool
	BreachCheck  bool
	Verify       bool

	// objectClass
	ObjectClass string

	// isMemberOf
	MemberOf     string
	ForeignView  string
	ForeignField string

	// initial
	Value  any
	Target *FieldDef
}

type fieldDefDoc struct {
	Type          FieldType   `yaml:"type"`
	Title         string      `yaml:"title"`
	Field         string      `yaml:"field"`
	Required      bool        `yaml:"required"`
	Readable      *bool       `yaml:"readable"`
	Writable      *bool       `yaml:"writable"`
	Creatable     *bool       `yaml:"creatable"`
	Hidden        bool        `yaml:"hidden"`
	Format        string      `yaml:"format"`
	FormatMessage string      `yaml:"formatMessage"`
	Enum          []EnumValue `yaml:"enum"`
	Hashing       string      `yaml:"hashing"`
	AutoGenerate  bool        `yaml:"autoGenerate"`
	BreachCheck   bool        `yaml:"breachCheck"`
	Verify        bool        `yaml:"verify"`
	ObjectClass   string      `yaml:"objectClass"`
	MemberOf      string      `yaml:"memberOf"`
	ForeignView   string      `yaml:"foreignView"`
	ForeignField  string      `yaml:"foreignField"`
	Value         any         `yaml:"value"`
	Target        *yaml.Node  `yaml:"target"`
}

// UnmarshalYAML decodes a field definition, applying the flag defaults
// (readable, writable and creatable default to true).
func (f *FieldDef) UnmarshalYAML(node *yaml.Node) error {
	var doc fieldDefDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	f.Type = doc.Type
	f.Title = doc.Title
	f.Field = doc.Field
	f.Required = doc.Required
	f.Readable = doc.Readable == nil || *doc.Readable
	f.Writable = doc.Writable == nil || *doc.Writable
	f.Creatable = doc.Creatable == nil || *doc.Creatable
	f.Hidden = doc.Hidden
	f.Format = doc.Format
	f.FormatMessage = doc.FormatMessage
	f.Enum = doc.Enum
	f.Hashing = doc.Hashing
	f.AutoGenerate = doc.AutoGenerate
	f.BreachCheck = doc.BreachCheck
	f.Verify = doc.Verify
	f.ObjectClass = doc.ObjectClass
	f.MemberOf = doc.MemberOf
	f.ForeignView = doc.ForeignView
	f.ForeignField = doc.ForeignField
	f.Value = doc.Value
	if doc.Target != nil {
		target := struct {
			Key string `yaml:"key"`
		}{}
		if err := doc.Target.Decode(&target); err != nil {
			return err
		}
		if target.Key == "" {
			target.Key = f.Key
		}
		f.Target = &FieldDef{Key: target.Key}
		if err := f.Target.UnmarshalYAML(doc.Target); err != nil {
			return err
		}
	}
	f.applyDefaults()
	return nil
}

func (f *FieldDef) applyDefaults() {
	if f.Field == "" {
		switch f.Type {
		case TypeIsMemberOf:
			f.Field = "memberOf"
		case TypeObjectClass:
			f.Field = "objectClass"
		case TypeInitial:
		default:
			f.Field = f.Key
		}
	}
	if f.Type == TypeIsMemberOf && f.ForeignField == "" {
		f.ForeignField = "member"
	}
	if f.FormatMessage == "" {
		f.FormatMessage = f.Format
	}
}

// Group is one ordered group of a detail-style projection: either a set of
// fields or a relational membership panel.
type Group struct {
	Key   string
	Type  GroupType
	Title string

	// fields
	Fields []*FieldDef

	// member / memberOf panels
	ForeignView  string
	Field        string
	ForeignField string
}

func (g *Group) unmarshal(key string, node *yaml.Node) error {
	g.Key = key
	var doc struct {
		Type         GroupType  `yaml:"type"`
		Title        string     `yaml:"title"`
		Fields       *yaml.Node `yaml:"fields"`
		ForeignView  string     `yaml:"foreignView"`
		Field        string     `yaml:"field"`
		ForeignField string     `yaml:"foreignField"`
	}
	if err := node.Decode(&doc); err != nil {
		return err
	}
	g.Type = doc.Type
	g.Title = doc.Title
	g.ForeignView = doc.ForeignView
	g.Field = doc.Field
	g.ForeignField = doc.ForeignField
	switch doc.Type {
	case GroupFields:
		if doc.Fields == nil {
			return fmt.Errorf("group %s: fields required", key)
		}
		fields, err := decodeFieldList(doc.Fields)
		if err != nil {
			return fmt.Errorf("group %s: %w", key, err)
		}
		g.Fields = fields
	case GroupMember:
		if g.Field == "" {
			g.Field = "member"
		}
		if g.ForeignField == "" {
			g.ForeignField = "memberOf"
		}
	case GroupMemberOf:
		if g.Field == "" {
			g.Field = "memberOf"
		}
		if g.ForeignField == "" {
			g.ForeignField = "member"
		}
	default:
		return fmt.Errorf("group %s: unknown type %q", key, doc.Type)
	}
	return nil
}

// AutoCreate describes how to bootstrap a view's container lazily.
type AutoCreate struct {
	Classes    []string            `yaml:"classes"`
	Attributes map[string][]string `yaml:"attributes"`
}

// View is one schema-declared entity collection.
type View struct {
	Key         string
	Title       string
	Description string
	IconClasses string
	// DN is the container path relative to the directory root suffix.
	DN          string
	PrimaryKey  string
	Classes     []string
	Permissions []string
	AutoCreate  *AutoCreate

	List     []*FieldDef
	Auth     []*FieldDef
	Details  []*Group
	Self     []*Group
	Register []*Group
}

func (v *View) unmarshal(key string, node *yaml.Node) error {
	v.Key = key
	var doc struct {
		Title       string      `yaml:"title"`
		Description string      `yaml:"description"`
		IconClasses string      `yaml:"iconClasses"`
		DN          string      `yaml:"dn"`
		PrimaryKey  string      `yaml:"primaryKey"`
		Classes     []string    `yaml:"classes"`
		Permissions []string    `yaml:"permissions"`
		AutoCreate  *AutoCreate `yaml:"autoCreate"`
		List        *yaml.Node  `yaml:"list"`
		Auth        *yaml.Node  `yaml:"auth"`
		Details     *yaml.Node  `yaml:"details"`
		Self        *yaml.Node  `yaml:"self"`
		Register    *yaml.Node  `yaml:"register"`
	}
	if err := node.Decode(&doc); err != nil {
		return err
	}
	v.Title = doc.Title
	v.Description = doc.Description
	v.IconClasses = doc.IconClasses
	v.DN = doc.DN
	v.PrimaryKey = doc.PrimaryKey
	v.Classes = doc.Classes
	v.Permissions = doc.Permissions
	v.AutoCreate = doc.AutoCreate

	var err error
	if doc.List != nil {
		if v.List, err = decodeFieldList(doc.List); err != nil {
			return fmt.Errorf("view %s: list: %w", key, err)
		}
	}
	if doc.Auth != nil {
		if v.Auth, err = decodeFieldList(doc.Auth); err != nil {
			return fmt.Errorf("view %s: auth: %w", key, err)
		}
	}
	if doc.Details != nil {
		if v.Details, err = decodeGroupList(doc.Details); err != nil {
			return fmt.Errorf("view %s: details: %w", key, err)
		}
	}
	if doc.Self != nil {
		if v.Self, err = decodeGroupList(doc.Self); err != nil {
			return fmt.Errorf("view %s: self: %w", key, err)
		}
	}
	if doc.Register != nil {
		if v.Register, err = decodeGroupList(doc.Register); err != nil {
			return fmt.Errorf("view %s: register: %w", key, err)
		}
	}
	return nil
}

// Question is one anti-spam challenge: a question and the regular
// expression its answer must fully match.
type Question struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// AuthConfig is the schema's authentication section.
type AuthConfig struct {
	// View names the view whose entries authenticate (conventionally users).
	View     string `yaml:"view"`
	AntiSpam struct {
		Questions []Question `yaml:"questions"`
	} `yaml:"antiSpam"`
}

// Document is a fully parsed schema file. View order is preserved.
type Document struct {
	Views    []*View
	viewsByK map[string]*View
	Auth     AuthConfig
}

// UnmarshalYAML decodes the schema document preserving view order.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var doc struct {
		Views *yaml.Node `yaml:"views"`
		Auth  AuthConfig `yaml:"auth"`
	}
	if err := node.Decode(&doc); err != nil {
		return err
	}
	d.Auth = doc.Auth
	d.viewsByK = make(map[string]*View)
	if doc.Views == nil {
		return fmt.Errorf("schema: views section required")
	}
	return eachMapItem(doc.Views, func(key string, value *yaml.Node) error {
		view := &View{}
		if err := view.unmarshal(key, value); err != nil {
			return err
		}
		d.Views = append(d.Views, view)
		d.viewsByK[key] = view
		return nil
	})
}

// ViewByKey returns the named view, or nil.
func (d *Document) ViewByKey(key string) *View {
	return d.viewsByK[key]
}

func decodeFieldList(node *yaml.Node) ([]*FieldDef, error) {
	var out []*FieldDef
	err := eachMapItem(node, func(key string, value *yaml.Node) error {
		def := &FieldDef{Key: key}
		if err := def.UnmarshalYAML(value); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		out = append(out, def)
		return nil
	})
	return out, err
}

func decodeGroupList(node *yaml.Node) ([]*Group, error) {
	var out []*Group
	err := eachMapItem(node, func(key string, value *yaml.Node) error {
		group := &Group{}
		if err := group.unmarshal(key, value); err != nil {
			return err
		}
		out = append(out, group)
		return nil
	})
	return out, err
}

func eachMapItem(node *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping, got %v", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := fn(key, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
