// Package engine interprets the view schema against the directory: it
// compiles views into bound projections and executes the list, detail,
// create, update and delete operations the HTTP layer exposes.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/castellan-dir/castellan/internal/breach"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/fields"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// Engine executes schema-declared operations against the directory. It is
// immutable after New and safe for concurrent use.
type Engine struct {
	doc    *schema.Document
	conn   directory.Conn
	baseDN string
	logger *slog.Logger
	views  map[string]*boundView
	order  []*boundView
}

// Options are the optional collaborators of an Engine.
type Options struct {
	Breach breach.Checker
	Logger *slog.Logger
}

type boundView struct {
	view        *schema.View
	container   string
	classFilter string
	list        flatProjection
	auth        flatProjection
	details     groupedProjection
	self        groupedProjection
	register    groupedProjection
}

type flatProjection struct {
	fields []fields.Field
	attrs  []string
}

type groupedProjection struct {
	groups []*boundGroup
	// ordered holds every field of the projection in write-planning order,
	// each bound to the key of the group that declared it.
	ordered []boundField
	attrs   []string
}

type boundGroup struct {
	group  *schema.Group
	fields []fields.Field
}

type boundField struct {
	groupKey string
	field    fields.Field
}

// New compiles the schema document into a ready engine. baseDN is the
// directory root suffix all view containers hang under.
func New(doc *schema.Document, conn directory.Conn, baseDN string, opts Options) (*Engine, error) {
	if baseDN == "" {
		return nil, errors.New("engine: base dn required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breach == nil {
		opts.Breach = breach.Disabled{}
	}
	e := &Engine{
		doc:    doc,
		conn:   conn,
		baseDN: baseDN,
		logger: opts.Logger,
		views:  make(map[string]*boundView, len(doc.Views)),
	}
	// Containers first so cross-view references resolve during field
	// compilation.
	for _, view := range doc.Views {
		bv := &boundView{
			view:        view,
			container:   view.DN + "," + baseDN,
			classFilter: directory.ClassFilter(view.Classes),
		}
		e.views[view.Key] = bv
		e.order = append(e.order, bv)
	}
	for _, bv := range e.order {
		deps := fields.Deps{
			Resolver:        e,
			Breach:          opts.Breach,
			RequiredClasses: bv.view.Classes,
		}
		var err error
		if bv.list, err = e.compileFlat(bv, bv.view.List, deps); err != nil {
			return nil, err
		}
		if bv.auth, err = e.compileFlat(bv, bv.view.Auth, deps); err != nil {
			return nil, err
		}
		if bv.details, err = e.compileGrouped(bv, bv.view.Details, deps); err != nil {
			return nil, err
		}
		if bv.self, err = e.compileGrouped(bv, bv.view.Self, deps); err != nil {
			return nil, err
		}
		if bv.register, err = e.compileGrouped(bv, bv.view.Register, deps); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ForeignDN composes the DN of an entry in another view. Pure composition;
// the entry may or may not exist.
func (e *Engine) ForeignDN(viewKey, primaryKey string) (string, error) {
	bv, ok := e.views[viewKey]
	if !ok {
		return "", fmt.Errorf("engine: unknown view %q", viewKey)
	}
	return directory.ComposeDN(bv.view.PrimaryKey, primaryKey, bv.container), nil
}

// EntryDN composes the DN of an entry in the named view.
func (e *Engine) EntryDN(viewKey, primaryKey string) (string, error) {
	return e.ForeignDN(viewKey, primaryKey)
}

func (e *Engine) compileFlat(bv *boundView, defs []*schema.FieldDef, deps fields.Deps) (flatProjection, error) {
	compiled, err := fields.CompileAll(defs, deps)
	if err != nil {
		return flatProjection{}, fmt.Errorf("engine: view %s: %w", bv.view.Key, err)
	}
	set := newAttrSet(bv.view.PrimaryKey, "objectClass", "modifyTimestamp")
	for _, f := range compiled {
		set.add(f.Attrs()...)
	}
	return flatProjection{fields: compiled, attrs: set.list()}, nil
}

func (e *Engine) compileGrouped(bv *boundView, groups []*schema.Group, deps fields.Deps) (groupedProjection, error) {
	out := groupedProjection{}
	set := newAttrSet(bv.view.PrimaryKey, "objectClass", "modifyTimestamp")
	for _, group := range groups {
		bg := &boundGroup{group: group}
		if group.Type == schema.GroupFields {
			compiled, err := fields.CompileAll(group.Fields, deps)
			if err != nil {
				return groupedProjection{}, fmt.Errorf("engine: view %s: group %s: %w", bv.view.Key, group.Key, err)
			}
			bg.fields = compiled
			for _, f := range compiled {
				set.add(f.Attrs()...)
			}
		} else {
			set.add(group.Field)
		}
		out.groups = append(out.groups, bg)
	}
	// Plan order spans groups: a generate field in one group may read values
	// staged by fields of another.
	groupOf := make(map[fields.Field]string)
	var all []fields.Field
	for _, bg := range out.groups {
		for _, f := range bg.fields {
			groupOf[f] = bg.group.Key
			all = append(all, f)
		}
	}
	for _, f := range fields.PlanOrder(all) {
		out.ordered = append(out.ordered, boundField{groupKey: groupOf[f], field: f})
	}
	out.attrs = set.list()
	return out, nil
}

func (e *Engine) viewByKey(key string) (*boundView, error) {
	bv, ok := e.views[key]
	if !ok {
		return nil, fmt.Errorf("%w: view %q", shared.ErrNotFound, key)
	}
	return bv, nil
}

func (e *Engine) authView() (*boundView, error) {
	if e.doc.Auth.View == "" {
		return nil, fmt.Errorf("%w: no auth view configured", shared.ErrNotFound)
	}
	return e.viewByKey(e.doc.Auth.View)
}

// AuthViewKey returns the key of the view entries authenticate against.
func (e *Engine) AuthViewKey() string { return e.doc.Auth.View }

type attrSet struct {
	seen map[string]bool
	keys []string
}

func newAttrSet(attrs ...string) *attrSet {
	s := &attrSet{seen: make(map[string]bool)}
	s.add(attrs...)
	return s
}

func (s *attrSet) add(attrs ...string) {
	for _, attr := range attrs {
		if attr == "" || s.seen[attr] {
			continue
		}
		s.seen[attr] = true
		s.keys = append(s.keys, attr)
	}
}

func (s *attrSet) list() []string { return s.keys }

// mapDirError translates store sentinels into the API error taxonomy.
func mapDirError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, directory.ErrNoSuchObject):
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	case errors.Is(err, directory.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	case errors.Is(err, directory.ErrInvalidCredentials):
		return shared.ErrAuthentication
	case errors.Is(err, directory.ErrUnavailable):
		return fmt.Errorf("%w: %v", shared.ErrDirectoryUnavailable, err)
	default:
		return err
	}
}
