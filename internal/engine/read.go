package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/castellan-dir/castellan/internal/authz"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// List returns the flat list projection of every entry in the view.
func (e *Engine) List(ctx context.Context, p *shared.Principal, viewKey string) ([]map[string]any, error) {
	bv, err := e.viewByKey(viewKey)
	if err != nil {
		return nil, err
	}
	if !authz.Allowed(p, bv.view.Permissions, "") {
		return nil, shared.ErrPermission
	}
	entries, err := e.conn.Search(ctx, bv.container, directory.ScopeOne, bv.classFilter, bv.list.attrs)
	if err != nil {
		// A missing container means an empty, not-yet-bootstrapped view.
		if errors.Is(err, directory.ErrNoSuchObject) {
			return []map[string]any{}, nil
		}
		return nil, mapDirError(err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, projectFlat(bv.list, entry))
	}
	return out, nil
}

// Details returns the grouped detail projection of one entry.
func (e *Engine) Details(ctx context.Context, p *shared.Principal, viewKey, pk string) (map[string]any, error) {
	bv, err := e.viewByKey(viewKey)
	if err != nil {
		return nil, err
	}
	if !authz.Allowed(p, bv.view.Permissions, pk) {
		return nil, shared.ErrPermission
	}
	return e.projectEntry(ctx, bv, bv.details, pk)
}

// SelfRead returns the caller's own entry through the self projection of the
// auth view.
func (e *Engine) SelfRead(ctx context.Context, p *shared.Principal) (map[string]any, error) {
	if p == nil {
		return nil, shared.ErrPermission
	}
	bv, err := e.authView()
	if err != nil {
		return nil, err
	}
	if len(bv.view.Self) == 0 {
		return nil, fmt.Errorf("%w: view %q has no self projection", shared.ErrNotFound, bv.view.Key)
	}
	return e.projectEntry(ctx, bv, bv.self, p.PrimaryKey)
}

func (e *Engine) projectEntry(ctx context.Context, bv *boundView, projection groupedProjection, pk string) (map[string]any, error) {
	dn := directory.ComposeDN(bv.view.PrimaryKey, pk, bv.container)
	entry, err := e.conn.Get(ctx, dn, projection.attrs)
	if err != nil {
		return nil, mapDirError(err)
	}
	return e.projectGrouped(projection, entry), nil
}

func projectFlat(projection flatProjection, entry directory.Entry) map[string]any {
	out := make(map[string]any, len(projection.fields))
	for _, f := range projection.fields {
		if value, ok := f.Project(entry); ok {
			out[f.Key()] = value
		}
	}
	return out
}

func (e *Engine) projectGrouped(projection groupedProjection, entry directory.Entry) map[string]any {
	out := make(map[string]any, len(projection.groups))
	for _, bg := range projection.groups {
		if bg.group.Type == schema.GroupFields {
			out[bg.group.Key] = projectFlat(flatProjection{fields: bg.fields}, entry)
			continue
		}
		out[bg.group.Key] = e.projectPanel(bg, entry)
	}
	return out
}

// projectPanel maps the panel's DN references back to foreign primary keys.
// References that do not parse as members of the foreign view are dropped.
func (e *Engine) projectPanel(bg *boundGroup, entry directory.Entry) []string {
	foreign, ok := e.views[bg.group.ForeignView]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(entry.Attrs[bg.group.Field]))
	for _, dn := range entry.Attrs[bg.group.Field] {
		if pk, ok := directory.SplitUnderBase(dn, foreign.view.PrimaryKey, foreign.container); ok {
			out = append(out, pk)
		}
	}
	return out
}

// AuthProjection returns the flat auth projection of one entry of the auth
// view together with the raw entry, for principal construction.
func (e *Engine) AuthProjection(ctx context.Context, pk string) (map[string]any, directory.Entry, error) {
	bv, err := e.authView()
	if err != nil {
		return nil, directory.Entry{}, err
	}
	dn := directory.ComposeDN(bv.view.PrimaryKey, pk, bv.container)
	entry, err := e.conn.Get(ctx, dn, bv.auth.attrs)
	if err != nil {
		return nil, directory.Entry{}, mapDirError(err)
	}
	return projectFlat(bv.auth, entry), entry, nil
}

// ResolveByAttr finds the primary key of the auth-view entry whose attribute
// has the given value. Exactly one match is required.
func (e *Engine) ResolveByAttr(ctx context.Context, attr, value string) (string, error) {
	bv, err := e.authView()
	if err != nil {
		return "", err
	}
	filter := directory.AndFilter(bv.classFilter, directory.EqualityFilter(attr, value))
	entries, err := e.conn.Search(ctx, bv.container, directory.ScopeOne, filter, []string{bv.view.PrimaryKey})
	if err != nil {
		return "", mapDirError(err)
	}
	if len(entries) != 1 {
		return "", fmt.Errorf("%w: %s=%s", shared.ErrNotFound, attr, value)
	}
	pk, ok := entries[0].First(bv.view.PrimaryKey)
	if !ok {
		return "", fmt.Errorf("%w: entry %s has no %s", shared.ErrNotFound, entries[0].DN, bv.view.PrimaryKey)
	}
	return pk, nil
}

// ClientConfig projects every view the principal may interact with.
func (e *Engine) ClientConfig(p *shared.Principal) []schema.ViewConfig {
	out := make([]schema.ViewConfig, 0, len(e.order))
	for _, bv := range e.order {
		pk := ""
		if p != nil {
			pk = p.PrimaryKey
		}
		if !authz.Allowed(p, bv.view.Permissions, pk) {
			continue
		}
		out = append(out, bv.view.ClientConfig())
	}
	return out
}

// RegisterConfig returns the public registration form description, or nil
// when self-registration is not configured.
func (e *Engine) RegisterConfig() *schema.RegisterConfig {
	bv, err := e.authView()
	if err != nil {
		return nil
	}
	return bv.view.PublicRegisterConfig()
}
