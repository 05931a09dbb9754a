package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/castellan-dir/castellan/internal/authz"
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/fields"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// Payload is the grouped write body: group key to field assignments, or to
// add/delete reference lists for relation panels.
type Payload map[string]map[string]any

// Create validates and stores a new entry through the view's detail
// projection. It returns the new primary key and any secrets synthesized
// during planning (auto-generated passwords), which never reach the store in
// plaintext and are the caller's responsibility to deliver.
func (e *Engine) Create(ctx context.Context, p *shared.Principal, viewKey string, payload Payload) (string, map[string]string, error) {
	bv, err := e.viewByKey(viewKey)
	if err != nil {
		return "", nil, err
	}
	if !authz.Allowed(p, bv.view.Permissions, "") {
		return "", nil, shared.ErrPermission
	}
	if len(bv.details.groups) == 0 {
		return "", nil, fmt.Errorf("%w: view %q has no detail projection", shared.ErrNotFound, viewKey)
	}
	return e.create(ctx, bv, bv.details, payload)
}

// Register stores a new entry of the auth view through its public register
// projection. Callers gate it behind the anti-spam challenge.
func (e *Engine) Register(ctx context.Context, payload Payload) (string, map[string]string, error) {
	bv, err := e.authView()
	if err != nil {
		return "", nil, err
	}
	if len(bv.register.groups) == 0 {
		return "", nil, fmt.Errorf("%w: registration disabled", shared.ErrNotFound)
	}
	return e.create(ctx, bv, bv.register, payload)
}

func (e *Engine) create(ctx context.Context, bv *boundView, projection groupedProjection, payload Payload) (string, map[string]string, error) {
	pk, err := extractPrimaryKey(bv, projection, payload)
	if err != nil {
		return "", nil, err
	}
	dn := directory.ComposeDN(bv.view.PrimaryKey, pk, bv.container)
	wctx := fields.NewWriteContext(dn)
	wctx.Plan.SetAttr("objectClass", bv.view.Classes...)

	checkUnknownKeys(projection, payload, wctx.Errs)
	for _, bg := range projection.groups {
		if bg.group.Type == schema.GroupFields {
			continue
		}
		if err := e.planPanel(ctx, wctx, bg, directory.Entry{}, payload[bg.group.Key], true); err != nil {
			return "", nil, err
		}
	}
	for _, bf := range projection.ordered {
		value, present := payload[bf.groupKey][bf.field.Key()]
		if present && !bf.field.Creatable() {
			return "", nil, fmt.Errorf("%w: field %s does not accept input", shared.ErrPermission, bf.field.Key())
		}
		if err := bf.field.PlanCreate(ctx, wctx, value, present); err != nil {
			return "", nil, mapDirError(err)
		}
	}
	if err := wctx.Errs.Err(); err != nil {
		return "", nil, err
	}

	if err := e.addEntry(ctx, bv, dn, wctx.Plan.Attrs); err != nil {
		return "", nil, err
	}
	if err := e.applyForeign(ctx, wctx.Plan.Foreign); err != nil {
		e.logger.Warn("entry created but reference update failed",
			slog.String("dn", dn), slog.Any("error", err))
		return "", nil, err
	}
	return pk, wctx.Plan.Generated, nil
}

// Update validates and applies a partial update of one entry. Foreign
// reference changes are applied before the entry's own modification; there
// is no cross-entry transaction, so a failure in between leaves the
// reference change in place and the entry untouched.
func (e *Engine) Update(ctx context.Context, p *shared.Principal, viewKey, pk string, payload Payload) error {
	bv, err := e.viewByKey(viewKey)
	if err != nil {
		return err
	}
	if !authz.Allowed(p, bv.view.Permissions, pk) {
		return shared.ErrPermission
	}
	return e.update(ctx, bv, bv.details, pk, payload)
}

// SelfUpdate applies a partial update of the caller's own entry through the
// self projection.
func (e *Engine) SelfUpdate(ctx context.Context, p *shared.Principal, payload Payload) error {
	if p == nil {
		return shared.ErrPermission
	}
	bv, err := e.authView()
	if err != nil {
		return err
	}
	if len(bv.self.groups) == 0 {
		return fmt.Errorf("%w: view %q has no self projection", shared.ErrNotFound, bv.view.Key)
	}
	return e.update(ctx, bv, bv.self, p.PrimaryKey, payload)
}

func (e *Engine) update(ctx context.Context, bv *boundView, projection groupedProjection, pk string, payload Payload) error {
	dn := directory.ComposeDN(bv.view.PrimaryKey, pk, bv.container)
	entry, err := e.conn.Get(ctx, dn, projection.attrs)
	if err != nil {
		return mapDirError(err)
	}
	wctx := fields.NewWriteContext(dn)

	checkUnknownKeys(projection, payload, wctx.Errs)
	for _, bg := range projection.groups {
		if bg.group.Type == schema.GroupFields {
			continue
		}
		if ops, ok := payload[bg.group.Key]; ok {
			if err := e.planPanel(ctx, wctx, bg, entry, ops, false); err != nil {
				return err
			}
		}
	}
	for _, bf := range projection.ordered {
		value, present := payload[bf.groupKey][bf.field.Key()]
		if present && !bf.field.Writable() {
			return fmt.Errorf("%w: field %s does not accept input", shared.ErrPermission, bf.field.Key())
		}
		if !present && !bf.field.Computed() {
			continue
		}
		if err := bf.field.PlanModify(ctx, wctx, entry, value); err != nil {
			return mapDirError(err)
		}
	}
	if err := wctx.Errs.Err(); err != nil {
		return err
	}
	for _, mod := range wctx.Plan.Mods {
		if strings.EqualFold(mod.Attr, bv.view.PrimaryKey) {
			return fmt.Errorf("%w: primary key cannot be modified", shared.ErrValidation)
		}
	}
	if wctx.Plan.Empty() {
		return nil
	}

	if err := e.applyForeign(ctx, wctx.Plan.Foreign); err != nil {
		return err
	}
	if len(wctx.Plan.Mods) > 0 {
		if err := e.conn.Modify(ctx, dn, wctx.Plan.Mods); err != nil {
			return mapDirError(err)
		}
	}
	return nil
}

// Delete removes an entry and strips dangling forward references to it.
// Ownership never grants deletion; a role from the permission list is
// required.
func (e *Engine) Delete(ctx context.Context, p *shared.Principal, viewKey, pk string) error {
	bv, err := e.viewByKey(viewKey)
	if err != nil {
		return err
	}
	if !authz.Allowed(p, bv.view.Permissions, "") {
		return shared.ErrPermission
	}
	dn := directory.ComposeDN(bv.view.PrimaryKey, pk, bv.container)
	if err := e.conn.Delete(ctx, dn); err != nil {
		return mapDirError(err)
	}
	e.cleanupReferences(ctx, dn)
	return nil
}

// cleanupReferences removes forward member references to a deleted DN. Best
// effort: the entry itself is already gone.
func (e *Engine) cleanupReferences(ctx context.Context, dn string) {
	referrers, err := e.conn.Search(ctx, e.baseDN, directory.ScopeSub, directory.EqualityFilter("member", dn), []string{"member"})
	if err != nil {
		e.logger.Warn("reference cleanup search failed", slog.String("dn", dn), slog.Any("error", err))
		return
	}
	for _, ref := range referrers {
		mod := []directory.Mod{{Op: directory.ModDelete, Attr: "member", Values: []string{dn}}}
		if err := e.conn.Modify(ctx, ref.DN, mod); err != nil {
			e.logger.Warn("reference cleanup failed",
				slog.String("dn", dn), slog.String("referrer", ref.DN), slog.Any("error", err))
		}
	}
}

func (e *Engine) addEntry(ctx context.Context, bv *boundView, dn string, attrs map[string][]string) error {
	err := e.conn.Add(ctx, dn, attrs)
	if errors.Is(err, directory.ErrNoSuchObject) && bv.view.AutoCreate != nil {
		if berr := e.bootstrapContainer(ctx, bv); berr != nil {
			return mapDirError(berr)
		}
		err = e.conn.Add(ctx, dn, attrs)
	}
	return mapDirError(err)
}

func (e *Engine) bootstrapContainer(ctx context.Context, bv *boundView) error {
	auto := bv.view.AutoCreate
	attr, value, _, ok := directory.FirstRDN(bv.container)
	if !ok {
		return fmt.Errorf("engine: view %s: malformed container %q", bv.view.Key, bv.container)
	}
	attrs := map[string][]string{
		"objectClass": auto.Classes,
		attr:          {value},
	}
	for k, v := range auto.Attributes {
		attrs[k] = append([]string(nil), v...)
	}
	e.logger.Info("bootstrapping view container",
		slog.String("view", bv.view.Key), slog.String("dn", bv.container))
	err := e.conn.Add(ctx, bv.container, attrs)
	if errors.Is(err, directory.ErrAlreadyExists) {
		return nil
	}
	return err
}

// applyForeign applies staged modifications of other entries, in order.
func (e *Engine) applyForeign(ctx context.Context, mods []fields.ForeignMod) error {
	for _, fm := range mods {
		if err := e.conn.Modify(ctx, fm.DN, []directory.Mod{fm.Mod}); err != nil {
			return mapDirError(err)
		}
	}
	return nil
}

// planPanel stages add/delete reference operations of a relation panel.
// Member panels own the forward attribute on the subject entry; memberOf
// panels write the forward attribute of the foreign entry.
func (e *Engine) planPanel(ctx context.Context, wctx *fields.WriteContext, bg *boundGroup, entry directory.Entry, ops map[string]any, creating bool) error {
	if ops == nil {
		return nil
	}
	foreign, ok := e.views[bg.group.ForeignView]
	if !ok {
		wctx.Errs.Add(bg.group.Key, "unknown foreign view %q", bg.group.ForeignView)
		return nil
	}
	for key := range ops {
		if key != "add" && key != "delete" {
			wctx.Errs.Add(bg.group.Key, "unknown operation %q", key)
		}
	}
	adds, ok := panelList(ops["add"])
	if !ok {
		wctx.Errs.Add(bg.group.Key, "add must be a list of keys")
		return nil
	}
	dels, ok := panelList(ops["delete"])
	if !ok {
		wctx.Errs.Add(bg.group.Key, "delete must be a list of keys")
		return nil
	}
	if creating && len(dels) > 0 {
		wctx.Errs.Add(bg.group.Key, "cannot remove references at creation")
		return nil
	}
	for _, pk := range adds {
		dn := directory.ComposeDN(foreign.view.PrimaryKey, pk, foreign.container)
		if _, err := e.conn.Get(ctx, dn, []string{"objectClass"}); err != nil {
			if errors.Is(err, directory.ErrNoSuchObject) {
				wctx.Errs.Add(bg.group.Key, "unknown %s %q", foreign.view.Key, pk)
				continue
			}
			return mapDirError(err)
		}
		switch bg.group.Type {
		case schema.GroupMember:
			if creating {
				wctx.Plan.AppendAttr(bg.group.Field, dn)
			} else if !hasFold(entry.Attrs[bg.group.Field], dn) {
				wctx.Plan.AddMod(directory.ModAdd, bg.group.Field, dn)
			}
		case schema.GroupMemberOf:
			if creating || !hasFold(entry.Attrs[bg.group.Field], dn) {
				wctx.Plan.AddForeign(dn, directory.ModAdd, bg.group.ForeignField, wctx.SubjectDN)
			}
		}
	}
	for _, pk := range dels {
		dn := directory.ComposeDN(foreign.view.PrimaryKey, pk, foreign.container)
		switch bg.group.Type {
		case schema.GroupMember:
			if hasFold(entry.Attrs[bg.group.Field], dn) {
				wctx.Plan.AddMod(directory.ModDelete, bg.group.Field, dn)
			}
		case schema.GroupMemberOf:
			if hasFold(entry.Attrs[bg.group.Field], dn) {
				wctx.Plan.AddForeign(dn, directory.ModDelete, bg.group.ForeignField, wctx.SubjectDN)
			}
		}
	}
	return nil
}

func panelList(value any) ([]string, bool) {
	if value == nil {
		return nil, true
	}
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, false
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, true
}

func hasFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func extractPrimaryKey(bv *boundView, projection groupedProjection, payload Payload) (string, error) {
	for _, bg := range projection.groups {
		for _, f := range bg.fields {
			if !strings.EqualFold(f.Def().Field, bv.view.PrimaryKey) {
				continue
			}
			raw, ok := payload[bg.group.Key][f.Key()]
			if !ok {
				continue
			}
			s, ok := raw.(string)
			s = strings.TrimSpace(s)
			if !ok || s == "" {
				break
			}
			return s, nil
		}
	}
	errs := shared.NewFieldErrors()
	errs.Add(bv.view.PrimaryKey, "required")
	return "", errs.Err()
}

// checkUnknownKeys rejects payload groups and fields the projection does not
// declare, so typos fail loudly instead of silently doing nothing.
func checkUnknownKeys(projection groupedProjection, payload Payload, errs *shared.FieldErrors) {
	known := make(map[string]*boundGroup, len(projection.groups))
	for _, bg := range projection.groups {
		known[bg.group.Key] = bg
	}
	for groupKey, vals := range payload {
		bg, ok := known[groupKey]
		if !ok {
			errs.Add(groupKey, "unknown group")
			continue
		}
		if bg.group.Type != schema.GroupFields {
			continue
		}
		for fieldKey := range vals {
			found := false
			for _, f := range bg.fields {
				if f.Key() == fieldKey {
					found = true
					break
				}
			}
			if !found {
				errs.Add(fieldKey, "unknown field")
			}
		}
	}
}
