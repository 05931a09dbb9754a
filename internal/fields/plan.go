package fields

import (
	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/shared"
)

// ForeignMod is a staged modification of a different entry, produced by
// relational fields (group membership toggles).
type ForeignMod struct {
	DN  string
	Mod directory.Mod
}

// Plan accumulates the staged outcome of a write across all fields. Nothing
// reaches the store until every field has validated; the engine applies the
// plan afterwards.
type Plan struct {
	// Attrs is the attribute set of a new entry (create path).
	Attrs map[string][]string
	// Mods are the modifications of the subject entry (update path).
	Mods []directory.Mod
	// Foreign are modifications of other entries, applied before Mods.
	Foreign []ForeignMod
	// Generated holds plaintext secrets synthesized during planning, keyed
	// by field key, so the caller can deliver them out of band.
	Generated map[string]string
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{Attrs: make(map[string][]string)}
}

// SetAttr stages attribute values for a new entry.
func (p *Plan) SetAttr(attr string, values ...string) {
	p.Attrs[attr] = values
}

// AppendAttr adds a value to a staged attribute, skipping duplicates.
func (p *Plan) AppendAttr(attr, value string) {
	for _, v := range p.Attrs[attr] {
		if v == value {
			return
		}
	}
	p.Attrs[attr] = append(p.Attrs[attr], value)
}

// AddMod stages a modification of the subject entry.
func (p *Plan) AddMod(op directory.ModOp, attr string, values ...string) {
	p.Mods = append(p.Mods, directory.Mod{Op: op, Attr: attr, Values: values})
}

// AddForeign stages a modification of another entry.
func (p *Plan) AddForeign(dn string, op directory.ModOp, attr string, values ...string) {
	p.Foreign = append(p.Foreign, ForeignMod{DN: dn, Mod: directory.Mod{Op: op, Attr: attr, Values: values}})
}

// SetGenerated records a synthesized plaintext secret.
func (p *Plan) SetGenerated(field, plaintext string) {
	if p.Generated == nil {
		p.Generated = make(map[string]string)
	}
	p.Generated[field] = plaintext
}

// Empty reports whether the plan stages no store change at all.
func (p *Plan) Empty() bool {
	return len(p.Attrs) == 0 && len(p.Mods) == 0 && len(p.Foreign) == 0
}

// Effective returns the values an attribute will have once the plan is
// applied on top of entry: staged create attributes win, then staged
// replace/add/delete mods, then the entry's current values.
func (p *Plan) Effective(entry directory.Entry, attr string) []string {
	if vals, ok := p.Attrs[attr]; ok {
		return vals
	}
	vals := append([]string(nil), entry.Attrs[attr]...)
	for _, mod := range p.Mods {
		if mod.Attr != attr {
			continue
		}
		switch mod.Op {
		case directory.ModReplace:
			vals = append([]string(nil), mod.Values...)
		case directory.ModAdd:
			vals = append(vals, mod.Values...)
		case directory.ModDelete:
			if len(mod.Values) == 0 {
				vals = nil
				continue
			}
			for _, del := range mod.Values {
				for i, v := range vals {
					if v == del {
						vals = append(vals[:i:i], vals[i+1:]...)
						break
					}
				}
			}
		}
	}
	return vals
}

// WriteContext is the shared state of one planning pass.
type WriteContext struct {
	// SubjectDN is the DN of the entry being created or modified.
	SubjectDN string
	Plan      *Plan
	Errs      *shared.FieldErrors
}

// NewWriteContext builds the planning state for one write.
func NewWriteContext(subjectDN string) *WriteContext {
	return &WriteContext{
		SubjectDN: subjectDN,
		Plan:      NewPlan(),
		Errs:      shared.NewFieldErrors(),
	}
}
