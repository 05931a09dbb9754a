package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/castellan-dir/castellan/internal/pwhash"
)

// generalizedTime is the store format of directory timestamps.
const generalizedTime = "20060102150405Z"

// Memory is an in-process directory backend used by tests and dev mode. It
// maintains the reverse memberOf attribute whenever a member attribute
// changes and stamps modifyTimestamp on every mutation, matching the
// behavior the engine relies on from a production server with the memberOf
// overlay enabled.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string][]string
	now     func() time.Time
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]map[string][]string),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source, for deterministic tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) stamp(attrs map[string][]string) {
	attrs["modifyTimestamp"] = []string{m.now().UTC().Format(generalizedTime)}
}

func (m *Memory) ancestorExists(dn string) bool {
	for dn != "" {
		if _, ok := m.entries[dn]; ok {
			return true
		}
		_, _, rest, ok := FirstRDN(dn)
		if !ok {
			return false
		}
		dn = rest
	}
	return false
}

func (m *Memory) addMemberOf(memberDN, groupDN string) {
	entry, ok := m.entries[memberDN]
	if !ok {
		return
	}
	for _, v := range entry["memberOf"] {
		if v == groupDN {
			return
		}
	}
	entry["memberOf"] = append(entry["memberOf"], groupDN)
}

func (m *Memory) removeMemberOf(memberDN, groupDN string) {
	entry, ok := m.entries[memberDN]
	if !ok {
		return
	}
	vals := entry["memberOf"]
	for i, v := range vals {
		if v == groupDN {
			entry["memberOf"] = append(vals[:i:i], vals[i+1:]...)
			return
		}
	}
}

// Add creates an entry. The DN must not exist yet.
func (m *Memory) Add(ctx context.Context, dn string, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[dn]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dn)
	}
	// Entries above the suffix are not modeled; require the immediate
	// parent only once some ancestor is present.
	if _, _, parent, ok := FirstRDN(dn); ok && parent != "" && m.ancestorExists(parent) {
		if _, exists := m.entries[parent]; !exists {
			return fmt.Errorf("%w: parent %s", ErrNoSuchObject, parent)
		}
	}
	entry := make(map[string][]string, len(attrs)+1)
	for k, v := range attrs {
		entry[k] = append([]string(nil), v...)
	}
	m.stamp(entry)
	m.entries[dn] = entry
	for _, memberDN := range entry["member"] {
		m.addMemberOf(memberDN, dn)
	}
	return nil
}

// Get fetches a single entry by DN.
func (m *Memory) Get(ctx context.Context, dn string, attrs []string) (Entry, error) {
	entries, err := m.Search(ctx, dn, ScopeBase, "(objectClass=*)", attrs)
	if err != nil {
		return Entry{}, err
	}
	// An entry without objectClass values fails the presence filter.
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNoSuchObject, dn)
	}
	return entries[0], nil
}

// Search evaluates the conjunctive equality filters the engine produces.
func (m *Memory) Search(ctx context.Context, base string, scope Scope, filter string, attrs []string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	switch scope {
	case ScopeBase:
		entry, ok := m.entries[base]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, base)
		}
		if matchTerms(entry, terms) {
			out = append(out, copyEntry(base, entry, attrs))
		}
	case ScopeOne:
		suffix := "," + base
		for dn, entry := range m.entries {
			if !strings.HasSuffix(dn, suffix) {
				continue
			}
			if strings.Contains(dn[:len(dn)-len(suffix)], ",") {
				continue
			}
			if matchTerms(entry, terms) {
				out = append(out, copyEntry(dn, entry, attrs))
			}
		}
	case ScopeSub:
		suffix := "," + base
		for dn, entry := range m.entries {
			if dn != base && !strings.HasSuffix(dn, suffix) {
				continue
			}
			if matchTerms(entry, terms) {
				out = append(out, copyEntry(dn, entry, attrs))
			}
		}
	}
	return out, nil
}

// Modify applies attribute modifications to an existing entry.
func (m *Memory) Modify(ctx context.Context, dn string, mods []Mod) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[dn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchObject, dn)
	}
	for _, mod := range mods {
		switch mod.Op {
		case ModAdd:
			entry[mod.Attr] = append(entry[mod.Attr], mod.Values...)
			if mod.Attr == "member" {
				for _, memberDN := range mod.Values {
					m.addMemberOf(memberDN, dn)
				}
			}
		case ModDelete:
			if len(mod.Values) == 0 {
				if mod.Attr == "member" {
					for _, memberDN := range entry[mod.Attr] {
						m.removeMemberOf(memberDN, dn)
					}
				}
				delete(entry, mod.Attr)
				continue
			}
			for _, val := range mod.Values {
				vals := entry[mod.Attr]
				for i, v := range vals {
					if v == val {
						entry[mod.Attr] = append(vals[:i:i], vals[i+1:]...)
						break
					}
				}
				if mod.Attr == "member" {
					m.removeMemberOf(val, dn)
				}
			}
			if len(entry[mod.Attr]) == 0 {
				delete(entry, mod.Attr)
			}
		case ModReplace:
			if mod.Attr == "member" {
				for _, memberDN := range entry[mod.Attr] {
					m.removeMemberOf(memberDN, dn)
				}
				for _, memberDN := range mod.Values {
					m.addMemberOf(memberDN, dn)
				}
			}
			entry[mod.Attr] = append([]string(nil), mod.Values...)
		}
	}
	m.stamp(entry)
	return nil
}

// Delete removes an entry and its membership back-references.
func (m *Memory) Delete(ctx context.Context, dn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[dn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchObject, dn)
	}
	for _, memberDN := range entry["member"] {
		m.removeMemberOf(memberDN, dn)
	}
	delete(m.entries, dn)
	return nil
}

// Bind verifies credentials against the entry's userPassword values.
func (m *Memory) Bind(ctx context.Context, dn, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[dn]
	if !ok {
		return ErrInvalidCredentials
	}
	for _, stored := range entry["userPassword"] {
		if pwhash.Verify(password, stored) {
			return nil
		}
	}
	return ErrInvalidCredentials
}

func copyEntry(dn string, entry map[string][]string, attrs []string) Entry {
	out := Entry{DN: dn, Attrs: make(map[string][]string)}
	if attrs == nil {
		for k, v := range entry {
			out.Attrs[k] = append([]string(nil), v...)
		}
		return out
	}
	for _, attr := range attrs {
		if vals, ok := entry[attr]; ok {
			out.Attrs[attr] = append([]string(nil), vals...)
		}
	}
	return out
}

type filterTerm struct {
	attr  string
	value string // "*" means presence
}

// parseFilter understands the subset of RFC 4515 the engine emits: a single
// equality/presence assertion or a conjunction of them.
func parseFilter(filter string) ([]filterTerm, error) {
	filter = strings.TrimSpace(filter)
	if !strings.HasPrefix(filter, "(") || !strings.HasSuffix(filter, ")") {
		return nil, fmt.Errorf("directory: unsupported filter %q", filter)
	}
	inner := filter[1 : len(filter)-1]
	if strings.HasPrefix(inner, "&") {
		var terms []filterTerm
		rest := inner[1:]
		for rest != "" {
			if !strings.HasPrefix(rest, "(") {
				return nil, fmt.Errorf("directory: unsupported filter %q", filter)
			}
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				return nil, fmt.Errorf("directory: unsupported filter %q", filter)
			}
			sub, err := parseFilter(rest[:end+1])
			if err != nil {
				return nil, err
			}
			terms = append(terms, sub...)
			rest = rest[end+1:]
		}
		return terms, nil
	}
	eq := strings.IndexByte(inner, '=')
	if eq <= 0 {
		return nil, fmt.Errorf("directory: unsupported filter %q", filter)
	}
	return []filterTerm{{attr: inner[:eq], value: unescapeFilterValue(inner[eq+1:])}}, nil
}

func unescapeFilterValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+2 < len(value) {
			hi := strings.IndexByte(hexDigits, lower(value[i+1]))
			lo := strings.IndexByte(hexDigits, lower(value[i+2]))
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func matchTerms(entry map[string][]string, terms []filterTerm) bool {
	for _, term := range terms {
		if term.value == "*" {
			if len(entry[term.attr]) == 0 {
				return false
			}
			continue
		}
		found := false
		for _, v := range entry[term.attr] {
			if strings.EqualFold(v, term.value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
