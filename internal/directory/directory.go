// Package directory abstracts the hierarchical entry store. Entries are
// identified by a distinguished name and hold flat multi-valued string
// attributes; there are no native foreign keys or multi-entry transactions.
package directory

import (
	"context"
	"errors"
)

// Scope selects how far below the search base a search reaches.
type Scope int

const (
	// ScopeBase matches only the base entry itself.
	ScopeBase Scope = iota
	// ScopeOne matches the direct children of the base.
	ScopeOne
	// ScopeSub matches the base and its whole subtree.
	ScopeSub
)

// ModOp is the kind of attribute modification.
type ModOp int

const (
	ModAdd ModOp = iota
	ModDelete
	ModReplace
)

// Mod is a single attribute modification. An empty Values slice with
// ModDelete removes the attribute entirely.
type Mod struct {
	Op     ModOp
	Attr   string
	Values []string
}

// Entry is one record in the directory. Multi-valued attributes are ordered
// string slices.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// First returns the first value of an attribute and whether it is present.
func (e Entry) First(attr string) (string, bool) {
	vals := e.Attrs[attr]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Has reports whether the attribute contains the exact value.
func (e Entry) Has(attr, value string) bool {
	for _, v := range e.Attrs[attr] {
		if v == value {
			return true
		}
	}
	return false
}

var (
	// ErrNoSuchObject indicates the DN does not exist.
	ErrNoSuchObject = errors.New("directory: no such object")
	// ErrAlreadyExists indicates an add collided with an existing DN.
	ErrAlreadyExists = errors.New("directory: entry already exists")
	// ErrInvalidCredentials indicates a failed bind.
	ErrInvalidCredentials = errors.New("directory: invalid credentials")
	// ErrUnavailable indicates a transport-level failure; safe to retry.
	ErrUnavailable = errors.New("directory: unavailable")
)

// Conn is the protocol boundary to the entry store. Implementations must be
// safe for concurrent use; every call is a potential suspension point and
// honors the context.
type Conn interface {
	Search(ctx context.Context, base string, scope Scope, filter string, attrs []string) ([]Entry, error)
	Get(ctx context.Context, dn string, attrs []string) (Entry, error)
	Add(ctx context.Context, dn string, attrs map[string][]string) error
	Modify(ctx context.Context, dn string, mods []Mod) error
	Delete(ctx context.Context, dn string) error
	Bind(ctx context.Context, dn, password string) error
}
