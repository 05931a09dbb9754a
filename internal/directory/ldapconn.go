package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPConfig configures the production backend.
type LDAPConfig struct {
	URL          string
	BindDN       string
	BindPassword string
	Timeout      time.Duration
	// PoolSize bounds the number of idle service connections kept open.
	PoolSize int
}

// LDAP is the production Conn backed by go-ldap. Service connections are
// pooled and checked out for the duration of a single operation; credential
// checks bind on a dedicated throwaway connection so the service bind is
// never downgraded.
type LDAP struct {
	cfg  LDAPConfig
	idle chan *ldap.Conn
}

// NewLDAP validates the configuration and prepares the pool. No connection
// is opened until the first operation.
func NewLDAP(cfg LDAPConfig) (*LDAP, error) {
	if cfg.URL == "" {
		return nil, errors.New("directory: ldap url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &LDAP{cfg: cfg, idle: make(chan *ldap.Conn, cfg.PoolSize)}, nil
}

// Close drains the pool.
func (l *LDAP) Close() {
	for {
		select {
		case conn := <-l.idle:
			_ = conn.Close()
		default:
			return
		}
	}
}

func (l *LDAP) dial(ctx context.Context) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(l.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	} else {
		conn.SetTimeout(l.cfg.Timeout)
	}
	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			_ = conn.Close()
			return nil, mapLDAPError(err)
		}
	}
	return conn, nil
}

func (l *LDAP) acquire(ctx context.Context) (*ldap.Conn, error) {
	select {
	case conn := <-l.idle:
		if conn.IsClosing() {
			_ = conn.Close()
			return l.dial(ctx)
		}
		return conn, nil
	default:
		return l.dial(ctx)
	}
}

func (l *LDAP) release(conn *ldap.Conn, opErr error) {
	if opErr != nil && errors.Is(opErr, ErrUnavailable) {
		_ = conn.Close()
		return
	}
	select {
	case l.idle <- conn:
	default:
		_ = conn.Close()
	}
}

func (l *LDAP) withConn(ctx context.Context, fn func(*ldap.Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(conn)
	l.release(conn, err)
	return err
}

// Search runs a search under base with the given scope and filter.
func (l *LDAP) Search(ctx context.Context, base string, scope Scope, filter string, attrs []string) ([]Entry, error) {
	var out []Entry
	err := l.withConn(ctx, func(conn *ldap.Conn) error {
		req := ldap.NewSearchRequest(
			base, ldapScope(scope), ldap.NeverDerefAliases, 0, 0, false,
			filter, attrs, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			return mapLDAPError(err)
		}
		out = make([]Entry, 0, len(res.Entries))
		for _, e := range res.Entries {
			entry := Entry{DN: e.DN, Attrs: make(map[string][]string, len(e.Attributes))}
			for _, attr := range e.Attributes {
				entry.Attrs[attr.Name] = append([]string(nil), attr.Values...)
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// Get fetches one entry by DN.
func (l *LDAP) Get(ctx context.Context, dn string, attrs []string) (Entry, error) {
	entries, err := l.Search(ctx, dn, ScopeBase, "(objectClass=*)", attrs)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNoSuchObject, dn)
	}
	return entries[0], nil
}

// Add creates a new entry.
func (l *LDAP) Add(ctx context.Context, dn string, attrs map[string][]string) error {
	return l.withConn(ctx, func(conn *ldap.Conn) error {
		req := ldap.NewAddRequest(dn, nil)
		for attr, vals := range attrs {
			req.Attribute(attr, vals)
		}
		if err := conn.Add(req); err != nil {
			return mapLDAPError(err)
		}
		return nil
	})
}

// Modify applies attribute modifications.
func (l *LDAP) Modify(ctx context.Context, dn string, mods []Mod) error {
	return l.withConn(ctx, func(conn *ldap.Conn) error {
		req := ldap.NewModifyRequest(dn, nil)
		for _, mod := range mods {
			switch mod.Op {
			case ModAdd:
				req.Add(mod.Attr, mod.Values)
			case ModDelete:
				req.Delete(mod.Attr, mod.Values)
			case ModReplace:
				req.Replace(mod.Attr, mod.Values)
			}
		}
		if err := conn.Modify(req); err != nil {
			return mapLDAPError(err)
		}
		return nil
	})
}

// Delete removes an entry.
func (l *LDAP) Delete(ctx context.Context, dn string) error {
	return l.withConn(ctx, func(conn *ldap.Conn) error {
		if err := conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
			return mapLDAPError(err)
		}
		return nil
	})
}

// Bind verifies credentials on a dedicated connection.
func (l *LDAP) Bind(ctx context.Context, dn, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if password == "" {
		// Refuse what LDAP would treat as an anonymous bind.
		return ErrInvalidCredentials
	}
	conn, err := ldap.DialURL(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = conn.Close() }()
	conn.SetTimeout(l.cfg.Timeout)
	if err := conn.Bind(dn, password); err != nil {
		return mapLDAPError(err)
	}
	return nil
}

func ldapScope(scope Scope) int {
	switch scope {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOne:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

func mapLDAPError(err error) error {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return fmt.Errorf("%w: %v", ErrNoSuchObject, err)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return ErrInvalidCredentials
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("directory: %w", err)
	}
}
