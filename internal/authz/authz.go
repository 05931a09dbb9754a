// Package authz evaluates the schema's declarative access rules against an
// authenticated principal.
package authz

import "github.com/castellan-dir/castellan/internal/shared"

// Self is the permission entry granting access to the caller's own entry.
const Self = "self"

// Allowed evaluates a view's permission list as a disjunction: any role the
// principal holds grants access, and the self entry grants access when the
// target primary key is the principal's own. An empty list admits every
// authenticated principal.
func Allowed(p *shared.Principal, permissions []string, targetPK string) bool {
	if p == nil {
		return false
	}
	if len(permissions) == 0 {
		return true
	}
	for _, perm := range permissions {
		if perm == Self {
			if targetPK != "" && targetPK == p.PrimaryKey {
				return true
			}
			continue
		}
		if p.HasRole(perm) {
			return true
		}
	}
	return false
}
