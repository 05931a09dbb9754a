package authz

import (
	"testing"

	"github.com/castellan-dir/castellan/internal/shared"
	_ "github.com/castellan-dir/castellan/testing"
)

func TestAllowed(t *testing.T) {
	admin := &shared.Principal{PrimaryKey: "admin", Roles: map[string]bool{"isAdmin": true}}
	jdoe := &shared.Principal{PrimaryKey: "jdoe", Roles: map[string]bool{}}

	cases := []struct {
		name        string
		principal   *shared.Principal
		permissions []string
		targetPK    string
		want        bool
	}{
		{"nil principal", nil, nil, "", false},
		{"empty list admits authenticated", jdoe, nil, "", true},
		{"role grants", admin, []string{"isAdmin"}, "", true},
		{"missing role denies", jdoe, []string{"isAdmin"}, "", false},
		{"self grants own entry", jdoe, []string{"self"}, "jdoe", true},
		{"self denies other entry", jdoe, []string{"self"}, "admin", false},
		{"self denies collection access", jdoe, []string{"self"}, "", false},
		{"disjunction role wins", admin, []string{"self", "isAdmin"}, "jdoe", true},
		{"disjunction self wins", jdoe, []string{"isAdmin", "self"}, "jdoe", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.principal, tc.permissions, tc.targetPK); got != tc.want {
				t.Fatalf("Allowed(%v, %v, %q) = %v, want %v", tc.principal, tc.permissions, tc.targetPK, got, tc.want)
			}
		})
	}
}
