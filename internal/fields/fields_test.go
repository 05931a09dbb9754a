package fields

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/pwhash"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
	_ "github.com/castellan-dir/castellan/testing"
)

type stubResolver map[string]string

func (r stubResolver) ForeignDN(viewKey, primaryKey string) (string, error) {
	dn, ok := r[viewKey+"/"+primaryKey]
	if !ok {
		return "", fmt.Errorf("%w: %s %s", shared.ErrNotFound, viewKey, primaryKey)
	}
	return dn, nil
}

type stubChecker struct {
	compromised bool
	err         error
}

func (c stubChecker) Compromised(context.Context, string) (bool, error) {
	return c.compromised, c.err
}

func textDef(key string) *schema.FieldDef {
	return &schema.FieldDef{
		Key: key, Type: schema.TypeText, Field: key,
		Readable: true, Writable: true, Creatable: true,
	}
}

const subjectDN = "uid=jdoe,ou=users,dc=example,dc=org"

func TestTextValidation(t *testing.T) {
	def := textDef("uid")
	def.Required = true
	def.Format = "[a-z0-9_-]+"
	def.FormatMessage = "lowercase only"
	f, err := compileText(def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	wctx := NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, "JDOE", true); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if wctx.Errs.Fields["uid"] != "lowercase only" {
		t.Fatalf("expected format message, got %+v", wctx.Errs.Fields)
	}

	wctx = NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, nil, false); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if wctx.Errs.Fields["uid"] != "required" {
		t.Fatalf("expected required, got %+v", wctx.Errs.Fields)
	}

	wctx = NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, " jdoe ", true); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !wctx.Errs.Empty() {
		t.Fatalf("unexpected errors %+v", wctx.Errs.Fields)
	}
	if got := wctx.Plan.Attrs["uid"]; len(got) != 1 || got[0] != "jdoe" {
		t.Fatalf("staged %v", got)
	}
}

func TestTextEnum(t *testing.T) {
	def := textDef("language")
	def.Enum = []schema.EnumValue{{Title: "English", Value: "en"}, {Title: "Deutsch", Value: "de"}}
	f, err := compileText(def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	wctx := NewWriteContext(subjectDN)
	_ = f.PlanCreate(context.Background(), wctx, "fr", true)
	if !strings.Contains(wctx.Errs.Fields["language"], "not allowed") {
		t.Fatalf("expected enum rejection, got %+v", wctx.Errs.Fields)
	}
}

func TestTextModifyStagesDiff(t *testing.T) {
	f, _ := compileText(textDef("sn"))
	entry := directory.Entry{DN: subjectDN, Attrs: map[string][]string{"sn": {"Doe"}}}

	wctx := NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, "Doe")
	if !wctx.Plan.Empty() {
		t.Fatalf("no-op staged mods %+v", wctx.Plan.Mods)
	}

	wctx = NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, "Smith")
	if len(wctx.Plan.Mods) != 1 || wctx.Plan.Mods[0].Op != directory.ModReplace {
		t.Fatalf("staged %+v", wctx.Plan.Mods)
	}

	wctx = NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, "")
	if len(wctx.Plan.Mods) != 1 || wctx.Plan.Mods[0].Op != directory.ModDelete {
		t.Fatalf("staged %+v", wctx.Plan.Mods)
	}
}

func TestGenerateFromStagedValues(t *testing.T) {
	def := &schema.FieldDef{
		Key: "displayName", Type: schema.TypeGenerate, Field: "displayName",
		Format: "{givenName} {sn}", Readable: true,
	}
	f, err := compileGenerate(def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Computed() || f.Writable() || f.Creatable() {
		t.Fatal("generate must be computed and input-free")
	}

	wctx := NewWriteContext(subjectDN)
	wctx.Plan.SetAttr("givenName", "Jane")
	wctx.Plan.SetAttr("sn", "Doe")
	_ = f.PlanCreate(context.Background(), wctx, nil, false)
	if got := wctx.Plan.Attrs["displayName"]; len(got) != 1 || got[0] != "Jane Doe" {
		t.Fatalf("rendered %v", got)
	}

	// On update the template sees staged mods over current attributes.
	entry := directory.Entry{DN: subjectDN, Attrs: map[string][]string{
		"givenName":   {"Jane"},
		"sn":          {"Doe"},
		"displayName": {"Jane Doe"},
	}}
	wctx = NewWriteContext(subjectDN)
	wctx.Plan.AddMod(directory.ModReplace, "sn", "Smith")
	_ = f.PlanModify(context.Background(), wctx, entry, nil)
	found := false
	for _, mod := range wctx.Plan.Mods {
		if mod.Attr == "displayName" && mod.Op == directory.ModReplace && mod.Values[0] == "Jane Smith" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recomputed displayName, staged %+v", wctx.Plan.Mods)
	}
}

func TestGenerateRejectsBadTemplates(t *testing.T) {
	for _, format := range []string{"{givenName", "{}"} {
		if _, err := parseTemplate(format); err == nil {
			t.Fatalf("expected error for %q", format)
		}
	}
}

func TestPasswordVerifyPair(t *testing.T) {
	def := &schema.FieldDef{
		Key: "password", Type: schema.TypePassword, Field: "userPassword",
		Hashing: "salted_sha1", Verify: true, Writable: true, Creatable: true,
	}
	f, err := compilePassword(def, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	wctx := NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, []any{"s3cret-s3cret", "s3cret-s3cret"}, true); err != nil {
		t.Fatalf("plan: %v", err)
	}
	stored := wctx.Plan.Attrs["userPassword"]
	if len(stored) != 1 || !pwhash.Verify("s3cret-s3cret", stored[0]) {
		t.Fatalf("staged credential %v", stored)
	}

	wctx = NewWriteContext(subjectDN)
	_ = f.PlanCreate(context.Background(), wctx, []any{"one", "two"}, true)
	if wctx.Errs.Fields["password"] != "passwords do not match" {
		t.Fatalf("expected mismatch, got %+v", wctx.Errs.Fields)
	}
}

func TestPasswordAutoGenerate(t *testing.T) {
	def := &schema.FieldDef{
		Key: "password", Type: schema.TypePassword, Field: "userPassword",
		Hashing: "salted_sha1", AutoGenerate: true, Writable: true, Creatable: true,
	}
	f, _ := compilePassword(def, nil)
	wctx := NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, nil, false); err != nil {
		t.Fatalf("plan: %v", err)
	}
	plaintext, ok := wctx.Plan.Generated["password"]
	if !ok || plaintext == "" {
		t.Fatal("expected generated secret")
	}
	if !pwhash.Verify(plaintext, wctx.Plan.Attrs["userPassword"][0]) {
		t.Fatal("generated secret does not verify against staged hash")
	}
}

func TestPasswordBreachRejection(t *testing.T) {
	def := &schema.FieldDef{
		Key: "password", Type: schema.TypePassword, Field: "userPassword",
		Hashing: "salted_sha1", BreachCheck: true, Writable: true, Creatable: true,
	}
	f, _ := compilePassword(def, stubChecker{compromised: true})
	wctx := NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, "password", true); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(wctx.Plan.Attrs) != 0 {
		t.Fatalf("compromised credential staged: %v", wctx.Plan.Attrs)
	}
	if !errors.Is(wctx.Errs.Err(), shared.ErrWeakCredential) {
		t.Fatalf("expected ErrWeakCredential, got %v", wctx.Errs.Err())
	}
}

func TestPasswordModifyKeepsStoredOnEmpty(t *testing.T) {
	def := &schema.FieldDef{
		Key: "password", Type: schema.TypePassword, Field: "userPassword",
		Hashing: "salted_sha1", Writable: true, Creatable: true,
	}
	f, _ := compilePassword(def, nil)
	wctx := NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, directory.Entry{}, "")
	if !wctx.Plan.Empty() || !wctx.Errs.Empty() {
		t.Fatalf("empty submission staged %+v / %+v", wctx.Plan.Mods, wctx.Errs.Fields)
	}
}

func TestObjectClassToggle(t *testing.T) {
	def := &schema.FieldDef{
		Key: "mailUser", Type: schema.TypeObjectClass, Field: "objectClass",
		ObjectClass: "PostfixBookMailAccount", Readable: true, Writable: true, Creatable: true,
	}
	f := &objectClassField{base: base{def}, required: []string{"inetOrgPerson"}}
	entry := directory.Entry{DN: subjectDN, Attrs: map[string][]string{
		"objectClass": {"inetOrgPerson"},
	}}

	wctx := NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, true)
	if len(wctx.Plan.Mods) != 1 || wctx.Plan.Mods[0].Op != directory.ModAdd {
		t.Fatalf("staged %+v", wctx.Plan.Mods)
	}

	entry.Attrs["objectClass"] = []string{"inetOrgPerson", "PostfixBookMailAccount"}
	wctx = NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, false)
	if len(wctx.Plan.Mods) != 1 || wctx.Plan.Mods[0].Op != directory.ModDelete {
		t.Fatalf("staged %+v", wctx.Plan.Mods)
	}
}

func TestObjectClassRefusesStructuralRemoval(t *testing.T) {
	def := &schema.FieldDef{
		Key: "person", Type: schema.TypeObjectClass, Field: "objectClass",
		ObjectClass: "inetOrgPerson", Readable: true, Writable: true, Creatable: true,
	}
	f := &objectClassField{base: base{def}, required: []string{"inetOrgPerson"}}
	entry := directory.Entry{DN: subjectDN, Attrs: map[string][]string{
		"objectClass": {"inetOrgPerson"},
	}}
	wctx := NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, false)
	if wctx.Errs.Empty() || len(wctx.Plan.Mods) != 0 {
		t.Fatalf("structural removal allowed: %+v %+v", wctx.Errs.Fields, wctx.Plan.Mods)
	}
}

func TestIsMemberOfTogglesForeignEntry(t *testing.T) {
	groupDN := "cn=admin,ou=groups,dc=example,dc=org"
	def := &schema.FieldDef{
		Key: "isAdmin", Type: schema.TypeIsMemberOf, Field: "memberOf",
		MemberOf: "admin", ForeignView: "groups", ForeignField: "member",
		Readable: true, Writable: true, Creatable: true,
	}
	f, err := compileIsMemberOf(def, stubResolver{"groups/admin": groupDN})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	entry := directory.Entry{DN: subjectDN, Attrs: map[string][]string{}}
	if v, _ := f.Project(entry); v != false {
		t.Fatalf("projected %v", v)
	}
	entry.Attrs["memberOf"] = []string{groupDN}
	if v, _ := f.Project(entry); v != true {
		t.Fatalf("projected %v", v)
	}

	wctx := NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, true)
	if !wctx.Plan.Empty() {
		t.Fatalf("no-op toggle staged %+v", wctx.Plan.Foreign)
	}

	wctx = NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, entry, false)
	if len(wctx.Plan.Foreign) != 1 {
		t.Fatalf("staged %+v", wctx.Plan.Foreign)
	}
	fm := wctx.Plan.Foreign[0]
	if fm.DN != groupDN || fm.Mod.Op != directory.ModDelete || fm.Mod.Attr != "member" || fm.Mod.Values[0] != subjectDN {
		t.Fatalf("unexpected foreign mod %+v", fm)
	}
}

func TestIsMemberOfUnresolvedGroup(t *testing.T) {
	def := &schema.FieldDef{
		Key: "isAdmin", Type: schema.TypeIsMemberOf, Field: "memberOf",
		MemberOf: "admin", ForeignView: "groups", ForeignField: "member",
	}
	if _, err := compileIsMemberOf(def, stubResolver{}); err == nil {
		t.Fatal("expected compile failure for unresolved group")
	}
}

func TestInitialDelegatesToTarget(t *testing.T) {
	groupDN := "cn=new,ou=groups,dc=example,dc=org"
	def := &schema.FieldDef{
		Key: "isNew", Type: schema.TypeInitial, Value: true,
		Target: &schema.FieldDef{
			Key: "isNew", Type: schema.TypeIsMemberOf, Field: "memberOf",
			MemberOf: "new", ForeignView: "groups", ForeignField: "member",
		},
	}
	f, err := compileInitial(def, Deps{Resolver: stubResolver{"groups/new": groupDN}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	wctx := NewWriteContext(subjectDN)
	if err := f.PlanCreate(context.Background(), wctx, nil, false); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(wctx.Plan.Foreign) != 1 || wctx.Plan.Foreign[0].DN != groupDN {
		t.Fatalf("staged %+v", wctx.Plan.Foreign)
	}

	wctx = NewWriteContext(subjectDN)
	_ = f.PlanModify(context.Background(), wctx, directory.Entry{}, nil)
	if !wctx.Plan.Empty() {
		t.Fatal("initial must not act on update")
	}
}

func TestInitialLiteralValue(t *testing.T) {
	def := &schema.FieldDef{Key: "department", Type: schema.TypeInitial, Field: "ou", Value: "staff"}
	f, err := compileInitial(def, Deps{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	wctx := NewWriteContext(subjectDN)
	_ = f.PlanCreate(context.Background(), wctx, nil, false)
	if got := wctx.Plan.Attrs["ou"]; len(got) != 1 || got[0] != "staff" {
		t.Fatalf("staged %v", got)
	}
}

func TestPlanOrderPutsComputedLast(t *testing.T) {
	text, _ := compileText(textDef("uid"))
	gen, _ := compileGenerate(&schema.FieldDef{
		Key: "displayName", Type: schema.TypeGenerate, Field: "displayName", Format: "{uid}",
	})
	ordered := PlanOrder([]Field{gen, text})
	if ordered[0].Key() != "uid" || ordered[1].Key() != "displayName" {
		t.Fatalf("unexpected order %s, %s", ordered[0].Key(), ordered[1].Key())
	}
}

func TestPlanEffective(t *testing.T) {
	entry := directory.Entry{Attrs: map[string][]string{"cn": {"old"}, "member": {"a", "b"}}}
	p := NewPlan()
	p.AddMod(directory.ModReplace, "cn", "new")
	p.AddMod(directory.ModDelete, "member", "a")
	p.AddMod(directory.ModAdd, "member", "c")
	if got := p.Effective(entry, "cn"); len(got) != 1 || got[0] != "new" {
		t.Fatalf("cn %v", got)
	}
	got := p.Effective(entry, "member")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("member %v", got)
	}
}
