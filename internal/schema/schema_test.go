package schema

import (
	"strings"
	"testing"

	_ "github.com/castellan-dir/castellan/testing"
)

const sampleSchema = `
views:
  users:
    title: Users
    dn: ou=users
    primaryKey: uid
    classes: [inetOrgPerson]
    permissions: [isAdmin]
    list:
      uid:
        type: text
      displayName:
        type: generate
        format: "{givenName} {sn}"
    auth:
      uid:
        type: text
      isAdmin:
        type: isMemberOf
        memberOf: admin
        foreignView: groups
    details:
      fields:
        type: fields
        title: Profile
        fields:
          uid:
            type: text
            writable: false
            format: "[a-z0-9_-]+"
            formatMessage: lowercase letters, digits, underscore and dash
          language:
            type: text
            enum:
              - title: English
                value: en
              - title: Deutsch
                value: de
          password:
            type: password
            field: userPassword
            hashing: salted_sha1
            readable: false
          groups:
            type: objectClass
            objectClass: inetOrgPerson
      memberships:
        type: memberOf
        title: Memberships
        foreignView: groups
    register:
      account:
        type: fields
        fields:
          uid:
            type: text
          isNew:
            type: initial
            value: true
            target:
              type: isMemberOf
              memberOf: new
              foreignView: groups
  groups:
    title: Groups
    dn: ou=groups
    primaryKey: cn
    classes: [groupOfNames]
    list:
      cn:
        type: text
    details:
      members:
        type: member
        foreignView: users
auth:
  view: users
  antiSpam:
    questions:
      - question: Name of the maintainer?
        answer: "^[lL]ukas$"
`

func TestParsePreservesOrderAndDefaults(t *testing.T) {
	doc, err := Parse([]byte(sampleSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Views) != 2 || doc.Views[0].Key != "users" || doc.Views[1].Key != "groups" {
		t.Fatalf("unexpected view order %+v", doc.Views)
	}
	users := doc.ViewByKey("users")
	if users == nil {
		t.Fatal("users view missing")
	}
	if got := users.List[0].Field; got != "uid" {
		t.Fatalf("text field attribute defaulted to %q", got)
	}

	var admin *FieldDef
	for _, def := range users.Auth {
		if def.Key == "isAdmin" {
			admin = def
		}
	}
	if admin == nil {
		t.Fatal("isAdmin missing from auth projection")
	}
	if admin.Field != "memberOf" || admin.ForeignField != "member" {
		t.Fatalf("isMemberOf defaults: field=%q foreignField=%q", admin.Field, admin.ForeignField)
	}

	profile := users.Details[0]
	if profile.Type != GroupFields || profile.Fields[0].Key != "uid" {
		t.Fatalf("unexpected first group %+v", profile)
	}
	uid := profile.Fields[0]
	if uid.Writable || !uid.Readable || !uid.Creatable {
		t.Fatalf("flag defaults wrong: %+v", uid)
	}
	for _, def := range profile.Fields {
		if def.Key == "groups" && def.Field != "objectClass" {
			t.Fatalf("objectClass attribute defaulted to %q", def.Field)
		}
	}

	memberships := users.Details[1]
	if memberships.Field != "memberOf" || memberships.ForeignField != "member" {
		t.Fatalf("memberOf panel defaults: %+v", memberships)
	}
	members := doc.ViewByKey("groups").Details[0]
	if members.Field != "member" || members.ForeignField != "memberOf" {
		t.Fatalf("member panel defaults: %+v", members)
	}

	isNew := users.Register[0].Fields[1]
	if isNew.Type != TypeInitial || isNew.Target == nil {
		t.Fatalf("initial field %+v", isNew)
	}
	if isNew.Target.Key != "isNew" {
		t.Fatalf("target key defaulted to %q", isNew.Target.Key)
	}
}

func TestFormatMessageFallsBackToFormat(t *testing.T) {
	doc, err := Parse([]byte(sampleSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	language := doc.ViewByKey("users").Details[0].Fields[1]
	if language.Key != "language" {
		t.Fatalf("unexpected field %q", language.Key)
	}
	uid := doc.ViewByKey("users").Details[0].Fields[0]
	if uid.FormatMessage != "lowercase letters, digits, underscore and dash" {
		t.Fatalf("explicit message lost: %q", uid.FormatMessage)
	}
	generated := doc.ViewByKey("users").List[1]
	if generated.FormatMessage != generated.Format {
		t.Fatalf("fallback message %q", generated.FormatMessage)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"missing dn", func(s string) string { return strings.Replace(s, "dn: ou=users\n", "", 1) }, "dn required"},
		{"missing primary key", func(s string) string { return strings.Replace(s, "primaryKey: uid\n", "", 1) }, "primaryKey required"},
		{"bad format", func(s string) string { return strings.Replace(s, "[a-z0-9_-]+", "[a-z", 1) }, "format"},
		{"unknown hashing", func(s string) string { return strings.Replace(s, "salted_sha1", "rot13", 1) }, "hashing"},
		{"unresolved foreign view", func(s string) string { return strings.Replace(s, "foreignView: groups", "foreignView: teams", 1) }, "teams"},
		{"bad answer pattern", func(s string) string { return strings.Replace(s, `"^[lL]ukas$"`, `"["`, 1) }, "anti-spam"},
		{"unknown auth view", func(s string) string { return strings.Replace(s, "view: users", "view: people", 1) }, "auth view"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.edit(sampleSchema)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestClientConfigWithholdsServerDetails(t *testing.T) {
	doc, err := Parse([]byte(sampleSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := doc.ViewByKey("users").ClientConfig()
	if cfg.Key != "users" || cfg.PrimaryKey != "uid" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.List[1].Type != TypeGenerate || cfg.List[1].Format != "" {
		t.Fatalf("generate template leaked: %+v", cfg.List[1])
	}
	uid := cfg.Details[0].Fields[0]
	if uid.Format != "[a-z0-9_-]+" {
		t.Fatalf("text format missing: %+v", uid)
	}
	var password *FieldConfig
	for i := range cfg.Details[0].Fields {
		if cfg.Details[0].Fields[i].Key == "password" {
			password = &cfg.Details[0].Fields[i]
		}
	}
	if password == nil || password.Readable {
		t.Fatalf("password projection %+v", password)
	}
}

func TestPublicRegisterConfig(t *testing.T) {
	doc, err := Parse([]byte(sampleSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := doc.ViewByKey("users").PublicRegisterConfig()
	if reg == nil {
		t.Fatal("expected register config")
	}
	if len(reg.Register) != 1 || reg.Register[0].Fields[1].Target == nil {
		t.Fatalf("unexpected register projection %+v", reg.Register)
	}
	if doc.ViewByKey("groups").PublicRegisterConfig() != nil {
		t.Fatal("groups must not expose registration")
	}
}
