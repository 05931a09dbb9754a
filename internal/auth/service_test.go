package auth

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/engine"
	"github.com/castellan-dir/castellan/internal/mailer"
	"github.com/castellan-dir/castellan/internal/pwhash"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
	_ "github.com/castellan-dir/castellan/testing"
)

const serviceBase = "dc=example,dc=org"

const serviceSchema = `
views:
  users:
    title: Users
    dn: ou=users
    primaryKey: uid
    classes: [inetOrgPerson]
    permissions: [isAdmin, self]
    list:
      uid:
        type: text
    auth:
      uid:
        type: text
      displayName:
        type: text
      mail:
        type: text
      language:
        type: text
      isAdmin:
        type: isMemberOf
        memberOf: admin
        foreignView: groups
    register:
      account:
        type: fields
        fields:
          uid:
            type: text
            required: true
          sn:
            type: text
            required: true
          mail:
            type: text
          password:
            type: password
            field: userPassword
            hashing: salted_sha1
            autoGenerate: true
            readable: false
  groups:
    title: Groups
    dn: ou=groups
    primaryKey: cn
    classes: [groupOfNames]
    permissions: [isAdmin]
    list:
      cn:
        type: text
auth:
  view: users
  antiSpam:
    questions:
      - question: Name of the maintainer?
        answer: "^[lL]ukas$"
`

type recordingSender struct {
	sent []mailer.Message
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func newTestService(t *testing.T) (*Service, *directory.Memory, *recordingSender) {
	t.Helper()
	ctx := context.Background()
	store := directory.NewMemory()
	require.NoError(t, store.Add(ctx, serviceBase, map[string][]string{"objectClass": {"dcObject"}}))
	require.NoError(t, store.Add(ctx, "ou=users,"+serviceBase, map[string][]string{"objectClass": {"organizationalUnit"}}))
	require.NoError(t, store.Add(ctx, "ou=groups,"+serviceBase, map[string][]string{"objectClass": {"organizationalUnit"}}))

	hashed, err := pwhash.Hash(pwhash.SchemeSaltedSHA1, "correct-horse")
	require.NoError(t, err)
	userDN := "uid=jdoe,ou=users," + serviceBase
	require.NoError(t, store.Add(ctx, userDN, map[string][]string{
		"objectClass":  {"inetOrgPerson"},
		"uid":          {"jdoe"},
		"displayName":  {"Jane Doe"},
		"mail":         {"jane@example.org"},
		"language":     {"en"},
		"userPassword": {hashed},
	}))
	require.NoError(t, store.Add(ctx, "cn=admin,ou=groups,"+serviceBase, map[string][]string{
		"objectClass": {"groupOfNames"},
		"cn":          {"admin"},
		"member":      {userDN},
	}))

	doc, err := schema.Parse([]byte(serviceSchema))
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	eng, err := engine.New(doc, store, serviceBase, engine.Options{Logger: logger})
	require.NoError(t, err)

	tokens, err := NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour, 10*time.Minute)
	require.NoError(t, err)
	antiSpam, err := NewAntiSpam(doc.Auth.AntiSpam.Questions)
	require.NoError(t, err)
	composer, err := mailer.NewComposer()
	require.NoError(t, err)
	sender := &recordingSender{}

	svc := NewService(logger, eng, store, tokens, antiSpam, composer, sender, "https://dir.example.org")
	return svc, store, sender
}

func TestLoginAndPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	token, p, err := svc.Login(ctx, "jdoe", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "jdoe", p.PrimaryKey)
	assert.Equal(t, "Jane Doe", p.DisplayName)
	assert.Equal(t, "jane@example.org", p.Mail)
	assert.True(t, p.HasRole("isAdmin"))
	assert.NotEmpty(t, p.Timestamp)

	restored, err := svc.PrincipalFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, p.PrimaryKey, restored.PrimaryKey)
	assert.True(t, restored.HasRole("isAdmin"))
}

func TestLoginRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "jdoe", "wrong")
	require.ErrorIs(t, err, shared.ErrAuthentication)

	_, _, err = svc.Login(ctx, "ghost", "whatever")
	require.ErrorIs(t, err, shared.ErrAuthentication)
}

func TestTokenInvalidatedByEntryModification(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "jdoe", "correct-horse")
	require.NoError(t, err)

	// Any modification bumps the entry timestamp the token is pinned to.
	store.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	require.NoError(t, store.Modify(ctx, "uid=jdoe,ou=users,"+serviceBase, []directory.Mod{
		{Op: directory.ModReplace, Attr: "sn", Values: []string{"Doe"}},
	}))

	_, err = svc.PrincipalFromToken(ctx, token)
	require.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestRefresh(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, p, err := svc.Login(ctx, "jdoe", "correct-horse")
	require.NoError(t, err)
	token, err := svc.Refresh(p)
	require.NoError(t, err)
	restored, err := svc.PrincipalFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", restored.PrimaryKey)

	_, err = svc.Refresh(nil)
	require.ErrorIs(t, err, shared.ErrAuthentication)
}

func TestMailLogin(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.MailLogin(ctx, "jane@example.org"))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "jane@example.org", msg.To)
	assert.Equal(t, "Your sign-in link", msg.Subject)
	require.Contains(t, msg.Body, "https://dir.example.org/auto-login?token=")

	// The mailed token is valid for authentication.
	start := strings.Index(msg.Body, "token=") + len("token=")
	end := strings.IndexAny(msg.Body[start:], " \n")
	require.Greater(t, end, 0)
	raw := msg.Body[start : start+end]
	p, err := svc.PrincipalFromToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", p.PrimaryKey)

	// Unknown addresses are accepted without sending anything.
	require.NoError(t, svc.MailLogin(ctx, "nobody@example.org"))
	assert.Len(t, sender.sent, 1)
}

func TestRegisterGatedByChallenge(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	question, token, ok := svc.Challenge()
	require.True(t, ok)
	require.NotEmpty(t, question)

	payload := engine.Payload{
		"account": {"uid": "newbie", "sn": "Person", "mail": "new@example.org"},
	}
	_, err := svc.Register(ctx, token, "bob", payload)
	require.ErrorIs(t, err, shared.ErrChallengeFailed)

	pk, err := svc.Register(ctx, token, "lukas", payload)
	require.NoError(t, err)
	assert.Equal(t, "newbie", pk)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "new@example.org", msg.To)
	assert.Contains(t, msg.Body, "newbie")
	assert.Contains(t, msg.Body, "Your initial password is:")
}
