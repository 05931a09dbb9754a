// Package auth implements credential login, bearer-token sessions,
// mail-based login links and gated self-registration on top of the view
// engine's auth projection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/castellan-dir/castellan/internal/directory"
	"github.com/castellan-dir/castellan/internal/engine"
	"github.com/castellan-dir/castellan/internal/mailer"
	"github.com/castellan-dir/castellan/internal/schema"
	"github.com/castellan-dir/castellan/internal/shared"
)

// Service wires authentication against the directory. Credentials are
// verified by binding as the entry itself; the service never sees stored
// password hashes.
type Service struct {
	logger   *slog.Logger
	engine   *engine.Engine
	conn     directory.Conn
	tokens   *TokenIssuer
	antiSpam *AntiSpam
	composer *mailer.Composer
	sender   mailer.Sender
	baseURL  string
}

// NewService builds the Service. baseURL is the public UI address used in
// mailed login links.
func NewService(logger *slog.Logger, eng *engine.Engine, conn directory.Conn, tokens *TokenIssuer, antiSpam *AntiSpam, composer *mailer.Composer, sender mailer.Sender, baseURL string) *Service {
	return &Service{
		logger:   logger,
		engine:   eng,
		conn:     conn,
		tokens:   tokens,
		antiSpam: antiSpam,
		composer: composer,
		sender:   sender,
		baseURL:  baseURL,
	}
}

// Login verifies credentials and returns a bearer token with the caller's
// principal. All failure modes except an unavailable store collapse into the
// generic authentication error.
func (s *Service) Login(ctx context.Context, username, password string) (string, *shared.Principal, error) {
	dn, err := s.engine.EntryDN(s.engine.AuthViewKey(), username)
	if err != nil {
		return "", nil, shared.ErrAuthentication
	}
	if err := s.conn.Bind(ctx, dn, password); err != nil {
		if errors.Is(err, directory.ErrUnavailable) {
			return "", nil, fmt.Errorf("%w: %v", shared.ErrDirectoryUnavailable, err)
		}
		s.logger.Info("login rejected", slog.String("user", username))
		return "", nil, shared.ErrAuthentication
	}
	p, err := s.principal(ctx, username)
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(p.PrimaryKey, p.Timestamp, false)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

// PrincipalFromToken validates a bearer token and rebuilds the principal
// from the current entry state. A token issued before the entry's last
// modification is treated as expired.
func (s *Service) PrincipalFromToken(ctx context.Context, raw string) (*shared.Principal, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	p, err := s.principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrAuthentication
		}
		return nil, err
	}
	if claims.Timestamp != p.Timestamp {
		return nil, shared.ErrTokenExpired
	}
	return p, nil
}

// Refresh issues a fresh full-lifetime token for the principal.
func (s *Service) Refresh(p *shared.Principal) (string, error) {
	if p == nil {
		return "", shared.ErrAuthentication
	}
	return s.tokens.Issue(p.PrimaryKey, p.Timestamp, false)
}

// MailLogin sends a short-lived login link to the account owning the mail
// address. Unknown addresses are silently accepted so the endpoint cannot be
// used to probe for accounts.
func (s *Service) MailLogin(ctx context.Context, mailAddr string) error {
	pk, err := s.engine.ResolveByAttr(ctx, "mail", mailAddr)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("mail login for unknown address suppressed")
			return nil
		}
		return err
	}
	p, err := s.principal(ctx, pk)
	if err != nil {
		return err
	}
	token, err := s.tokens.Issue(p.PrimaryKey, p.Timestamp, true)
	if err != nil {
		return err
	}
	subject, body, err := s.composer.Compose(mailer.KindLogin, p.Language, map[string]any{
		"Name": p.DisplayName,
		"URL":  fmt.Sprintf("%s/auto-login?token=%s", s.baseURL, token),
	})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, mailer.Message{To: mailAddr, Subject: subject, Body: body})
}

// Register creates a new account through the public register projection,
// gated by the anti-spam challenge when one is configured. A failed welcome
// mail does not fail the registration.
func (s *Service) Register(ctx context.Context, token, answer string, payload engine.Payload) (string, error) {
	if s.antiSpam.Enabled() {
		if err := s.antiSpam.Verify(token, answer); err != nil {
			return "", err
		}
	}
	pk, generated, err := s.engine.Register(ctx, payload)
	if err != nil {
		return "", err
	}
	s.sendWelcome(ctx, pk, generated)
	return pk, nil
}

func (s *Service) sendWelcome(ctx context.Context, pk string, generated map[string]string) {
	p, err := s.principal(ctx, pk)
	if err != nil || p.Mail == "" {
		return
	}
	password := ""
	for _, v := range generated {
		password = v
		break
	}
	subject, body, err := s.composer.Compose(mailer.KindWelcome, p.Language, map[string]any{
		"Name":     p.DisplayName,
		"Username": pk,
		"Password": password,
	})
	if err != nil {
		s.logger.Warn("welcome mail render failed", slog.Any("error", err))
		return
	}
	if err := s.sender.Send(ctx, mailer.Message{To: p.Mail, Subject: subject, Body: body}); err != nil {
		s.logger.Warn("welcome mail delivery failed", slog.Any("error", err))
	}
}

// Challenge returns a random anti-spam question with its submission token.
func (s *Service) Challenge() (question, token string, ok bool) {
	if !s.antiSpam.Enabled() {
		return "", "", false
	}
	question, token = s.antiSpam.Challenge()
	return question, token, true
}

// RegisterConfig exposes the public registration form description.
func (s *Service) RegisterConfig() *schema.RegisterConfig {
	return s.engine.RegisterConfig()
}

// principal builds the request principal from the auth projection. Boolean
// projection values become role flags.
func (s *Service) principal(ctx context.Context, pk string) (*shared.Principal, error) {
	projection, entry, err := s.engine.AuthProjection(ctx, pk)
	if err != nil {
		return nil, err
	}
	p := &shared.Principal{
		PrimaryKey: pk,
		Roles:      make(map[string]bool),
		Attrs:      projection,
	}
	p.Timestamp, _ = entry.First("modifyTimestamp")
	for key, value := range projection {
		if flag, ok := value.(bool); ok {
			p.Roles[key] = flag
		}
	}
	if v, ok := projection["displayName"].(string); ok {
		p.DisplayName = v
	}
	if v, ok := projection["mail"].(string); ok {
		p.Mail = v
	}
	if v, ok := projection["language"].(string); ok {
		p.Language = v
	}
	return p, nil
}
