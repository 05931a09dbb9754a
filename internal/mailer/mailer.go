// Package mailer delivers transactional mail: login links and registration
// welcomes. Templates are embedded and localized; the first line of a
// rendered template is the subject.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Message is one rendered mail ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Encryption selects the SMTP transport security.
type Encryption string

const (
	EncryptionNone     Encryption = "none"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionSSL      Encryption = "ssl"
)

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption Encryption
}

// SMTP sends mail through a relay. One connection per message; the volume
// here is interactive, not bulk.
type SMTP struct {
	cfg SMTPConfig
}

// NewSMTP validates the relay configuration.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("mailer: host and from address required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionStartTLS
	}
	return &SMTP{cfg: cfg}, nil
}

// Send delivers one message, honoring the context deadline for the dial.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{}
	if s.cfg.Encryption == EncryptionSSL {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mailer: dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mailer: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("mailer: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mailer: auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	if _, err := wc.Write([]byte(b.String())); err != nil {
		_ = wc.Close()
		return fmt.Errorf("mailer: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return client.Quit()
}

// Log is a Sender that only logs, for development and tests.
type Log struct {
	Logger *slog.Logger
}

// Send logs the message instead of delivering it.
func (l Log) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail suppressed",
		slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}
