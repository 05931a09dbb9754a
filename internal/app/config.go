package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// BaseURL is the public address used in mailed login links.
	BaseURL    string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	SchemaPath string `envconfig:"SCHEMA_PATH" default:"schema.yaml"`

	// An empty LDAP_URL selects the in-process directory backend, which only
	// makes sense for development and tests.
	LDAPURL          string        `envconfig:"LDAP_URL"`
	LDAPBindDN       string        `envconfig:"LDAP_BIND_DN"`
	LDAPBindPassword string        `envconfig:"LDAP_BIND_PASSWORD"`
	LDAPBaseDN       string        `envconfig:"LDAP_BASE_DN" required:"true"`
	LDAPTimeout      time.Duration `envconfig:"LDAP_TIMEOUT" default:"10s"`
	LDAPPoolSize     int           `envconfig:"LDAP_POOL_SIZE" default:"4"`

	TokenSecret  string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenTTL     time.Duration `envconfig:"TOKEN_TTL" default:"12h"`
	AutoLoginTTL time.Duration `envconfig:"AUTO_LOGIN_TTL" default:"10m"`

	// An empty BREACH_URL disables the compromised-credential check.
	BreachURL        string `envconfig:"BREACH_URL" default:"https://api.pwnedpasswords.com/range"`
	BreachFailClosed bool   `envconfig:"BREACH_FAIL_CLOSED" default:"false"`

	// MAIL_MODE log suppresses delivery and logs instead.
	MailMode       string `envconfig:"MAIL_MODE" default:"log"`
	SMTPHost       string `envconfig:"SMTP_HOST" default:"127.0.0.1"`
	SMTPPort       int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPFrom       string `envconfig:"SMTP_FROM" default:"no-reply@castellan.local"`
	SMTPUsername   string `envconfig:"SMTP_USERNAME"`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD"`
	SMTPEncryption string `envconfig:"SMTP_ENCRYPTION" default:"starttls"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.TokenSecret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.MailMode != "log" && cfg.MailMode != "smtp" {
		return nil, errors.New("mail mode must be log or smtp")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
