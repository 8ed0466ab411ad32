// Package config loads the server configuration from the environment.
//
// Every key is prefixed with AUTHLINK_. A .env file in the working directory
// is read first when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment key.
const Prefix = "AUTHLINK_"

// Session backends.
const (
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
	SessionMemory = "memory"
)

// Config is the full server configuration.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	DBPath          string        `env:"DB_PATH" envDefault:"data/authlink.db"`
	BaseURL         string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	SecretKey       string        `env:"SECRET_KEY,required"`
	DefaultRedirect string        `env:"DEFAULT_REDIRECT" envDefault:"/"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	OTelEndpoint    string        `env:"OTEL_ENDPOINT"`

	Session SessionConfig
	GitHub  ProviderConfig `envPrefix:"GITHUB_"`
	Yandex  ProviderConfig `envPrefix:"YANDEX_"`
	Tinkoff TinkoffConfig  `envPrefix:"TINKOFF_"`
	Mail    MailConfig
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend             string        `env:"SESSION_BACKEND" envDefault:"sqlite"`
	TTL                 time.Duration `env:"SESSION_TTL" envDefault:"336h"`
	CookieSecure        bool          `env:"SESSION_COOKIE_SECURE"`
	TrustForwardedProto bool          `env:"TRUST_FORWARDED_PROTO"`
	RedisAddr           string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB"`
}

// ProviderConfig holds the OAuth client registration for one provider.
type ProviderConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURL  string   `env:"REDIRECT_URL"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// Enabled is true once id, secret and redirect URL are all set.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.RedirectURL != ""
}

// TinkoffConfig adds the Tinkoff ID endpoints, which can be pointed at a
// sandbox.
type TinkoffConfig struct {
	ProviderConfig
	AuthURL       string `env:"AUTH_URL"`
	TokenURL      string `env:"TOKEN_URL"`
	IntrospectURL string `env:"INTROSPECT_URL"`
	UserInfoURL   string `env:"USERINFO_URL"`
}

// MailConfig configures activation mail. With no SMTP host, mail is logged
// instead of sent.
type MailConfig struct {
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	From         string        `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
	MaxRetries   int           `env:"MAIL_MAX_RETRIES" envDefault:"3"`
	RetryDelay   time.Duration `env:"MAIL_RETRY_DELAY" envDefault:"2s"`
}

// Default scopes per provider.
var (
	defaultGitHubScopes  = []string{"read:user", "user:email"}
	defaultYandexScopes  = []string{"login:email", "login:info"}
	defaultTinkoffScopes = []string{"profile", "email"}
)

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if len(cfg.GitHub.Scopes) == 0 {
		cfg.GitHub.Scopes = defaultGitHubScopes
	}
	if len(cfg.Yandex.Scopes) == 0 {
		cfg.Yandex.Scopes = defaultYandexScopes
	}
	if len(cfg.Tinkoff.Scopes) == 0 {
		cfg.Tinkoff.Scopes = defaultTinkoffScopes
	}
	cfg.Session.Backend = strings.ToLower(strings.TrimSpace(cfg.Session.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: %sPORT must be 1-65535, got %d", Prefix, c.Port))
	}
	if len(c.SecretKey) < 16 {
		errs = append(errs, fmt.Errorf("config: %sSECRET_KEY must be at least 16 characters", Prefix))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: %sBASE_URL must be an absolute URL, got %q", Prefix, c.BaseURL))
	}
	if !strings.HasPrefix(c.DefaultRedirect, "/") || strings.HasPrefix(c.DefaultRedirect, "//") {
		errs = append(errs, fmt.Errorf("config: %sDEFAULT_REDIRECT must be a local path, got %q", Prefix, c.DefaultRedirect))
	}
	switch c.Session.Backend {
	case SessionSQLite, SessionRedis, SessionMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown %sSESSION_BACKEND %q", Prefix, c.Session.Backend))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("config: %sSESSION_TTL must be positive", Prefix))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: %sPROVIDER_TIMEOUT must be positive", Prefix))
	}
	if c.Mail.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("config: %sMAIL_MAX_RETRIES must be at least 1", Prefix))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid %sLOG_LEVEL %q", Prefix, s)
	}
	return level, nil
}
