package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sosodev/duration"
	apperrors "github.com/tendant/fastid/pkg/errors"
)

// Session backends
const (
	SessionBackendCookie     = "cookie"
	SessionBackendFilesystem = "filesystem"
	SessionBackendRedis      = "redis"
)

// SessionConfig controls where sessions live and how the cookie is issued
type SessionConfig struct {
	Backend      string `env:"SESSION_BACKEND" env-default:"filesystem"`
	CookieName   string `env:"SESSION_COOKIE_NAME" env-default:"session"`
	CookieSecure bool   `env:"SESSION_COOKIE_SECURE" env-default:"false"`
	// ISO 8601 duration, e.g. P14D or PT12H
	MaxAge   string `env:"SESSION_MAX_AGE" env-default:"P14D"`
	Dir      string `env:"SESSION_DIR" env-default:""`
	RedisURL string `env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
}

// MaxAgeDuration returns MaxAge as a time.Duration.
// Returns 0 when MaxAge does not parse; Load rejects such values.
func (c SessionConfig) MaxAgeDuration() time.Duration {
	d, err := duration.Parse(c.MaxAge)
	if err != nil {
		return 0
	}
	return d.ToTimeDuration()
}

// RateLimitConfig limits how often one client may start or finish a login
type RateLimitConfig struct {
	Enabled   bool `env:"RATELIMIT_ENABLED" env-default:"true"`
	Burst     int  `env:"RATELIMIT_BURST" env-default:"20"`
	PerMinute int  `env:"RATELIMIT_PER_MINUTE" env-default:"60"`
}

// Settings is the process-wide configuration, read once at startup
type Settings struct {
	// Identity provider
	Domain          string        `env:"DOMAIN"`
	ClientID        string        `env:"CLIENT_ID"`
	ClientSecret    string        `env:"CLIENT_SECRET"`
	Audience        string        `env:"AUDIENCE" env-default:""`
	Issuer          string        `env:"ISSUER_URL" env-default:""`
	Scopes          []string      `env:"SCOPES" env-default:"openid,profile,email" env-separator:","`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" env-default:"10s"`

	// Session signing secret
	SecretKey string `env:"SECRET_KEY"`

	// Public URL of this app; derived from each request when empty
	BaseURL string `env:"BASE_URL" env-default:""`

	// Honor X-Forwarded-* and X-Real-IP. Enable only behind a proxy that
	// overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" env-default:"false"`

	Port           uint16 `env:"APP_PORT" env-default:"8000"`
	LogLevel       string `env:"LOG_LEVEL" env-default:"info"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" env-default:"true"`

	Session   SessionConfig
	RateLimit RateLimitConfig
}

// Load reads Settings from the environment and validates them.
// Every problem found is reported in the returned error.
func Load() (Settings, error) {
	var s Settings
	if err := cleanenv.ReadEnv(&s); err != nil {
		return Settings{}, apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "failed to read environment")
	}

	s.BaseURL = strings.TrimSuffix(s.BaseURL, "/")

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	if len(s.SecretKey) < 32 {
		slog.Warn("SECRET_KEY is shorter than 32 bytes", "length", len(s.SecretKey))
	}

	return s, nil
}

// Validate checks required fields and the shape of optional ones
func (s Settings) Validate() error {
	err := Validate(
		RequireNonEmpty("DOMAIN", s.Domain),
		RequireNonEmpty("CLIENT_ID", s.ClientID),
		RequireNonEmpty("CLIENT_SECRET", s.ClientSecret),
		RequireNonEmpty("SECRET_KEY", s.SecretKey),
		validateDomain(s.Domain),
		OptionalValidURL("ISSUER_URL", s.Issuer),
		OptionalValidURL("BASE_URL", s.BaseURL),
		RequireOneOf("LOG_LEVEL", strings.ToLower(s.LogLevel), []string{"debug", "info", "warn", "error"}),
		RequireOneOf("SESSION_BACKEND", s.Session.Backend,
			[]string{SessionBackendCookie, SessionBackendFilesystem, SessionBackendRedis}),
		RequireNonEmpty("SESSION_COOKIE_NAME", s.Session.CookieName),
		validateMaxAge(s.Session.MaxAge),
		validateRedis(s.Session),
		validateCookieBackend(s.Session.Backend, s.Audience),
		validateRateLimit("RATELIMIT_BURST", s.RateLimit.Enabled, s.RateLimit.Burst),
		validateRateLimit("RATELIMIT_PER_MINUTE", s.RateLimit.Enabled, s.RateLimit.PerMinute),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid settings")
	}
	return nil
}

// IssuerURL returns the OIDC issuer, https://{DOMAIN}/ unless overridden
func (s Settings) IssuerURL() string {
	if s.Issuer != "" {
		return s.Issuer
	}
	return fmt.Sprintf("https://%s/", s.Domain)
}

// SlogLevel maps LogLevel to a slog.Level
func (s Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DOMAIN is a bare hostname, not a URL
func validateDomain(domain string) *ValidationError {
	if domain == "" {
		return nil
	}
	if strings.Contains(domain, "://") || strings.ContainsAny(domain, "/?#") {
		return &ValidationError{Field: "DOMAIN", Message: fmt.Sprintf("must be a bare hostname, got %q", domain)}
	}
	return nil
}

func validateMaxAge(value string) *ValidationError {
	d, err := duration.Parse(value)
	if err != nil {
		return &ValidationError{Field: "SESSION_MAX_AGE", Message: fmt.Sprintf("invalid ISO 8601 duration: %v", err)}
	}
	if d.ToTimeDuration() <= 0 {
		return &ValidationError{Field: "SESSION_MAX_AGE", Message: "must be positive"}
	}
	return nil
}

func validateRedis(c SessionConfig) *ValidationError {
	if c.Backend != SessionBackendRedis {
		return nil
	}
	return RequireValidURL("REDIS_URL", c.RedisURL)
}

// An API access token issued for AUDIENCE plus the id_token and claims
// overflow the 4096 byte securecookie limit once encoded.
func validateCookieBackend(backend, audience string) *ValidationError {
	if backend != SessionBackendCookie || audience == "" {
		return nil
	}
	return &ValidationError{
		Field:   "SESSION_BACKEND",
		Message: "cookie sessions cannot hold the access token issued for AUDIENCE, use filesystem or redis",
	}
}

func validateRateLimit(field string, enabled bool, value int) *ValidationError {
	if !enabled {
		return nil
	}
	return RequirePositive(field, value)
}
