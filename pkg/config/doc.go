// Package config loads fastid settings from the environment.
//
// Settings are read once at startup with cleanenv struct tags, optionally
// after a .env file has been loaded with godotenv. The resulting value is
// immutable and passed explicitly to every component that needs it.
//
// # Basic Usage
//
//	config.LoadEnvFile()
//
//	settings, err := config.Load()
//	if err != nil {
//		slog.Error("Invalid configuration", "error", err)
//		os.Exit(-1)
//	}
//
// # Environment Variables
//
// Required:
//   - DOMAIN: identity provider hostname (e.g. tenant.eu.auth0.com)
//   - CLIENT_ID, CLIENT_SECRET: OAuth2 client credentials
//   - SECRET_KEY: session signing secret
//
// Optional:
//   - AUDIENCE: API audience sent with the authorization request (default "")
//   - ISSUER_URL: OIDC issuer (default https://{DOMAIN}/)
//   - BASE_URL: public URL of this app (default: derived per request)
//   - SCOPES: comma separated (default openid,profile,email)
//   - PROVIDER_TIMEOUT: outbound request timeout (default 10s)
//   - SESSION_BACKEND: cookie, filesystem or redis (default cookie)
//   - SESSION_COOKIE_NAME, SESSION_COOKIE_SECURE, SESSION_MAX_AGE (ISO 8601, default P14D)
//   - SESSION_DIR: filesystem backend directory
//   - REDIS_URL: redis backend location
//   - RATELIMIT_ENABLED, RATELIMIT_BURST, RATELIMIT_PER_MINUTE
//   - METRICS_ENABLED, APP_PORT, LOG_LEVEL
//
// # Validation
//
// Load reports every invalid field at once. The error wraps a
// *multierror.Error whose entries are *ValidationError values.
package config
