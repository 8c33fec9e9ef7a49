package main

import (
	"log/slog"
	"os"

	"github.com/tendant/chi-demo/app"
	"github.com/tendant/fastid/pkg/config"
	"github.com/tendant/fastid/pkg/identity"
	"github.com/tendant/fastid/pkg/metrics"
	"github.com/tendant/fastid/pkg/ratelimit"
	"github.com/tendant/fastid/pkg/session"
	"github.com/tendant/fastid/pkg/web"
)

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

func main() {
	slog.SetDefault(newLogger(slog.LevelInfo))

	// Load .env file if it exists (before reading environment variables)
	config.LoadEnvFile()

	settings, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(-1)
	}
	slog.SetDefault(newLogger(settings.SlogLevel()))

	storeOpts, err := session.OptionsFromSettings(settings)
	if err != nil {
		slog.Error("Invalid session configuration", "error", err)
		os.Exit(-1)
	}
	store, err := session.NewStore(storeOpts)
	if err != nil {
		slog.Error("Failed creating session store", "backend", settings.Session.Backend, "error", err)
		os.Exit(-1)
	}

	authenticator := identity.NewOIDCAuthenticator(identity.ConfigFromSettings(settings))
	slog.Info("Identity provider configured", "issuer", settings.IssuerURL(), "clientID", settings.ClientID, "audience", settings.Audience)

	rateLimitConfig := ratelimit.ConfigFromSettings(settings.RateLimit)
	opts := []web.Option{web.WithRateLimit(ratelimit.NewMiddleware(rateLimitConfig))}
	slog.Info("Rate limiting configured",
		"enabled", rateLimitConfig.Enabled,
		"burst", rateLimitConfig.Burst,
		"perMinute", rateLimitConfig.PerMinute,
	)

	if settings.MetricsEnabled {
		opts = append(opts, web.WithMetrics(metrics.New()))
		slog.Info("Metrics enabled", "path", "/metrics")
	}

	server := app.NewApp(app.WithPort(int(settings.Port)))
	app.RegisterHealthzRoutes(server.R)

	web.Routes(server.R, web.NewHandle(settings, authenticator, store, opts...))

	slog.Info("fastid ready", "port", settings.Port, "baseURL", settings.BaseURL, "trustProxyHeaders", settings.TrustProxyHeaders)
	server.Run()
}
