package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes mounts the pages, assets and, when configured, /metrics on r
func Routes(r chi.Router, h *Handle) {
	r.Get("/", h.Home)
	r.Get("/logout", h.Logout)
	r.Get("/profile", h.Profile)
	r.Get("/api/me", h.Me)
	r.Handle("/static/*", staticHandler())

	r.Group(func(r chi.Router) {
		if h.settings.TrustProxyHeaders {
			r.Use(middleware.RealIP)
		}
		if h.rateLimit != nil {
			r.Use(h.rateLimit.Handler)
		}
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
	})

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
}
