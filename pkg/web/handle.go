package web

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/tendant/fastid/pkg/config"
	apperrors "github.com/tendant/fastid/pkg/errors"
	"github.com/tendant/fastid/pkg/identity"
	"github.com/tendant/fastid/pkg/metrics"
	"github.com/tendant/fastid/pkg/ratelimit"
	"github.com/tendant/fastid/pkg/session"
)

// Handle serves the login lifecycle pages
type Handle struct {
	settings      config.Settings
	authenticator identity.Authenticator
	store         *session.Store
	metrics       *metrics.Metrics
	rateLimit     *ratelimit.Middleware
}

// Option configures a Handle
type Option func(*Handle)

// WithMetrics records lifecycle counters and serves them on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handle) {
		h.metrics = m
	}
}

// WithRateLimit guards /login and /callback with m
func WithRateLimit(m *ratelimit.Middleware) Option {
	return func(h *Handle) {
		h.rateLimit = m
	}
}

func NewHandle(settings config.Settings, authenticator identity.Authenticator, store *session.Store, opts ...Option) *Handle {
	h := &Handle{
		settings:      settings,
		authenticator: authenticator,
		store:         store,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Home handles GET /
func (h *Handle) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, "home.html", nil)
}

// Login handles GET /login
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	base := h.baseURL(r)
	if sess.Authenticated() {
		h.metrics.LoginRedirect(metrics.TargetHome)
		http.Redirect(w, r, base+"/", http.StatusFound)
		return
	}

	authReq, err := h.authenticator.AuthorizationRedirect(r.Context(), base+"/callback", h.settings.Audience)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	sess.Pending = &session.PendingLogin{State: authReq.State, Nonce: authReq.Nonce}
	if err := h.store.Save(w, r, sess); err != nil {
		h.fail(w, r, err)
		return
	}

	h.metrics.LoginRedirect(metrics.TargetProvider)
	http.Redirect(w, r, authReq.URL, http.StatusFound)
}

// Callback handles GET /callback
func (h *Handle) Callback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	req := identity.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		CallbackURL:      h.baseURL(r) + "/callback",
	}
	if sess.Pending != nil {
		req.ExpectedState = sess.Pending.State
		req.Nonce = sess.Pending.Nonce
	}

	bundle, err := h.authenticator.ExchangeCode(r.Context(), req)
	if err != nil {
		h.metrics.Callback(metrics.ResultFailure)
		h.fail(w, r, err)
		return
	}

	sess.Complete(bundle.AccessToken, bundle.IDToken, session.UserInfo(bundle.UserInfo))
	if err := h.store.Save(w, r, sess); err != nil {
		h.metrics.Callback(metrics.ResultFailure)
		h.fail(w, r, err)
		return
	}

	h.metrics.Callback(metrics.ResultSuccess)
	slog.Info("User logged in", "sub", sess.UserInfo.Subject())
	http.Redirect(w, r, h.baseURL(r)+"/", http.StatusFound)
}

// Logout handles GET /logout
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	logoutURL := identity.LogoutURL(h.settings.Domain, h.settings.ClientID, h.baseURL(r)+"/")

	if err := h.store.Clear(w, r); err != nil {
		h.fail(w, r, err)
		return
	}

	h.metrics.Logout()
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

// Profile handles GET /profile. Sessions without userinfo are rejected
// rather than sent through /login.
func (h *Handle) Profile(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if sess.UserInfo == nil {
		h.metrics.ProfileView(metrics.ResultFailure)
		h.fail(w, r, apperrors.Unauthorized("no userinfo in session"))
		return
	}

	h.metrics.ProfileView(metrics.ResultSuccess)
	h.render(w, "profile.html", profilePage{UserInfo: sess.UserInfo})
}

// Me handles GET /api/me
func (h *Handle) Me(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if sess.UserInfo == nil {
		h.fail(w, r, apperrors.Unauthorized("no userinfo in session"))
		return
	}

	render.JSON(w, r, sess.UserInfo)
}

// fail logs err and answers with the status its code maps to
func (h *Handle) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Warn("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	http.Error(w, http.StatusText(status), status)
}

// baseURL is BASE_URL when configured, otherwise the scheme and host the
// request arrived on. X-Forwarded-* only count from a trusted proxy.
func (h *Handle) baseURL(r *http.Request) string {
	if h.settings.BaseURL != "" {
		return h.settings.BaseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if h.settings.TrustProxyHeaders {
		if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
			scheme = proto
		}
		if fwd := firstValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
			host = fwd
		}
	}

	return scheme + "://" + host
}

func firstValue(header string) string {
	return strings.TrimSpace(strings.Split(header, ",")[0])
}
