package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/tendant/fastid/pkg/config"
	apperrors "github.com/tendant/fastid/pkg/errors"
	"golang.org/x/oauth2"
)

const randomValueBytes = 24

// Config describes the OAuth2 client registered at the provider
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// ConfigFromSettings maps Settings onto an authenticator Config
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Issuer:       s.IssuerURL(),
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Scopes:       s.Scopes,
		Timeout:      s.ProviderTimeout,
	}
}

// OIDCAuthenticator implements Authenticator with go-oidc and x/oauth2.
// Provider metadata is discovered on first use and kept once it succeeds.
type OIDCAuthenticator struct {
	cfg        Config
	httpClient *http.Client

	mu         sync.Mutex
	discovered *discovery
}

type discovery struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// Option configures an OIDCAuthenticator
type Option func(*OIDCAuthenticator)

// WithHTTPClient sets the client used for every provider call
func WithHTTPClient(client *http.Client) Option {
	return func(a *OIDCAuthenticator) {
		a.httpClient = client
	}
}

// NewOIDCAuthenticator creates an authenticator for cfg.
// No network call is made until the first request.
func NewOIDCAuthenticator(cfg Config, opts ...Option) *OIDCAuthenticator {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}

	a := &OIDCAuthenticator{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.httpClient == nil {
		a.httpClient = cleanhttp.DefaultPooledClient()
		a.httpClient.Timeout = cfg.Timeout
	}
	return a
}

// AuthorizationRedirect implements Authenticator
func (a *OIDCAuthenticator) AuthorizationRedirect(ctx context.Context, callbackURL, audience string) (*AuthorizationRequest, error) {
	d, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}

	state, err := randomValue()
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to generate state")
	}
	nonce, err := randomValue()
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to generate nonce")
	}

	opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
	if audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", audience))
	}

	authURL := a.oauth2Config(d, callbackURL).AuthCodeURL(state, opts...)
	slog.Debug("Authorization request built", "callback", callbackURL, "audience", audience)

	return &AuthorizationRequest{URL: authURL, State: state, Nonce: nonce}, nil
}

// ExchangeCode implements Authenticator
func (a *OIDCAuthenticator) ExchangeCode(ctx context.Context, req CallbackRequest) (*TokenBundle, error) {
	if req.Error != "" {
		return nil, apperrors.Newf(apperrors.ErrCodeAuthFailed, "provider returned %s", req.Error).
			WithDetail("error", req.Error).
			WithDetail("error_description", req.ErrorDescription)
	}
	if req.ExpectedState == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "no login in progress")
	}
	if !equal(req.State, req.ExpectedState) {
		return nil, apperrors.New(apperrors.ErrCodeInvalidState, "state does not match")
	}
	if req.Code == "" {
		return nil, apperrors.InvalidInput("code", "is required")
	}

	d, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}

	token, err := a.oauth2Config(d, req.CallbackURL).Exchange(a.clientContext(ctx), req.Code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, apperrors.AuthFailed(err, "authorization code rejected")
		}
		return nil, apperrors.ProviderUnavailable(err, "token exchange failed")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, apperrors.AuthFailed(nil, "token response missing id_token")
	}

	idToken, err := d.verifier.Verify(a.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, apperrors.AuthFailed(err, "invalid id_token")
	}
	if !equal(idToken.Nonce, req.Nonce) {
		return nil, apperrors.AuthFailed(nil, "nonce does not match")
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, apperrors.AuthFailed(err, "failed to read id_token claims")
	}

	slog.Info("Token exchange successful", "subject", idToken.Subject, "token_type", token.TokenType, "expiry", token.Expiry)

	return &TokenBundle{
		AccessToken: token.AccessToken,
		IDToken:     rawIDToken,
		UserInfo:    claims,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}, nil
}

func (a *OIDCAuthenticator) discover(ctx context.Context) (*discovery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.discovered != nil {
		return a.discovered, nil
	}

	// discovery outlives the request that triggered it
	ctx = context.WithoutCancel(ctx)
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	provider, err := oidc.NewProvider(a.clientContext(ctx), a.cfg.Issuer)
	if err != nil {
		slog.Error("Identity provider discovery failed", "issuer", a.cfg.Issuer, "error", err)
		return nil, apperrors.ProviderUnavailable(err, fmt.Sprintf("failed to discover %s", a.cfg.Issuer))
	}

	a.discovered = &discovery{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: a.cfg.ClientID}),
	}
	slog.Info("Identity provider discovered", "issuer", a.cfg.Issuer, "authorization_endpoint", provider.Endpoint().AuthURL)
	return a.discovered, nil
}

func (a *OIDCAuthenticator) oauth2Config(d *discovery, callbackURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  callbackURL,
		Endpoint:     d.provider.Endpoint(),
		Scopes:       a.cfg.Scopes,
	}
}

func (a *OIDCAuthenticator) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, a.httpClient)
}

func randomValue() (string, error) {
	b := make([]byte, randomValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
