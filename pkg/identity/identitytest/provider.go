// Package identitytest runs an in-process OpenID Connect provider for tests.
//
// The provider serves discovery, authorization, token and JWKS endpoints on
// an httptest server and signs ID tokens with a throwaway RSA key.
//
//	p := identitytest.Start(t)
//	auth := identity.NewOIDCAuthenticator(identity.Config{
//		Issuer:       p.Issuer(),
//		ClientID:     identitytest.ClientID,
//		ClientSecret: identitytest.ClientSecret,
//	})
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Defaults the provider starts with
const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	AuthCode     = "test-code"
	AccessToken  = "test-access-token"
	Subject      = "u1"
	keyID        = "test-key"
)

// Endpoint paths
const (
	DiscoveryPath = "/.well-known/openid-configuration"
	AuthorizePath = "/authorize"
	TokenPath     = "/token"
	JWKSPath      = "/.well-known/jwks.json"
)

// Provider is a disposable OIDC provider
type Provider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	t      *testing.T

	mu                sync.Mutex
	clientID          string
	clientSecret      string
	code              string
	nonceOverride     string
	lastNonce         string
	redirectURI       string
	claims            map[string]interface{}
	audience          string
	omitIDToken       bool
	tokenStatus       int
	discoveryFailures int
	hits              map[string]int
}

// Start launches a provider that is shut down when the test ends
func Start(t *testing.T) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &Provider{
		key:          key,
		t:            t,
		clientID:     ClientID,
		clientSecret: ClientSecret,
		code:         AuthCode,
		claims: map[string]interface{}{
			"sub":   Subject,
			"email": "a@b.com",
			"name":  "Test User",
		},
		hits: make(map[string]int),
	}

	p.server = httptest.NewUnstartedServer(p)
	p.server.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.server.Start()
	t.Cleanup(p.server.Close)

	return p
}

// Issuer is the provider's base URL
func (p *Provider) Issuer() string { return p.server.URL }

// SetClientCreds changes the accepted client credentials
func (p *Provider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAuthCode changes the code issued by /authorize and accepted by /token
func (p *Provider) SetAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.code = code
}

// SetNonce overrides the nonce claim. By default the nonce from the last
// authorization request is echoed.
func (p *Provider) SetNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonceOverride = nonce
}

// SetClaims replaces the ID token claims other than iss, aud, iat, exp and nonce
func (p *Provider) SetClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = claims
}

// SetAudience issues ID tokens for another audience
func (p *Provider) SetAudience(audience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audience = audience
}

// OmitIDToken leaves id_token out of token responses
func (p *Provider) OmitIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// FailTokenEndpoint makes /token answer with status
func (p *Provider) FailTokenEndpoint(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// FailDiscovery makes the next n discovery requests fail
func (p *Provider) FailDiscovery(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryFailures = n
}

// Hits returns how many requests path has received
func (p *Provider) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// Authorize follows authURL the way a browser would and returns the
// callback query the provider redirects to
func (p *Provider) Authorize(authURL string) url.Values {
	p.t.Helper()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(p.t, err)
	defer resp.Body.Close()
	require.Equal(p.t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(p.t, err)
	return location.Query()
}

// SignIDToken signs claims with the provider key
func (p *Provider) SignIDToken(claims jwt.MapClaims) string {
	p.t.Helper()

	signed, err := p.sign(claims)
	require.NoError(p.t, err)
	return signed
}

func (p *Provider) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(p.key)
}

// ServeHTTP implements the provider endpoints
func (p *Provider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hits[req.URL.Path]++

	switch req.URL.Path {
	case DiscoveryPath:
		if p.discoveryFailures > 0 {
			p.discoveryFailures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"issuer":                                p.server.URL,
			"authorization_endpoint":                p.server.URL + AuthorizePath,
			"token_endpoint":                        p.server.URL + TokenPath,
			"jwks_uri":                              p.server.URL + JWKSPath,
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})

	case AuthorizePath:
		p.authorize(w, req)

	case TokenPath:
		p.token(w, req)

	case JWKSPath:
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": keyID,
				"n":   base64.RawURLEncoding.EncodeToString(p.key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(p.key.PublicKey.E)).Bytes()),
			}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *Provider) authorize(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || q.Get("client_id") != p.clientID {
		http.Error(w, "invalid client or redirect_uri", http.StatusBadRequest)
		return
	}

	callback, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	reply := callback.Query()
	reply.Set("state", q.Get("state"))
	if q.Get("response_type") != "code" || q.Get("state") == "" {
		reply.Set("error", "invalid_request")
	} else {
		reply.Set("code", p.code)
		p.redirectURI = redirectURI
		p.lastNonce = q.Get("nonce")
	}
	callback.RawQuery = reply.Encode()

	http.Redirect(w, req, callback.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.tokenStatus != 0 {
		p.writeJSON(w, p.tokenStatus, map[string]string{"error": "server_error"})
		return
	}

	clientID, clientSecret, ok := req.BasicAuth()
	if !ok {
		clientID, clientSecret = req.FormValue("client_id"), req.FormValue("client_secret")
	}

	switch {
	case clientID != p.clientID || clientSecret != p.clientSecret:
		p.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	case req.FormValue("grant_type") != "authorization_code":
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	case req.FormValue("code") != p.code:
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	case p.redirectURI != "" && req.FormValue("redirect_uri") != p.redirectURI:
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "redirect_uri mismatch"})
		return
	}

	reply := map[string]interface{}{
		"access_token": AccessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !p.omitIDToken {
		idToken, err := p.sign(p.idTokenClaims())
		if err != nil {
			p.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		reply["id_token"] = idToken
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *Provider) idTokenClaims() jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range p.claims {
		claims[k] = v
	}

	audience := p.clientID
	if p.audience != "" {
		audience = p.audience
	}
	claims["iss"] = p.server.URL
	claims["aud"] = audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(5 * time.Minute).Unix()
	nonce := p.lastNonce
	if p.nonceOverride != "" {
		nonce = p.nonceOverride
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return claims
}

func (p *Provider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}
