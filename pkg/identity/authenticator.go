package identity

import (
	"context"
	"time"
)

// DefaultScopes are requested when Config.Scopes is empty
var DefaultScopes = []string{"openid", "profile", "email"}

// AuthorizationRequest is a provider authorization redirect and the values
// the caller must keep until the callback arrives
type AuthorizationRequest struct {
	URL   string
	State string
	Nonce string
}

// CallbackRequest carries what the provider sent to the callback endpoint
// together with what was remembered from the matching AuthorizationRequest
type CallbackRequest struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string

	ExpectedState string
	Nonce         string
	CallbackURL   string
}

// TokenBundle is the result of a successful code exchange
type TokenBundle struct {
	AccessToken string
	IDToken     string
	UserInfo    map[string]interface{}

	TokenType string
	Expiry    time.Time
}

// Authenticator runs the two legs of the authorization code flow
type Authenticator interface {
	// AuthorizationRedirect builds the provider URL the browser is sent to.
	// audience is omitted from the request when empty.
	AuthorizationRedirect(ctx context.Context, callbackURL, audience string) (*AuthorizationRequest, error)

	// ExchangeCode validates the callback and trades the code for tokens
	ExchangeCode(ctx context.Context, req CallbackRequest) (*TokenBundle, error)
}
