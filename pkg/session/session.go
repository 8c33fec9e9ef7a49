package session

import (
	"encoding/gob"
	"sort"

	"github.com/gorilla/sessions"
)

// Keys under which a Session is persisted
const (
	KeyAccessToken = "access_token"
	KeyIDToken     = "id_token"
	KeyUserInfo    = "userinfo"
	KeyState       = "oauth_state"
	KeyNonce       = "oauth_nonce"
)

func init() {
	// claim values decoded from JSON end up as these types
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// UserInfo holds the verified ID token claims as returned by the provider
type UserInfo map[string]interface{}

func (u UserInfo) Subject() string { return u.str("sub") }
func (u UserInfo) Email() string   { return u.str("email") }
func (u UserInfo) Name() string    { return u.str("name") }
func (u UserInfo) Picture() string { return u.str("picture") }

func (u UserInfo) str(claim string) string {
	v, _ := u[claim].(string)
	return v
}

// PendingLogin is written by /login and consumed by /callback
type PendingLogin struct {
	State string
	Nonce string
}

// Session is the typed view of one client's session.
// Zero-valued fields are absent from the stored session.
type Session struct {
	AccessToken string
	IDToken     string
	UserInfo    UserInfo
	Pending     *PendingLogin

	raw *sessions.Session
}

// Authenticated reports whether a login has completed for this session
func (s *Session) Authenticated() bool {
	return s != nil && s.IDToken != ""
}

// Complete replaces any pending login with the tokens of a finished one
func (s *Session) Complete(accessToken, idToken string, userInfo UserInfo) {
	s.AccessToken = accessToken
	s.IDToken = idToken
	s.UserInfo = userInfo
	s.Pending = nil
}

// Keys lists the keys present in the stored session as loaded
func (s *Session) Keys() []string {
	if s == nil || s.raw == nil {
		return nil
	}
	keys := make([]string, 0, len(s.raw.Values))
	for k := range s.raw.Values {
		if key, ok := k.(string); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func fromValues(raw *sessions.Session) *Session {
	s := &Session{raw: raw}
	s.AccessToken, _ = raw.Values[KeyAccessToken].(string)
	s.IDToken, _ = raw.Values[KeyIDToken].(string)

	switch v := raw.Values[KeyUserInfo].(type) {
	case map[string]interface{}:
		s.UserInfo = UserInfo(v)
	case UserInfo:
		s.UserInfo = v
	}

	state, _ := raw.Values[KeyState].(string)
	nonce, _ := raw.Values[KeyNonce].(string)
	if state != "" {
		s.Pending = &PendingLogin{State: state, Nonce: nonce}
	}
	return s
}

func (s *Session) toValues(values map[interface{}]interface{}) {
	setOrDelete(values, KeyAccessToken, s.AccessToken)
	setOrDelete(values, KeyIDToken, s.IDToken)

	if s.UserInfo != nil {
		values[KeyUserInfo] = map[string]interface{}(s.UserInfo)
	} else {
		delete(values, KeyUserInfo)
	}

	if s.Pending != nil {
		setOrDelete(values, KeyState, s.Pending.State)
		setOrDelete(values, KeyNonce, s.Pending.Nonce)
	} else {
		delete(values, KeyState)
		delete(values, KeyNonce)
	}
}

func setOrDelete(values map[interface{}]interface{}, key, value string) {
	if value == "" {
		delete(values, key)
		return
	}
	values[key] = value
}
