package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/fastid/pkg/config"
	apperrors "github.com/tendant/fastid/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.SecretKey == "" {
		opts.SecretKey = testSecret
	}
	if opts.Backend == "" {
		opts.Backend = config.SessionBackendCookie
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = time.Hour
	}
	store, err := NewStore(opts)
	require.NoError(t, err)
	return store
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// followUp builds a new request carrying the cookies set on rec
func followUp(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func authenticate(t *testing.T, store *Store) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	sess, err := store.Load(req)
	require.NoError(t, err)

	sess.Complete("A", "I", UserInfo{"sub": "u1", "email": "a@b.com"})
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, req, sess))
	return rec
}

func TestCookieStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, Options{})
	rec := authenticate(t, store)

	c := sessionCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 3600, c.MaxAge)
	assert.NotContains(t, c.Value, "u1", "cookie must be encrypted")

	sess, err := store.Load(followUp(rec))
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "A", sess.AccessToken)
	assert.Equal(t, "I", sess.IDToken)
	assert.Equal(t, "u1", sess.UserInfo.Subject())
	assert.Equal(t, "a@b.com", sess.UserInfo.Email())
	assert.Nil(t, sess.Pending)
}

func TestNoCookieLoadsAnonymous(t *testing.T) {
	store := newTestStore(t, Options{})

	sess, err := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())
	assert.Nil(t, sess.UserInfo)
}

func TestCompletedLoginKeepsOnlyTokenKeys(t *testing.T) {
	store := newTestStore(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	sess, err := store.Load(req)
	require.NoError(t, err)
	sess.Pending = &PendingLogin{State: "st", Nonce: "nc"}
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, req, sess))

	req = followUp(rec)
	sess, err = store.Load(req)
	require.NoError(t, err)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, "st", sess.Pending.State)
	assert.Equal(t, "nc", sess.Pending.Nonce)
	assert.False(t, sess.Authenticated())

	sess.Complete("A", "I", UserInfo{"sub": "u1"})
	rec = httptest.NewRecorder()
	require.NoError(t, store.Save(rec, req, sess))

	sess, err = store.Load(followUp(rec))
	require.NoError(t, err)
	assert.Equal(t, []string{KeyAccessToken, KeyIDToken, KeyUserInfo}, sess.Keys())
	assert.Equal(t, map[string]interface{}{"sub": "u1"}, sess.raw.Values[KeyUserInfo])
}

func TestTamperedCookieLoadsAnonymous(t *testing.T) {
	store := newTestStore(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "not-a-valid-cookie"})

	sess, err := store.Load(req)
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())

	// a session written under another secret is unreadable as well
	other := newTestStore(t, Options{SecretKey: "another secret key of enough length"})
	rec := authenticate(t, other)

	sess, err = store.Load(followUp(rec))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())

	// and saving over it issues a fresh cookie
	rec = httptest.NewRecorder()
	require.NoError(t, store.Save(rec, followUp(authenticate(t, other)), &Session{}))
	sessionCookie(t, rec)
}

func TestClearExpiresSession(t *testing.T) {
	store := newTestStore(t, Options{})
	rec := authenticate(t, store)

	req := followUp(rec)
	rec = httptest.NewRecorder()
	require.NoError(t, store.Clear(rec, req))

	c := sessionCookie(t, rec)
	assert.Equal(t, -1, c.MaxAge, "cookie is expired")
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	sess, err := store.Load(followUp(rec))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())
	assert.Nil(t, sess.UserInfo)
	assert.Empty(t, sess.Keys())
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, Options{Backend: config.SessionBackendFilesystem, Dir: t.TempDir()})

	// large enough to overflow a cookie
	rec := authenticate(t, store)
	req := followUp(rec)
	sess, err := store.Load(req)
	require.NoError(t, err)
	sess.AccessToken = strings.Repeat("a", 6000)
	rec = httptest.NewRecorder()
	require.NoError(t, store.Save(rec, req, sess))

	sess, err = store.Load(followUp(rec))
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	assert.Len(t, sess.AccessToken, 6000)
	assert.Equal(t, "u1", sess.UserInfo.Subject())
}

// tokenBundle approximates what Auth0 issues when an API audience is
// requested: a JWT access token, an RS256 id_token and profile claims
func tokenBundle() (accessToken, idToken string, userInfo UserInfo) {
	userInfo = UserInfo{
		"sub":            "auth0|5f7c8ec7c33c6c004bbafe82",
		"email":          "ada.lovelace@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"given_name":     "Ada",
		"family_name":    "Lovelace",
		"nickname":       "ada.lovelace",
		"picture":        "https://s.gravatar.com/avatar/" + strings.Repeat("f", 32) + "?s=480&r=pg&d=https%3A%2F%2Fcdn.auth0.com%2Favatars%2Fal.png",
		"locale":         "en",
		"updated_at":     "2024-05-01T10:00:00.000Z",
		"iss":            "https://tenant.example.com/",
		"aud":            "client-123",
		"iat":            float64(1714557600),
		"exp":            float64(1714593600),
		"sid":            strings.Repeat("s", 32),
		"nonce":          strings.Repeat("n", 32),
	}
	return strings.Repeat("a", 900), strings.Repeat("i", 1100), userInfo
}

func TestDefaultBackendHoldsAudienceTokens(t *testing.T) {
	store, err := NewStore(Options{SecretKey: testSecret, MaxAge: time.Hour, Dir: t.TempDir()})
	require.NoError(t, err)
	accessToken, idToken, userInfo := tokenBundle()

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	sess, err := store.Load(req)
	require.NoError(t, err)
	sess.Complete(accessToken, idToken, userInfo)
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, req, sess))
	assert.Less(t, len(sessionCookie(t, rec).Value), 512, "cookie only carries the session id")

	sess, err = store.Load(followUp(rec))
	require.NoError(t, err)
	assert.Equal(t, accessToken, sess.AccessToken)
	assert.Equal(t, idToken, sess.IDToken)
	assert.Equal(t, userInfo, sess.UserInfo)
}

func TestCookieBackendOverflowsOnAudienceTokens(t *testing.T) {
	store := newTestStore(t, Options{Backend: config.SessionBackendCookie})
	accessToken, idToken, userInfo := tokenBundle()

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	sess, err := store.Load(req)
	require.NoError(t, err)
	sess.Complete(accessToken, idToken, userInfo)

	err = store.Save(httptest.NewRecorder(), req, sess)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInternal))
}

func TestRedisStoreRoundTripAndDelete(t *testing.T) {
	mr, client := newTestRedis(t)
	store := newTestStore(t, Options{Backend: config.SessionBackendRedis, Redis: client, MaxAge: 2 * time.Hour})

	rec := authenticate(t, store)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], redisKeyPrefix))
	assert.Equal(t, 2*time.Hour, mr.TTL(keys[0]))

	sess, err := store.Load(followUp(rec))
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "A", sess.AccessToken)
	assert.Equal(t, "u1", sess.UserInfo.Subject())

	clearRec := httptest.NewRecorder()
	require.NoError(t, store.Clear(clearRec, followUp(rec)))
	assert.False(t, mr.Exists(keys[0]), "record is deleted on clear")
	assert.Equal(t, -1, sessionCookie(t, clearRec).MaxAge)

	// the old cookie now points at nothing
	sess, err = store.Load(followUp(rec))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())
}

func TestRedisStoreExpiredRecordLoadsAnonymous(t *testing.T) {
	mr, client := newTestRedis(t)
	store := newTestStore(t, Options{Backend: config.SessionBackendRedis, Redis: client})

	rec := authenticate(t, store)
	mr.FastForward(2 * time.Hour)

	sess, err := store.Load(followUp(rec))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())
}

func TestRedisStoreBackendFailure(t *testing.T) {
	mr, client := newTestRedis(t)
	store := newTestStore(t, Options{Backend: config.SessionBackendRedis, Redis: client})

	rec := authenticate(t, store)
	mr.SetError("LOADING server is loading the dataset")

	_, err := store.Load(followUp(rec))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInternal))
}

func TestNewStoreRejectsBadOptions(t *testing.T) {
	_, err := NewStore(Options{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))

	_, err = NewStore(Options{SecretKey: testSecret, Backend: "memcached"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = NewStore(Options{SecretKey: testSecret, Backend: config.SessionBackendRedis})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))
}

func TestOptionsFromSettings(t *testing.T) {
	s := config.Settings{
		SecretKey: testSecret,
		Session: config.SessionConfig{
			Backend:    config.SessionBackendRedis,
			CookieName: "sid",
			MaxAge:     "PT12H",
			RedisURL:   "redis://localhost:6379/2",
		},
	}

	opts, err := OptionsFromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, "sid", opts.CookieName)
	assert.Equal(t, 12*time.Hour, opts.MaxAge)
	require.NotNil(t, opts.Redis)
	assert.Equal(t, 2, opts.Redis.Options().DB)

	s.Session.RedisURL = "http://nope"
	_, err = OptionsFromSettings(s)
	assert.Error(t, err)
}
