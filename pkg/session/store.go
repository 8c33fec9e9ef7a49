package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/fastid/pkg/config"
	apperrors "github.com/tendant/fastid/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const keyDerivationInfo = "fastid session keys v1"

// Options configures a Store
type Options struct {
	Backend      string
	SecretKey    string
	CookieName   string
	CookieSecure bool
	MaxAge       time.Duration

	// Dir is used by the filesystem backend, os.TempDir() when empty
	Dir string
	// Redis is required by the redis backend
	Redis *redis.Client
}

// OptionsFromSettings maps Settings onto store Options.
// For the redis backend it also creates the client from REDIS_URL.
func OptionsFromSettings(s config.Settings) (Options, error) {
	opts := Options{
		Backend:      s.Session.Backend,
		SecretKey:    s.SecretKey,
		CookieName:   s.Session.CookieName,
		CookieSecure: s.Session.CookieSecure,
		MaxAge:       s.Session.MaxAgeDuration(),
		Dir:          s.Session.Dir,
	}

	if opts.Backend == config.SessionBackendRedis {
		redisOpts, err := redis.ParseURL(s.Session.RedisURL)
		if err != nil {
			return Options{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid REDIS_URL")
		}
		opts.Redis = redis.NewClient(redisOpts)
	}
	return opts, nil
}

// Store loads and saves typed sessions on top of a gorilla sessions.Store
type Store struct {
	name    string
	backend sessions.Store
	options sessions.Options
}

// NewStore creates a Store for the configured backend
func NewStore(opts Options) (*Store, error) {
	if opts.SecretKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingRequired, "session secret key is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = "session"
	}
	if opts.Backend == "" {
		opts.Backend = config.SessionBackendFilesystem
	}

	hashKey, blockKey, err := deriveKeys(opts.SecretKey)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to derive session keys")
	}

	cookieOpts := sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}

	var backend sessions.Store
	switch opts.Backend {
	case config.SessionBackendCookie:
		cs := sessions.NewCookieStore(hashKey, blockKey)
		cs.Options = &cookieOpts
		cs.MaxAge(cookieOpts.MaxAge)
		backend = cs
	case config.SessionBackendFilesystem:
		fss := sessions.NewFilesystemStore(opts.Dir, hashKey, blockKey)
		fss.Options = &cookieOpts
		fss.MaxAge(cookieOpts.MaxAge)
		// token bundles do not fit the default 4096 byte limit once on disk
		fss.MaxLength(0)
		backend = fss
	case config.SessionBackendRedis:
		if opts.Redis == nil {
			return nil, apperrors.New(apperrors.ErrCodeMissingRequired, "redis session backend requires a client")
		}
		rs := NewRedisStore(opts.Redis, hashKey, blockKey)
		rs.Options = &cookieOpts
		rs.MaxAge(cookieOpts.MaxAge)
		backend = rs
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown session backend %q", opts.Backend)
	}

	slog.Info("Session store configured", "backend", opts.Backend, "cookie", opts.CookieName, "maxAge", opts.MaxAge, "secure", opts.CookieSecure)

	return &Store{name: opts.CookieName, backend: backend, options: cookieOpts}, nil
}

// Load returns the session attached to r.
// A cookie that cannot be decoded yields an empty session.
func (s *Store) Load(r *http.Request) (*Session, error) {
	raw, err := s.get(r)
	if err != nil {
		return nil, err
	}
	return fromValues(raw), nil
}

// Save writes sess back to its backend and sets the cookie on w
func (s *Store) Save(w http.ResponseWriter, r *http.Request, sess *Session) error {
	raw := sess.raw
	if raw == nil {
		var err error
		if raw, err = s.get(r); err != nil {
			return err
		}
		sess.raw = raw
	}

	sess.toValues(raw.Values)
	opts := s.options
	raw.Options = &opts

	if err := raw.Save(r, w); err != nil {
		return apperrors.InternalWrap(err, "failed to save session")
	}
	return nil
}

// Clear removes every key from the session attached to r and expires it
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	raw, err := s.get(r)
	if err != nil {
		return err
	}

	for k := range raw.Values {
		delete(raw.Values, k)
	}
	opts := s.options
	opts.MaxAge = -1
	raw.Options = &opts

	if err := raw.Save(r, w); err != nil {
		return apperrors.InternalWrap(err, "failed to clear session")
	}
	return nil
}

func (s *Store) get(r *http.Request) (*sessions.Session, error) {
	raw, err := s.backend.Get(r, s.name)
	if err == nil {
		return raw, nil
	}

	if !isStaleCookie(err) {
		return nil, apperrors.InternalWrap(err, "failed to load session")
	}

	slog.Debug("Discarding unreadable session cookie", "error", err)
	if raw == nil {
		raw = sessions.NewSession(s.backend, s.name)
		raw.IsNew = true
	}
	opts := s.options
	raw.Options = &opts
	// gorilla hands back a fresh session next to the decode error
	for k := range raw.Values {
		delete(raw.Values, k)
	}
	return raw, nil
}

// A cookie signed with another key, or pointing at a record that is gone
func isStaleCookie(err error) bool {
	var scErr securecookie.Error
	if errors.As(err, &scErr) && scErr.IsDecode() {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// deriveKeys expands the secret into an HMAC key and an AES-256 key
func deriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))

	hashKey = make([]byte, 64)
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, nil, fmt.Errorf("hash key: %w", err)
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(kdf, blockKey); err != nil {
		return nil, nil, fmt.Errorf("block key: %w", err)
	}
	return hashKey, blockKey, nil
}
