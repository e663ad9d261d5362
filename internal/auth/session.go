package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	errors "github.com/frahmantamala/expense-claims/internal"
)

// Authenticator exchanges credentials or a refresh token for tokens.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (AuthTokens, error)
	Refresh(ctx context.Context, refreshToken string) (AuthTokens, error)
}

// IdentityProvider resolves the user behind an access token.
type IdentityProvider interface {
	CurrentUser(ctx context.Context, accessToken string) (*User, error)
}

// SessionData is the persisted part of a session.
type SessionData struct {
	Tokens AuthTokens `json:"tokens"`
	User   *User      `json:"user,omitempty"`
}

type SessionStore interface {
	Load() (SessionData, error)
	Save(SessionData) error
	Clear() error
}

// Session owns the signed-in user's tokens. It refreshes the access token
// shortly before expiry and runs the expiry hooks when the backend stops
// accepting the credentials.
type Session struct {
	mu        sync.Mutex
	auth      Authenticator
	identity  IdentityProvider
	store     SessionStore
	data      SessionData
	skew      time.Duration
	now       func() time.Time
	onExpired []func()
}

func NewSession(a Authenticator, id IdentityProvider, store SessionStore) *Session {
	if store == nil {
		store = &MemoryStore{}
	}
	return &Session{
		auth:     a,
		identity: id,
		store:    store,
		skew:     30 * time.Second,
		now:      time.Now,
	}
}

// Restore loads a previously saved session. A missing session is not an error.
func (s *Session) Restore() error {
	data, err := s.store.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	tokens, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	user, err := s.identity.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = SessionData{Tokens: tokens, User: user}
	return user, s.store.Save(s.data)
}

// AccessToken returns a usable access token, refreshing it first if it is
// about to expire.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token, hooks, err := s.accessTokenLocked(ctx)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return token, err
}

func (s *Session) accessTokenLocked(ctx context.Context) (string, []func(), error) {
	if s.data.Tokens.AccessToken == "" {
		return "", nil, errors.ErrSessionExpired
	}

	exp, err := TokenExpiry(s.data.Tokens.AccessToken)
	if err == nil && (exp.IsZero() || s.now().Add(s.skew).Before(exp)) {
		return s.data.Tokens.AccessToken, nil, nil
	}

	if s.data.Tokens.RefreshToken == "" {
		return "", s.expireLocked(), errors.ErrSessionExpired
	}

	tokens, err := s.auth.Refresh(ctx, s.data.Tokens.RefreshToken)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Type == errors.ErrorTypeUnauthorized {
			return "", s.expireLocked(), errors.ErrSessionExpired.WithCause(err)
		}
		return "", nil, err
	}

	s.data.Tokens = tokens
	if err := s.store.Save(s.data); err != nil {
		return "", nil, err
	}
	return tokens.AccessToken, nil, nil
}

// CurrentUser returns the signed-in user, if any.
func (s *Session) CurrentUser() (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.User, s.data.User != nil
}

func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	s.onExpired = append(s.onExpired, fn)
	s.mu.Unlock()
}

// Expire clears credentials and notifies listeners. Callers invoke it when
// the backend answers 401.
func (s *Session) Expire() {
	s.mu.Lock()
	hooks := s.expireLocked()
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = SessionData{}
	return s.store.Clear()
}

// expireLocked clears state and returns the hooks to run once the lock is
// released.
func (s *Session) expireLocked() []func() {
	hadUser := s.data.Tokens.AccessToken != ""
	s.data = SessionData{}
	_ = s.store.Clear()
	if !hadUser {
		return nil
	}
	return append([]func(){}, s.onExpired...)
}

// MemoryStore keeps the session for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	data SessionData
}

func (m *MemoryStore) Load() (SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *MemoryStore) Save(d SessionData) error {
	m.mu.Lock()
	m.data = d
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	return m.Save(SessionData{})
}

// FileStore persists the session as JSON, readable only by the owner.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (SessionData, error) {
	var d SessionData
	raw, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return d, err
	}
	return d, json.Unmarshal(raw, &d)
}

func (f FileStore) Save(d SessionData) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, raw, 0o600)
}

func (f FileStore) Clear() error {
	err := os.Remove(f.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
