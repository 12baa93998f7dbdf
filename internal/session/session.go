package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"esgwatch/internal/models"
)

const (
	// TokenKey holds the bearer credential.
	TokenKey = "esg_token"
	// UserKey holds the serialised user profile.
	UserKey = "esg_user"
)

// ErrNotAuthenticated is returned when a command needs a session and none is stored.
var ErrNotAuthenticated = errors.New("not logged in")

// Session is the locally persisted authentication state.
type Session struct {
	kv     *FileKV
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	token    string
	user     *models.User
	redirect chan struct{}
	raised   bool
}

// New builds a session over the key-value file at path. Call Hydrate to restore it.
func New(path string, logger zerolog.Logger) *Session {
	return &Session{
		kv:       NewFileKV(path),
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
		redirect: make(chan struct{}),
	}
}

// Hydrate restores the session from disk. Both keys must be present and the
// user must decode; otherwise the in-memory state is cleared. A JWT whose exp
// claim has passed is not restored.
func (s *Session) Hydrate() error {
	token, hasToken, err := s.kv.Get(TokenKey)
	if err != nil {
		return err
	}
	raw, hasUser, err := s.kv.Get(UserKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.user = "", nil

	if !hasToken || !hasUser || token == "" {
		return nil
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn().Err(err).Msg("stored user profile unreadable; session not restored")
		return nil
	}
	if exp, ok := TokenExpiry(token); ok && !exp.After(s.now()) {
		s.logger.Info().Time("expired_at", exp).Msg("stored token expired; session not restored")
		return nil
	}

	s.token = token
	s.user = &user
	return nil
}

// SetAuth persists token and user and marks the session authenticated.
func (s *Session) SetAuth(token string, user models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.kv.Set(map[string]string{TokenKey: token, UserKey: string(raw)}); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	if s.raised {
		s.redirect = make(chan struct{})
		s.raised = false
	}
	s.mu.Unlock()
	return nil
}

// Logout clears both the persisted and in-memory state.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token, s.user = "", nil
	s.mu.Unlock()
	return s.kv.Delete(TokenKey, UserKey)
}

// HandleUnauthorized clears credentials after a 401 and raises the login signal.
func (s *Session) HandleUnauthorized() {
	if err := s.Logout(); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear session after 401")
	}
	s.mu.Lock()
	if !s.raised {
		s.raised = true
		close(s.redirect)
	}
	s.mu.Unlock()
}

// LoginRequired is closed on the first rejected credential and stays closed
// until SetAuth stores a new one.
func (s *Session) LoginRequired() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redirect
}

// Token returns the current bearer credential, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the logged-in profile.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a token and profile are loaded.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

// Path returns the backing file.
func (s *Session) Path() string {
	return s.kv.Path()
}

// TokenExpiry reads the exp claim without verifying the signature. ok is false
// for tokens that are not JWTs or carry no exp.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
