package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mirror-sync-service/internal/httpclient"
	"mirror-sync-service/internal/logger"
)

const (
	loginPath   = "/api/login_password"
	sessionPath = "/api/session"
)

// AuthSession holds the bearer token used against the master. It is shared by
// every job of a Manager.
type AuthSession struct {
	client        *httpclient.Client
	email         string
	password      string
	clock         Clock
	checkInterval time.Duration

	mu        sync.Mutex
	token     string
	checkedAt time.Time
}

type AuthOption func(*AuthSession)

func WithAuthClock(c Clock) AuthOption {
	return func(s *AuthSession) { s.clock = c }
}

// WithCheckInterval sets how old a cached token may get before EnsureToken
// probes the master's session endpoint. Zero disables probing.
func WithCheckInterval(d time.Duration) AuthOption {
	return func(s *AuthSession) { s.checkInterval = d }
}

func NewAuthSession(client *httpclient.Client, email, password string, opts ...AuthOption) *AuthSession {
	s := &AuthSession{
		client:   client,
		email:    email,
		password: password,
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureToken returns a usable token, logging in first if none is cached or
// the cached one no longer passes the session probe.
func (s *AuthSession) EnsureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return s.login(ctx)
	}

	if s.checkInterval > 0 && s.clock.Now().Sub(s.checkedAt) >= s.checkInterval {
		err := s.client.Get(ctx, sessionPath, s.token, nil)
		if err == nil {
			s.checkedAt = s.clock.Now()
			return s.token, nil
		}
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsTransport() {
			return "", &AuthError{Err: err}
		}
		logger.Log.Info("Master session expired, logging in again", zap.Int("status", httpclient.StatusOf(err)))
		return s.login(ctx)
	}

	return s.token, nil
}

func (s *AuthSession) Login(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx)
}

// Invalidate drops the cached token if it is still the one the caller saw
// rejected, so a token refreshed meanwhile by another job survives.
func (s *AuthSession) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
	}
}

func (s *AuthSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *AuthSession) login(ctx context.Context) (string, error) {
	s.token = ""

	req := map[string]string{"email": s.email, "password": s.password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := s.client.Post(ctx, loginPath, "", req, &resp); err != nil {
		return "", &AuthError{Err: err}
	}
	if resp.Token == "" {
		return "", &AuthError{Err: errors.New("login response carried no token")}
	}

	s.token = resp.Token
	s.checkedAt = s.clock.Now()
	logger.Log.Info("Logged in to master", zap.String("email", s.email))
	return s.token, nil
}
