// Package session owns the listen key that authorises the private stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/exchange"
)

// DefaultRenewAfter keeps renewals well inside the exchange's 60 minute
// listen key expiry.
const DefaultRenewAfter = 1800 * time.Second

var (
	// ErrAuth means the exchange refused to issue a listen key. It is fatal at
	// startup.
	ErrAuth      = errors.New("session: authentication failed")
	ErrNoSession = errors.New("session: no active listen key")
)

// Gateway is the subset of the exchange gateway the manager needs.
type Gateway interface {
	CreateListenKey(ctx context.Context) (string, error)
	RenewListenKey(ctx context.Context, listenKey string) error
	DeleteListenKey(ctx context.Context, listenKey string) error
}

// Token is an exchange-issued listen key.
type Token struct {
	Key           string
	CreatedAt     time.Time
	LastRenewedAt time.Time
}

func (t Token) LogValue() slog.Value {
	key := t.Key
	if len(key) > 8 {
		key = key[:8] + "…"
	}
	return slog.GroupValue(
		slog.String("key", key),
		slog.Time("created-at", t.CreatedAt),
		slog.Time("renewed-at", t.LastRenewedAt),
	)
}

// Manager creates and renews the listen key. It is safe for concurrent use.
type Manager struct {
	gw         Gateway
	clock      clock.PassiveClock
	renewAfter time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	token *Token
}

type Option func(*Manager)

func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithRenewAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.renewAfter = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.WithGroup("session")
		}
	}
}

func NewManager(gw Gateway, opts ...Option) *Manager {
	m := &Manager{
		gw:         gw,
		clock:      clock.RealClock{},
		renewAfter: DefaultRenewAfter,
		logger:     slog.Default().WithGroup("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create requests a fresh listen key and replaces the current one.
func (m *Manager) Create(ctx context.Context) (Token, error) {
	key, err := m.gw.CreateListenKey(ctx)
	if err != nil {
		if isAuthFailure(err) {
			return Token{}, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return Token{}, fmt.Errorf("create session: %w", err)
	}

	now := m.clock.Now()
	tok := Token{Key: key, CreatedAt: now, LastRenewedAt: now}

	m.mu.Lock()
	m.token = &tok
	m.mu.Unlock()

	m.logger.Info("session created", slog.Any("token", tok))
	return tok, nil
}

// Renew extends the current listen key. On failure the token is kept as is
// and the error is returned for logging; the next tick tries again.
func (m *Manager) Renew(ctx context.Context) error {
	tok, ok := m.Token()
	if !ok {
		return ErrNoSession
	}

	if err := m.gw.RenewListenKey(ctx, tok.Key); err != nil {
		m.logger.Warn("session renewal failed",
			slog.Any("token", tok),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("renew session: %w", err)
	}

	now := m.clock.Now()
	m.mu.Lock()
	if m.token != nil && m.token.Key == tok.Key {
		m.token.LastRenewedAt = now
	}
	m.mu.Unlock()

	m.logger.Debug("session renewed", slog.Any("token", tok))
	return nil
}

// RenewIfDue renews when the renewal threshold has elapsed since the last
// successful renewal. It reports whether a renewal was attempted.
func (m *Manager) RenewIfDue(ctx context.Context) (bool, error) {
	tok, ok := m.Token()
	if !ok {
		return false, ErrNoSession
	}
	if m.clock.Since(tok.LastRenewedAt) < m.renewAfter {
		return false, nil
	}
	return true, m.Renew(ctx)
}

// Ensure returns a usable token, renewing the current one or creating a new
// one when there is none or renewal fails.
func (m *Manager) Ensure(ctx context.Context) (Token, error) {
	if _, ok := m.Token(); ok {
		if err := m.Renew(ctx); err == nil {
			tok, _ := m.Token()
			return tok, nil
		}
	}
	return m.Create(ctx)
}

// Close deletes the listen key. It is best effort.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	tok := m.token
	m.token = nil
	m.mu.Unlock()

	if tok == nil {
		return nil
	}
	if err := m.gw.DeleteListenKey(ctx, tok.Key); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	m.logger.Info("session closed", slog.Any("token", *tok))
	return nil
}

func (m *Manager) Token() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return Token{}, false
	}
	return *m.token, true
}

func isAuthFailure(err error) bool {
	if errors.Is(err, exchange.ErrMissingListenKey) {
		return true
	}
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}
