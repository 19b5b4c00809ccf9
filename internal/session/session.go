// Package session holds the authenticated user context: identity from
// the server-issued JWT, plus the balance and holdings mirrored from
// user_update frames. The state is process-wide with explicit
// initialization (loaded from persisted storage at startup) and
// explicit mutation points (login, logout, account updates). It is
// injected into consumers rather than reached for as a global.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradeterm/internal/model"
)

// ErrNoSession is returned when an operation requires a logged-in user.
var ErrNoSession = errors.New("no active session")

// Session is one authenticated user context.
type Session struct {
	UserID    int64
	Email     string
	Token     string // raw JWT as issued by the server
	Balance   float64
	Holdings  []model.Holding
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Manager owns the current session and keeps the persistent store in
// sync. Thread-safe; implements orderfeed.AccountView.
type Manager struct {
	mu      sync.RWMutex
	store   *Store
	current *Session
}

// NewManager creates a Manager backed by store. Call Init to load any
// persisted session.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Init loads the persisted session, if any. Expired sessions are
// discarded and cleared from storage.
func (m *Manager) Init() error {
	sess, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("session: load: %w", err)
	}
	if sess != nil && sess.Expired(time.Now()) {
		if err := m.store.Clear(); err != nil {
			return fmt.Errorf("session: clear expired: %w", err)
		}
		sess = nil
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
	return nil
}

// Login installs a new session from the server-issued token and the
// account snapshot delivered with it, and persists it.
func (m *Manager) Login(token string, balance float64, holdings []model.Holding) error {
	claims, err := parseClaims(token)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	sess := &Session{
		UserID:    claims.userID,
		Email:     claims.email,
		Token:     token,
		Balance:   balance,
		Holdings:  append([]model.Holding(nil), holdings...),
		ExpiresAt: claims.expiresAt,
	}
	if err := m.store.Save(sess); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
	return nil
}

// Logout drops the current session and clears persisted state.
func (m *Manager) Logout() error {
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	cp.Holdings = append([]model.Holding(nil), m.current.Holdings...)
	return &cp
}

// Authenticated reports whether a non-expired session is active.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && !m.current.Expired(time.Now())
}

// ApplyUserUpdate mirrors a server-pushed account update into the
// session and persists it. No-op without an active session.
func (m *Manager) ApplyUserUpdate(u model.UserUpdate) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.current.Balance = u.Balance
	m.current.Holdings = append([]model.Holding(nil), u.Holdings...)
	cp := *m.current
	m.mu.Unlock()

	if err := m.store.Save(&cp); err != nil {
		return fmt.Errorf("session: persist update: %w", err)
	}
	return nil
}

// Balance returns the available balance, zero without a session.
func (m *Manager) Balance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	return m.current.Balance
}

// HoldingQty returns the total held quantity for symbol.
func (m *Manager) HoldingQty(symbol string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	var qty int64
	for _, h := range m.current.Holdings {
		if h.Symbol == symbol {
			qty += h.Quantity
		}
	}
	return qty
}

// CookieHeader builds the handshake header carrying the session cookie
// expected by both WebSocket endpoints. Nil without a session.
func (m *Manager) CookieHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	h := http.Header{}
	h.Set("Cookie", "jwt_token="+m.current.Token)
	return h
}

type tokenClaims struct {
	userID    int64
	email     string
	expiresAt time.Time
}

// parseClaims extracts identity claims without signature verification;
// the server is the authority, the client only mirrors what it issued.
func parseClaims(token string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, fmt.Errorf("parse token: %w", err)
	}

	var out tokenClaims
	if v, ok := claims["user_id"].(float64); ok {
		out.userID = int64(v)
	}
	if v, ok := claims["email"].(string); ok {
		out.email = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiresAt = exp.Time
	}
	return out, nil
}
