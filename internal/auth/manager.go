package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expiryMargin is how close to expiry a token may get before we refresh it
// instead of handing it out.
const expiryMargin = 60 * time.Second

// Manager is the token lifecycle manager. It guarantees at most one refresh
// in flight (all concurrent callers share its result), never discards a
// refresh token on transient failure, and fires the session-invalidation
// callback exactly once per unrecoverable auth failure.
type Manager struct {
	cfg   OAuthConfig
	store Store
	hc    *http.Client
	log   *slog.Logger
	now   func() time.Time

	sf singleflight.Group

	// invalidated latches after credentials are destroyed so the callback
	// fires once per invalidation, not once per queued caller. A successful
	// save re-arms it.
	mu          sync.Mutex
	invalidated bool
	onInvalid   func()
}

// NewManager creates a Manager. onInvalid may be nil.
func NewManager(cfg OAuthConfig, store Store, hc *http.Client, log *slog.Logger, onInvalid func()) *Manager {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		hc:        hc,
		log:       log,
		now:       time.Now,
		onInvalid: onInvalid,
	}
}

// AccessToken returns a bearer token that is valid for at least another
// minute, refreshing first when necessary. It never performs a network call
// while the cached token is comfortably valid.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	state, err := m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if state == nil {
		return "", ErrNotLoggedIn
	}
	if state.Valid(m.now(), expiryMargin) {
		return state.AccessToken, nil
	}

	if err := m.ForceRefresh(ctx); err != nil {
		return "", err
	}
	state, err = m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials after refresh: %w", err)
	}
	if state == nil {
		return "", ErrNotLoggedIn
	}
	return state.AccessToken, nil
}

// ForceRefresh exchanges the stored refresh token for a new access token.
// Single-flight: concurrent callers all await the same exchange.
//
// Failure policy: network errors and token-endpoint 5xx leave the stored
// credentials untouched; the session survives an outage. Only a definitive
// rejection of the grant destroys credentials and notifies the session-
// invalidation callback.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	// The exchange runs detached from the initiating caller's context, so
	// one caller cancelling mid-refresh cannot fail every waiter sharing
	// the flight. The http.Client timeout still bounds the call.
	_, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	prev, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if prev == nil || prev.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", prev.RefreshToken)

	body, err := m.exchange(ctx, form)
	if err != nil {
		var rejected *grantRejected
		if errors.As(err, &rejected) {
			m.log.Warn("Refresh grant rejected, clearing credentials", "error", err)
			m.invalidate(ctx)
			return ErrReauthRequired
		}
		// Transient: DNS failure, connection reset, 5xx. Credentials stay.
		m.log.Warn("Token refresh failed transiently, keeping credentials", "error", err)
		return fmt.Errorf("token refresh failed: %w", err)
	}

	state := stateFromResponse(body, prev, m.now())
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}
	m.rearm()
	m.log.Info("Access token refreshed", "account_id", state.AccountID, "expires_at", state.ExpiresAt)
	return nil
}

// ExchangeCode redeems an authorization code for a fresh TokenState and
// persists it. Used by the login flow.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*TokenState, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	body, err := m.exchange(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}

	state := stateFromResponse(body, nil, m.now())
	if state.RefreshToken == "" {
		return nil, fmt.Errorf("authorization response missing refresh_token")
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}
	m.rearm()
	m.log.Info("Logged in", "account_id", state.AccountID, "expires_at", state.ExpiresAt)
	return state, nil
}

// Logout destroys stored credentials without firing the invalidation
// callback; the user asked for this one.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Clear(ctx)
}

func (m *Manager) invalidate(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("Failed to clear credentials", "error", err)
	}

	m.mu.Lock()
	fire := !m.invalidated
	m.invalidated = true
	cb := m.onInvalid
	m.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
}

func (m *Manager) rearm() {
	m.mu.Lock()
	m.invalidated = false
	m.mu.Unlock()
}
