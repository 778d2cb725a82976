// Package auth owns the OAuth2 token lifecycle: caching, single-flight
// refresh, and the decision of when stored credentials must be destroyed.
package auth

import (
	"context"
	"errors"
	"time"
)

// TokenState is the persisted OAuth2 session. Absence of a TokenState means
// "logged out".
type TokenState struct {
	AccessToken  string    `json:"access_token" db:"access_token"`
	RefreshToken string    `json:"refresh_token" db:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	AccountID    string    `json:"account_id" db:"account_id"`
}

// Valid reports whether the access token is still safely usable: more than
// margin away from expiry.
func (t *TokenState) Valid(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && t.ExpiresAt.After(now.Add(margin))
}

// Store persists TokenState. Load returns (nil, nil) when no credentials
// are stored. Implementations live in the credstore package.
type Store interface {
	Load(ctx context.Context) (*TokenState, error)
	Save(ctx context.Context, state *TokenState) error
	Clear(ctx context.Context) error
}

// ErrNotLoggedIn is returned when an operation needs credentials and the
// store has none.
var ErrNotLoggedIn = errors.New("auth: not logged in")

// ErrReauthRequired is returned when the refresh grant itself was rejected;
// stored credentials have been cleared and the user must sign in again.
var ErrReauthRequired = errors.New("auth: re-authentication required")
