package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuthConfig holds the client registration for the platform's OAuth2
// endpoints.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// tokenResponse is the wire shape of both the authorization-code and the
// refresh-token exchange. refresh_token is optional on refresh; a missing
// value means "keep using the one you have".
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	MembershipID string `json:"membership_id"`

	ErrorType        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// grantRejected marks a definitive rejection of the grant itself, as
// opposed to a transient failure reaching the token endpoint.
type grantRejected struct {
	status int
	body   tokenResponse
}

func (e *grantRejected) Error() string {
	if e.body.ErrorType != "" {
		return fmt.Sprintf("auth: grant rejected (%s: %s)", e.body.ErrorType, e.body.ErrorDescription)
	}
	return fmt.Sprintf("auth: grant rejected (HTTP %d)", e.status)
}

// exchange performs one form-encoded POST against the token endpoint.
//
// Error contract, relied on by the Manager's credential-destruction policy:
//   - network-level failure → plain wrapped error (transient, keep creds)
//   - HTTP 5xx → plain error (transient, keep creds)
//   - HTTP 401/403 or an invalid/revoked-grant error body → *grantRejected
func (m *Manager) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", m.cfg.ClientID)
	if m.cfg.ClientSecret != "" {
		form.Set("client_secret", m.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("token endpoint error (HTTP %d)", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.Unmarshal(data, &body); err != nil {
		if resp.StatusCode == http.StatusOK {
			return nil, fmt.Errorf("malformed token response: %w", err)
		}
		body = tokenResponse{}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &grantRejected{status: resp.StatusCode, body: body}
	}
	if body.ErrorType != "" {
		if invalidGrantErrors[body.ErrorType] {
			return nil, &grantRejected{status: resp.StatusCode, body: body}
		}
		return nil, fmt.Errorf("token endpoint rejected request (%s: %s)", body.ErrorType, body.ErrorDescription)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint error (HTTP %d)", resp.StatusCode)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &body, nil
}

// invalidGrantErrors are OAuth2 error codes meaning the grant is dead, not
// merely delayed.
var invalidGrantErrors = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
	"access_denied":       true,
}

// stateFromResponse builds the new TokenState, retaining prev's refresh
// token when the server omitted one.
func stateFromResponse(body *tokenResponse, prev *TokenState, now time.Time) *TokenState {
	state := &TokenState{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(body.ExpiresIn) * time.Second),
		AccountID:    body.MembershipID,
	}
	if state.RefreshToken == "" && prev != nil {
		state.RefreshToken = prev.RefreshToken
	}
	if state.AccountID == "" && prev != nil {
		state.AccountID = prev.AccountID
	}
	return state
}
