// Package oauth implements the PKCE login flow and refresh-token exchange
// for OAuth-based providers (Claude, GitHub Copilot) — spec.md §4.2 / C2.
//
// Refresh requests are de-duplicated per provider with
// golang.org/x/sync/singleflight so concurrent requests racing an expired
// token share one upstream exchange (spec.md §4.2, scenario 4 in §8), the
// same role the teacher's http.Client connection pool plays for transport
// reuse.
package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ccproxy-go/ccproxy/internal/ccerr"
	"github.com/ccproxy-go/ccproxy/internal/credentials"
)

// ProviderSpec is the static OAuth configuration for one provider
// (spec.md §6 "OAuth endpoints").
type ProviderSpec struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	Scopes       []string
	RedirectPort int    // loopback listener port, default 54545
	BetaHeader   string // e.g. "oauth-2025-04-20", sent on token exchange
	UserAgent    string // masquerades as the provider's official CLI
}

// DefaultClaudeSpec is the Claude provider's OAuth configuration
// (spec.md §6).
var DefaultClaudeSpec = ProviderSpec{
	AuthorizeURL: "https://claude.ai/oauth/authorize",
	TokenURL:     "https://console.anthropic.com/v1/oauth/token",
	ClientID:     "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
	Scopes:       []string{"org:create_api_key", "user:profile", "user:inference"},
	RedirectPort: 54545,
	BetaHeader:   "oauth-2025-04-20",
	UserAgent:    "claude-cli/1.0.0 (external, cli)",
}

const (
	refreshBuffer   = 300 * time.Second
	loginTimeout    = 300 * time.Second
	maxRefreshTries = 3
)

var refreshBackoff = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

// Engine drives login and refresh for one provider, backed by a
// credentials.Store for persistence.
type Engine struct {
	spec   ProviderSpec
	store  *credentials.Store
	client *http.Client

	// sf collapses concurrent refreshes for this provider into one
	// in-flight exchange (spec.md §4.2 "Refresh is serialized per-provider
	// by a mutex so concurrent requests share one network exchange").
	sf singleflight.Group

	now func() time.Time
}

// NewEngine builds an Engine for spec, persisting through store.
func NewEngine(spec ProviderSpec, store *credentials.Store, client *http.Client) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{spec: spec, store: store, client: client, now: time.Now}
}

// tokenResponse is the token endpoint's JSON body, shared by the
// authorization-code exchange and the refresh exchange.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	SubscriptionTier string `json:"subscription_tier"`
	TokenType        string `json:"token_type"`
}

// GetValidToken returns a non-expired access token for the provider,
// refreshing it first if necessary (spec.md §4.2 get_valid_token).
func (e *Engine) GetValidToken(ctx context.Context) (string, error) {
	cred, err := e.store.Load()
	if err != nil {
		return "", ccerr.Credentials(err, "loading stored credential")
	}
	if cred == nil {
		return "", ccerr.Credentials(nil, "no stored credential for provider")
	}

	if cred.HasExpiry() && e.now().Add(refreshBuffer).After(cred.ExpiresAt) {
		refreshed, err := e.Refresh(ctx, cred)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}
	return cred.AccessToken, nil
}

// Refresh exchanges cred's refresh token for a new access token, retrying
// transport/5xx errors with exponential backoff, and persists the result
// (preserving SubscriptionTier if the response omits it). Concurrent callers
// for the same Engine share one upstream exchange.
func (e *Engine) Refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	v, err, _ := e.sf.Do(string(e.spec.ClientID), func() (any, error) {
		return e.doRefresh(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	return v.(*credentials.Credential), nil
}

func (e *Engine) doRefresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
		"client_id":     e.spec.ClientID,
	})

	var lastErr error
	for attempt := 0; attempt < maxRefreshTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(refreshBackoff[attempt-1]):
			}
		}

		tok, status, err := e.exchange(ctx, body)
		if err != nil {
			lastErr = err
			continue // transport error: retry
		}
		if status >= 500 {
			lastErr = fmt.Errorf("oauth refresh: upstream status %d", status)
			continue
		}
		if status >= 400 {
			return nil, &OAuthTokenRefreshError{Status: status}
		}

		next := &credentials.Credential{
			Provider:         cred.Provider,
			AccessToken:      tok.AccessToken,
			RefreshToken:     firstNonEmpty(tok.RefreshToken, cred.RefreshToken),
			SubscriptionTier: firstNonEmpty(tok.SubscriptionTier, cred.SubscriptionTier),
			Scopes:           cred.Scopes,
			TokenType:        firstNonEmpty(tok.TokenType, "Bearer"),
		}
		if tok.ExpiresIn > 0 {
			next.ExpiresAt = e.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		}

		if err := e.store.Save(next); err != nil {
			return nil, ccerr.Credentials(err, "persisting refreshed credential")
		}
		return next, nil
	}

	return nil, &OAuthTokenRefreshError{Cause: lastErr}
}

func (e *Engine) exchange(ctx context.Context, body []byte) (*tokenResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.spec.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.spec.BetaHeader != "" {
		req.Header.Set("anthropic-beta", e.spec.BetaHeader)
	}
	if e.spec.UserAgent != "" {
		req.Header.Set("User-Agent", e.spec.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, resp.StatusCode, err
	}
	return &tok, resp.StatusCode, nil
}

// OAuthTokenRefreshError is spec.md §4.2's OAuthTokenRefresh failure,
// raised on a 4xx from the token endpoint or after exhausting retries.
type OAuthTokenRefreshError struct {
	Status int
	Cause  error
}

func (e *OAuthTokenRefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oauth token refresh failed: status %d", e.Status)
	}
	return fmt.Sprintf("oauth token refresh failed: %v", e.Cause)
}
func (e *OAuthTokenRefreshError) Unwrap() error { return e.Cause }

// OAuthLoginError is spec.md §4.2's OAuthLogin failure (timeout or cancel).
type OAuthLoginError struct{ Cause error }

func (e *OAuthLoginError) Error() string { return fmt.Sprintf("oauth login failed: %v", e.Cause) }
func (e *OAuthLoginError) Unwrap() error { return e.Cause }

// ErrStateMismatch is returned when the loopback callback's state parameter
// doesn't match what Login generated — the exchange is aborted without ever
// contacting the token endpoint (spec.md §4.2 step 3, §8 invariant).
var ErrStateMismatch = errors.New("oauth: state mismatch")

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// pkcePair is a generated PKCE state/verifier pair (spec.md §4.2 step 1). The
// S256 challenge itself is derived from Verifier by oauth2.S256ChallengeOption
// at authorize-URL build time, not stored here.
type pkcePair struct {
	State    string
	Verifier string
}

func newPKCEPair() (*pkcePair, error) {
	state, err := randomURLSafe(32)
	if err != nil {
		return nil, err
	}
	return &pkcePair{State: state, Verifier: oauth2.GenerateVerifier()}, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
