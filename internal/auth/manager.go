// Package auth unifies bearer-token and OAuth credentials behind one
// capability set (spec.md §4.3 / C3) and enforces the server's incoming
// Bearer-token policy. It follows spec.md §9's guidance to model this as a
// small closed tagged union rather than a deep interface hierarchy — the
// same flat-interface style the teacher uses for provider.Provider.
package auth

import (
	"context"
	"net/http"

	"github.com/ccproxy-go/ccproxy/internal/credentials"
)

// UserProfile is fetched on demand from the provider and never persisted
// (spec.md §3).
type UserProfile struct {
	OrgUUID      string
	OrgName      string
	OrgType      string
	AccountUUID  string
	Email        string
	DisplayName  string
	TierFlags    []string
}

// Manager is the capability set every auth variant implements
// (spec.md §4.3).
type Manager interface {
	GetAccessToken(ctx context.Context) (string, error)
	IsAuthenticated(ctx context.Context) bool
	GetUserProfile(ctx context.Context) (*UserProfile, error)
	ProviderName() string
}

// refresher is the subset of oauth.Engine that OAuthAuth depends on, kept
// narrow so this package doesn't import internal/oauth (which
// would create an import cycle once the adapter layer wires both together).
type refresher interface {
	GetValidToken(ctx context.Context) (string, error)
}

// profileFetcher optionally fetches a UserProfile; OAuthAuth implementations
// that support it satisfy this too.
type profileFetcher interface {
	FetchUserProfile(ctx context.Context, accessToken string) (*UserProfile, error)
}

// BearerAuth is a static, never-expiring token — spec.md §4.3's
// BearerTokenAuth variant. Used both to authenticate the *incoming* client
// connection and, in principle, as an upstream auth mode for providers that
// take a plain API key (Anthropic direct, OpenAI direct).
type BearerAuth struct {
	Token    string
	Provider string
}

func (b *BearerAuth) GetAccessToken(ctx context.Context) (string, error) { return b.Token, nil }
func (b *BearerAuth) IsAuthenticated(ctx context.Context) bool           { return b.Token != "" }
func (b *BearerAuth) GetUserProfile(ctx context.Context) (*UserProfile, error) {
	return nil, nil
}
func (b *BearerAuth) ProviderName() string { return b.Provider }

// OAuthAuth delegates to an oauth.Engine for a specific provider —
// spec.md §4.3's OAuth variant.
type OAuthAuth struct {
	Provider string
	Engine   refresher
	Profiles profileFetcher // optional
}

func (o *OAuthAuth) GetAccessToken(ctx context.Context) (string, error) {
	return o.Engine.GetValidToken(ctx)
}

func (o *OAuthAuth) IsAuthenticated(ctx context.Context) bool {
	_, err := o.Engine.GetValidToken(ctx)
	return err == nil
}

func (o *OAuthAuth) GetUserProfile(ctx context.Context) (*UserProfile, error) {
	if o.Profiles == nil {
		return nil, nil
	}
	tok, err := o.Engine.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return o.Profiles.FetchUserProfile(ctx, tok)
}

func (o *OAuthAuth) ProviderName() string { return o.Provider }

var _ Manager = (*BearerAuth)(nil)
var _ Manager = (*OAuthAuth)(nil)

// ServerPolicy enforces spec.md §4.3's incoming-request Bearer check: if
// StaticToken is non-empty, a request without a matching "Authorization:
// Bearer <token>" header is rejected with 401 + WWW-Authenticate: Bearer.
// If StaticToken is empty, every request is accepted (local-use mode).
type ServerPolicy struct {
	StaticToken string
}

// Authenticate reports whether r carries the configured static token (or,
// in local-use mode, always true).
func (p *ServerPolicy) Authenticate(r *http.Request) bool {
	if p.StaticToken == "" {
		return true
	}
	return bearerToken(r) == p.StaticToken
}

// Challenge writes the 401 + WWW-Authenticate response spec.md §4.3/§8
// scenario 6 requires.
func (p *ServerPolicy) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

// credentialProvider lets callers swap credentials.Store based lookups
// without this package depending on oauth's concrete Engine type.
type credentialProvider interface {
	Load() (*credentials.Credential, error)
}

var _ credentialProvider = (*credentials.Store)(nil)
