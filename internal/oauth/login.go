package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ccproxy-go/ccproxy/internal/credentials"
)

// OpenBrowser is swapped out in tests; in production it shells out to the
// OS's "open the user's default browser at this URL" command.
type OpenBrowser func(authorizeURL string) error

// Login runs the interactive PKCE flow (spec.md §4.2 steps 1-6): start a
// loopback listener, open the authorize URL, wait for the callback, validate
// state strictly, exchange the code, and persist the credential.
func (e *Engine) Login(ctx context.Context, openBrowser OpenBrowser) (*credentials.Credential, error) {
	pair, err := newPKCEPair()
	if err != nil {
		return nil, &OAuthLoginError{Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	redirectURI := fmt.Sprintf("http://localhost:%d/callback", e.spec.RedirectPort)

	type callbackResult struct {
		code string
		err  error
	}
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != pair.State {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "state mismatch")
			resultCh <- callbackResult{err: ErrStateMismatch}
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			w.WriteHeader(http.StatusBadRequest)
			resultCh <- callbackResult{err: fmt.Errorf("oauth authorize error: %s", errMsg)}
			return
		}
		code := q.Get("code")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Login complete, you may close this window.</body></html>")
		resultCh <- callbackResult{code: code}
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", e.spec.RedirectPort))
	if err != nil {
		return nil, &OAuthLoginError{Cause: fmt.Errorf("starting loopback listener: %w", err)}
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Close() // torn down on every exit path, per spec.md §4.2 step 6

	authorizeURL := e.buildAuthorizeURL(pair, redirectURI)
	if openBrowser != nil {
		if err := openBrowser(authorizeURL); err != nil {
			return nil, &OAuthLoginError{Cause: fmt.Errorf("opening browser: %w", err)}
		}
	}

	var result callbackResult
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		return nil, &OAuthLoginError{Cause: ctx.Err()}
	}
	if result.err != nil {
		return nil, &OAuthLoginError{Cause: result.err}
	}

	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          result.code,
		"redirect_uri":  redirectURI,
		"client_id":     e.spec.ClientID,
		"code_verifier": pair.Verifier,
		"state":         pair.State,
	}
	tok, status, err := e.exchangeCode(ctx, body)
	if err != nil {
		return nil, &OAuthLoginError{Cause: err}
	}
	if status >= 400 {
		return nil, &OAuthLoginError{Cause: fmt.Errorf("token exchange failed: status %d", status)}
	}

	cred := &credentials.Credential{
		Provider:         providerFromSpec(e.spec),
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		Scopes:           e.spec.Scopes,
		SubscriptionTier: tok.SubscriptionTier,
		TokenType:        firstNonEmpty(tok.TokenType, "Bearer"),
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = e.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	if err := e.store.Save(cred); err != nil {
		return nil, &OAuthLoginError{Cause: err}
	}
	return cred, nil
}

// buildAuthorizeURL constructs the authorize-code URL with an S256 PKCE
// challenge derived from pair.Verifier, via golang.org/x/oauth2's Config
// helpers (the token exchange itself stays hand-rolled in Engine.exchange:
// Claude's token endpoint takes a JSON body with custom headers, not the
// form-encoded grant oauth2.Config.Exchange expects).
func (e *Engine) buildAuthorizeURL(pair *pkcePair, redirectURI string) string {
	cfg := oauth2.Config{
		ClientID:    e.spec.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: e.spec.AuthorizeURL},
		RedirectURL: redirectURI,
		Scopes:      e.spec.Scopes,
	}
	return cfg.AuthCodeURL(pair.State, oauth2.S256ChallengeOption(pair.Verifier))
}

// exchangeCode is Refresh's authorization-code sibling: same endpoint,
// different grant_type body, so it shares Engine.exchange's HTTP plumbing.
func (e *Engine) exchangeCode(ctx context.Context, body map[string]string) (*tokenResponse, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	return e.exchange(ctx, raw)
}

func providerFromSpec(spec ProviderSpec) credentials.Provider {
	if spec.TokenURL == DefaultClaudeSpec.TokenURL {
		return credentials.ProviderAnthropic
	}
	return credentials.ProviderCopilot
}
