package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/credentials"
)

func testStore(t *testing.T, cred *credentials.Credential) *credentials.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := credentials.NewStore(credentials.ProviderAnthropic, path)
	if cred != nil {
		require.NoError(t, store.Save(cred))
	}
	return store
}

func TestGetValidToken_ReturnsStoredTokenWhenNotExpiring(t *testing.T) {
	store := testStore(t, &credentials.Credential{
		Provider:    credentials.ProviderAnthropic,
		AccessToken: "still-fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	e := NewEngine(DefaultClaudeSpec, store, nil)

	tok, err := e.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-fresh", tok)
}

func TestGetValidToken_RefreshesWhenNearExpiry(t *testing.T) {
	var exchangeCount int32

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&exchangeCount, 1)
		assert.Equal(t, "oauth-2025-04-20", r.Header.Get("anthropic-beta"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "refreshed-token",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer upstream.Close()

	store := testStore(t, &credentials.Credential{
		Provider:     credentials.ProviderAnthropic,
		AccessToken:  "about-to-expire",
		RefreshToken: "refresh-me",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	})
	spec := DefaultClaudeSpec
	spec.TokenURL = upstream.URL
	e := NewEngine(spec, store, upstream.Client())

	tok, err := e.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchangeCount))

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", persisted.AccessToken)
	assert.Equal(t, "new-refresh", persisted.RefreshToken)
}

func TestRefresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	var exchangeCount int32
	release := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&exchangeCount, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "shared-token", "expires_in": 3600})
	}))
	defer upstream.Close()

	store := testStore(t, nil)
	spec := DefaultClaudeSpec
	spec.TokenURL = upstream.URL
	e := NewEngine(spec, store, upstream.Client())

	cred := &credentials.Credential{Provider: credentials.ProviderAnthropic, RefreshToken: "rt"}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.Refresh(context.Background(), cred)
			results <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchangeCount))
}

func TestRefresh_RetriesOn5xxThenFails(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	store := testStore(t, nil)
	spec := DefaultClaudeSpec
	spec.TokenURL = upstream.URL
	e := NewEngine(spec, store, upstream.Client())
	e.now = func() time.Time { return time.Now() }

	cred := &credentials.Credential{Provider: credentials.ProviderAnthropic, RefreshToken: "rt"}

	start := time.Now()
	_, err := e.Refresh(context.Background(), cred)
	elapsed := time.Since(start)

	require.Error(t, err)
	var refreshErr *OAuthTokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.GreaterOrEqual(t, elapsed, 1500*time.Millisecond) // two backoff waits: 0.5s + 1s
}

func TestRefresh_4xxFailsWithoutRetry(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	store := testStore(t, nil)
	spec := DefaultClaudeSpec
	spec.TokenURL = upstream.URL
	e := NewEngine(spec, store, upstream.Client())

	cred := &credentials.Credential{Provider: credentials.ProviderAnthropic, RefreshToken: "rt"}
	_, err := e.Refresh(context.Background(), cred)

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetValidToken_NoStoredCredential(t *testing.T) {
	store := testStore(t, nil)
	e := NewEngine(DefaultClaudeSpec, store, nil)

	_, err := e.GetValidToken(context.Background())
	assert.Error(t, err)
}
