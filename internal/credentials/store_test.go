package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, provider Provider, explicit string) *Store {
	t.Helper()
	home := t.TempDir()
	return &Store{
		provider:     provider,
		explicitPath: explicit,
		homeDir:      func() (string, error) { return home, nil },
		configHome:   func() string { return "" },
	}
}

func TestStore_LoadMissingFileReturnsNilNil(t *testing.T) {
	s := newTestStore(t, ProviderAnthropic, "")
	cred, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestStore_SaveThenLoadClaudeShape(t *testing.T) {
	s := newTestStore(t, ProviderAnthropic, "")

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	cred := &Credential{
		Provider:         ProviderAnthropic,
		AccessToken:      "at-123",
		RefreshToken:     "rt-456",
		ExpiresAt:        expires,
		Scopes:           []string{"user:inference", "user:profile"},
		SubscriptionTier: "max",
		TokenType:        "Bearer",
	}

	require.NoError(t, s.Save(cred))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cred.AccessToken, loaded.AccessToken)
	assert.Equal(t, cred.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, cred.SubscriptionTier, loaded.SubscriptionTier)
	assert.Equal(t, cred.Scopes, loaded.Scopes)
	assert.WithinDuration(t, expires, loaded.ExpiresAt, time.Millisecond)

	// File mode should be 0600 per spec.md §4.1.
	path := s.Find()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_LoadToleratesSnakeAndCamelCase(t *testing.T) {
	s := newTestStore(t, ProviderCopilot, "")
	path := filepath.Join(t.TempDir(), "credentials.json")
	s.explicitPath = path

	raw := `{"accessToken":"at-1","refresh_token":"rt-1","expiresAt":` +
		"1751896667201" + `,"scopes":["user:inference"],"subscription_tier":"pro"}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cred, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "pro", cred.SubscriptionTier)
	assert.True(t, cred.HasExpiry())
}

func TestStore_LoadInvalidJSON(t *testing.T) {
	s := newTestStore(t, ProviderAnthropic, "")
	path := filepath.Join(t.TempDir(), "credentials.json")
	s.explicitPath = path
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := s.Load()
	require.Error(t, err)
	var invalid *ErrInvalid
	assert.ErrorAs(t, err, &invalid)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t, ProviderAnthropic, "")
	require.NoError(t, s.Save(&Credential{Provider: ProviderAnthropic, AccessToken: "x"}))
	require.NotEmpty(t, s.Find())

	require.NoError(t, s.Delete())
	assert.Empty(t, s.Find())

	// Deleting again (no file) is not an error.
	require.NoError(t, s.Delete())
}

func TestStore_ExplicitPathWinsOverHomeDir(t *testing.T) {
	home := t.TempDir()
	explicitDir := t.TempDir()
	explicitPath := filepath.Join(explicitDir, "credentials.json")

	s := &Store{
		provider:     ProviderAnthropic,
		explicitPath: explicitPath,
		homeDir:      func() (string, error) { return home, nil },
		configHome:   func() string { return "" },
	}

	// Write a different credential into the ~/.config fallback location to
	// prove the explicit path is still preferred.
	fallback := filepath.Join(home, ".config", "anthropic", "credentials.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(fallback), 0700))
	require.NoError(t, os.WriteFile(fallback, []byte(`{"claudeAiOauth":{"accessToken":"wrong"}}`), 0600))

	require.NoError(t, s.Save(&Credential{Provider: ProviderAnthropic, AccessToken: "right"}))

	cred, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "right", cred.AccessToken)
}
