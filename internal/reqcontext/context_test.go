package reqcontext

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

func TestNew_GeneratesUUIDWhenNoHeaderOrOverride(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	ctx, rc := New(t.Context(), r, "")
	defer rc.Cancel()

	assert.NotEmpty(t, rc.RequestID)
	assert.Same(t, rc, From(ctx))
}

func TestNew_PrefersExplicitOverHeaderOverGenerated(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	r.Header.Set("X-Request-ID", "from-header")
	_, rc := New(t.Context(), r, "explicit-id")
	defer rc.Cancel()

	assert.Equal(t, "explicit-id", rc.RequestID)
}

func TestNew_FallsBackToHeaderWhenNoExplicitID(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	r.Header.Set("X-Request-ID", "from-header")
	_, rc := New(t.Context(), r, "")
	defer rc.Cancel()

	assert.Equal(t, "from-header", rc.RequestID)
}

func TestFrom_ReturnsNilWithoutAmbientContext(t *testing.T) {
	assert.Nil(t, From(t.Context()))
}

func TestCancel_PropagatesToContext(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	ctx, rc := New(t.Context(), r, "")

	rc.Cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
}

func TestMetadata_MergeUsageAccumulatesAcrossCalls(t *testing.T) {
	m := &Metadata{}
	m.MergeUsage(format.Usage{PromptTokens: 10, CompletionTokens: 5, CacheReadTokens: 2})
	m.MergeUsage(format.Usage{PromptTokens: 3, CompletionTokens: 1, ReasoningTokens: 4})

	snap := m.Snapshot()
	assert.Equal(t, 13, snap.TokensInput)
	assert.Equal(t, 6, snap.TokensOutput)
	assert.Equal(t, 2, snap.CacheReadTokens)
	assert.Equal(t, 4, snap.ReasoningTokens)
}

func TestMetadata_IncrHookErrors(t *testing.T) {
	m := &Metadata{}
	m.IncrHookErrors()
	m.IncrHookErrors()
	require.Equal(t, 2, m.Snapshot().HookErrors)
}

func TestClientIP_PrefersForwardedForThenStripsPort(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	assert.Equal(t, "10.0.0.5", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
