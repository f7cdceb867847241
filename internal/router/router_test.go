package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/adapter"
	"github.com/ccproxy-go/ccproxy/internal/auth"
	"github.com/ccproxy-go/ccproxy/internal/hooks"
)

func newTestRouter(t *testing.T, upstream *httptest.Server) *Router {
	t.Helper()
	bus := hooks.NewBus()
	a := adapter.AnthropicAPI(upstream.URL)
	bindings := map[string]*Binding{
		"anthropic-api": {Adapter: a, Auth: &auth.BearerAuth{Token: "test-token", Provider: "anthropic-api"}},
	}
	return New(bus, upstream.Client(), bindings, &auth.ServerPolicy{})
}

func TestRouter_NonStreamChatCompletionsTranslatesToAnthropicAndBack(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["system"], "Claude Code")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-latest",
			"content":     []map[string]any{{"type": "text", "text": "hi there"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 2},
		})
	}))
	defer upstream.Close()

	rt := newTestRouter(t, upstream)

	reqBody, _ := json.Marshal(map[string]any{
		"model": "gpt-4o", "messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	rt.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	choices := resp["choices"].([]any)
	require.Len(t, choices, 1)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "hi there", message["content"])
}

func TestRouter_UnknownProviderReturns503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be called")
	}))
	defer upstream.Close()

	bus := hooks.NewBus()
	rt := New(bus, upstream.Client(), map[string]*Binding{}, &auth.ServerPolicy{})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_AuthPolicyRejectsMissingBearer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be called")
	}))
	defer upstream.Close()

	bus := hooks.NewBus()
	a := adapter.AnthropicAPI(upstream.URL)
	bindings := map[string]*Binding{"anthropic-api": {Adapter: a, Auth: &auth.BearerAuth{Token: "t"}}}
	rt := New(bus, upstream.Client(), bindings, &auth.ServerPolicy{StaticToken: "expected-token"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestRouter_HealthEndpointBypassesAuth(t *testing.T) {
	bus := hooks.NewBus()
	rt := New(bus, http.DefaultClient, map[string]*Binding{}, &auth.ServerPolicy{StaticToken: "expected-token"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
