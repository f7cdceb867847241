// Package router wires together the format translator (internal/translate),
// auth manager (internal/auth), provider adapter (internal/adapter), and
// streaming proxy (internal/streamproxy) behind the routing table spec.md
// §4.10 describes, the way the teacher's internal/server package wires the
// provider registry behind chi routes.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ccproxy-go/ccproxy/internal/adapter"
	"github.com/ccproxy-go/ccproxy/internal/auth"
	"github.com/ccproxy-go/ccproxy/internal/ccerr"
	"github.com/ccproxy-go/ccproxy/internal/format"
	"github.com/ccproxy-go/ccproxy/internal/hooks"
	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
	"github.com/ccproxy-go/ccproxy/internal/streamproxy"
	"github.com/ccproxy-go/ccproxy/internal/translate"
)

// Binding is the resolved (adapter, auth manager) pair a routeSpec's
// Provider name is looked up to, assembled once at startup by the caller
// (internal/cli's buildBindings) from config.Config.
type Binding struct {
	Adapter *adapter.Adapter
	Auth    auth.Manager
}

// routeSpec is one row of spec.md §4.10's routing table.
type routeSpec struct {
	prefix        string
	sourceFormat  format.Kind
	targetFormat  format.Kind
	passthrough   bool // byte-identical source/target, resolved from the request itself
	providerName  string
}

// Router is the gateway's HTTP entry point: an http.Handler built from the
// fixed routing table, dispatching each request through translate -> auth ->
// adapter -> streamproxy.
type Router struct {
	mux        chi.Router
	bus        *hooks.Bus
	proxy      *streamproxy.Proxy
	client     *http.Client
	bindings   map[string]*Binding
	authPolicy *auth.ServerPolicy
}

// New builds a Router. bindings maps provider names ("anthropic-api",
// "openai", "github-copilot", "claude-code-cli") to their resolved Binding.
func New(bus *hooks.Bus, client *http.Client, bindings map[string]*Binding, authPolicy *auth.ServerPolicy) *Router {
	rt := &Router{
		bus:        bus,
		proxy:      streamproxy.New(bus, streamproxy.DefaultQueueSize),
		client:     client,
		bindings:   bindings,
		authPolicy: authPolicy,
	}
	rt.mount()
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

var routeTable = []routeSpec{
	{prefix: "/v1/messages", sourceFormat: format.Anthropic, targetFormat: format.Anthropic, providerName: "anthropic-api"},
	{prefix: "/v1/chat/completions", sourceFormat: format.OpenAIChat, targetFormat: format.Anthropic, providerName: "anthropic-api"},
	{prefix: "/v1/responses", sourceFormat: format.OpenAIResponses, targetFormat: format.Anthropic, providerName: "anthropic-api"},
	{prefix: "/openai/v1/chat/completions", sourceFormat: format.OpenAIChat, targetFormat: format.OpenAIChat, providerName: "openai"},
	{prefix: "/claude/v1/*", sourceFormat: format.Anthropic, targetFormat: format.Anthropic, passthrough: true, providerName: "claude-code-cli"},
	{prefix: "/codex/*", sourceFormat: format.OpenAIChat, targetFormat: format.OpenAIChat, passthrough: true, providerName: "openai"},
	{prefix: "/copilot/v1/*", sourceFormat: format.OpenAIChat, targetFormat: format.OpenAIChat, passthrough: true, providerName: "github-copilot"},
	{prefix: "/unclaude/*", sourceFormat: format.Anthropic, targetFormat: format.Anthropic, passthrough: true, providerName: "anthropic-api"},
}

func (rt *Router) mount() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(rt.requestContextMiddleware)
	r.Use(rt.authMiddleware)

	r.Get("/health", rt.handleHealth)

	for _, spec := range routeTable {
		r.Post(spec.prefix, rt.handlerFor(spec))
	}

	rt.mux = r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requestContextMiddleware creates the ambient RequestContext (spec.md §4.6)
// for every request and echoes X-Request-ID on the response (spec.md §6).
func (rt *Router) requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rc := reqcontext.New(r.Context(), r, "")
		w.Header().Set("X-Request-ID", rc.RequestID)
		defer rc.Cancel()

		rt.bus.Emit(ctx, hooks.Context{
			Kind: hooks.HTTPRequest, Timestamp: time.Now(),
			Metadata: map[string]any{"request_id": rc.RequestID}, RC: rc,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware enforces the gateway's own static-bearer policy (spec.md
// §4.3 ServerPolicy), independent of the per-provider OAuth credential used
// on the upstream leg.
func (rt *Router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if rt.authPolicy != nil && !rt.authPolicy.Authenticate(r) {
			rt.authPolicy.Challenge(w)
			writeError(w, format.Anthropic, ccerr.Auth("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) handlerFor(spec routeSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := reqcontext.From(r.Context())
		binding, ok := rt.bindings[spec.providerName]
		if !ok {
			writeError(w, spec.sourceFormat, ccerr.Credentials(nil, "no credentials configured for provider %q", spec.providerName))
			return
		}
		if rc != nil {
			rc.SourceFormat = spec.sourceFormat
			rc.TargetFormat = spec.targetFormat
			rc.Provider = spec.providerName
		}

		rt.serve(w, r, spec, binding)
	}
}

func (rt *Router) serve(w http.ResponseWriter, r *http.Request, spec routeSpec, binding *Binding) {
	ctx := r.Context()
	rc := reqcontext.From(ctx)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, spec.sourceFormat, ccerr.Input("reading request body: %v", err))
		return
	}

	var targetBody []byte
	var neutral *format.Request
	if spec.passthrough {
		targetBody = rawBody
		neutral, err = translate.ParseRequest(spec.sourceFormat, rawBody)
	} else {
		targetBody, neutral, err = translate.TranslateRequest(spec.sourceFormat, spec.targetFormat, rawBody)
	}
	if err != nil {
		writeError(w, spec.sourceFormat, ccerr.Input("translating request: %v", err))
		return
	}

	binding.Adapter.ApplyBodyTransform(neutral)
	if !spec.passthrough {
		targetBody, err = translate.SerializeRequest(spec.targetFormat, neutral)
		if err != nil {
			writeError(w, spec.sourceFormat, ccerr.Translation("re-serializing adapted request: %v", err))
			return
		}
	}

	token, err := binding.Auth.GetAccessToken(ctx)
	if err != nil {
		writeError(w, spec.sourceFormat, ccerr.Credentials(err, "resolving provider credential"))
		return
	}

	upstreamPath := binding.Adapter.TransformPath(r.URL.Path)
	upstreamURL := binding.Adapter.BaseURL + upstreamPath

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(targetBody))
	if err != nil {
		writeError(w, spec.sourceFormat, ccerr.Translation("building upstream request: %v", err))
		return
	}
	binding.Adapter.ApplyHeaders(upstreamReq, token)

	upstreamResp, err := rt.client.Do(upstreamReq)
	if err != nil {
		writeError(w, spec.sourceFormat, ccerr.UpstreamTimeout(err))
		return
	}

	if upstreamResp.StatusCode >= 400 {
		defer upstreamResp.Body.Close()
		body, _ := io.ReadAll(upstreamResp.Body)
		writeError(w, spec.sourceFormat, ccerr.UpstreamHTTP(upstreamResp.StatusCode, fmt.Errorf("%s", body)))
		return
	}

	if !neutral.Stream {
		defer upstreamResp.Body.Close()
		respBody, err := io.ReadAll(upstreamResp.Body)
		if err != nil {
			writeError(w, spec.sourceFormat, ccerr.UpstreamTimeout(err))
			return
		}

		var outBody []byte
		if spec.passthrough {
			outBody = respBody
		} else {
			outBody, err = translate.TranslateResponse(spec.targetFormat, spec.sourceFormat, respBody)
			if err != nil {
				writeError(w, spec.sourceFormat, ccerr.Translation("translating response: %v", err))
				return
			}
		}

		if neutralResp, err := translate.ParseResponse(spec.targetFormat, respBody); err == nil {
			adapter.ExtractUsage(rc, neutralResp.Model, neutralResp.Usage)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(outBody)
		rt.bus.Emit(ctx, hooks.Context{Kind: hooks.RequestCompleted, Timestamp: time.Now(), RC: rc})
		return
	}

	writeTarget := spec.sourceFormat
	if spec.passthrough {
		writeTarget = spec.targetFormat
	}
	if err := rt.proxy.Pipe(ctx, rc, spec.targetFormat, writeTarget, upstreamResp.Body, w); err != nil {
		log.Printf("router: stream pipe error for %s: %v", r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, sourceFormat format.Kind, err error) {
	status := http.StatusInternalServerError
	kind := ccerr.KindTranslation
	if ce, ok := err.(*ccerr.Error); ok {
		status = ce.HTTPStatus()
		kind = ce.Kind
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if sourceFormat == format.Anthropic {
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]string{
				"type":    anthropicErrorType(kind),
				"message": err.Error(),
			},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    openAIErrorType(kind),
			"code":    string(kind),
		},
	})
}

// anthropicErrorType maps the gateway's error taxonomy onto Anthropic's
// error envelope type (spec.md §7).
func anthropicErrorType(kind ccerr.Kind) string {
	switch kind {
	case ccerr.KindInput:
		return "invalid_request_error"
	case ccerr.KindAuth:
		return "authentication_error"
	case ccerr.KindCredentials:
		return "permission_error"
	case ccerr.KindUpstreamTimeout:
		return "timeout_error"
	case ccerr.KindUpstreamHTTP:
		return "api_error"
	default:
		return "api_error"
	}
}

// openAIErrorType maps the gateway's error taxonomy onto OpenAI's error
// envelope type (spec.md §7).
func openAIErrorType(kind ccerr.Kind) string {
	switch kind {
	case ccerr.KindInput:
		return "invalid_request_error"
	case ccerr.KindAuth:
		return "authentication_error"
	case ccerr.KindCredentials:
		return "permission_error"
	case ccerr.KindUpstreamTimeout:
		return "timeout_error"
	case ccerr.KindUpstreamHTTP:
		return "api_error"
	default:
		return "api_error"
	}
}
