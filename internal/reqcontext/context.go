// Package reqcontext implements the per-request ambient state (spec.md §4.6
// / C6): RequestContext is created at the earliest middleware layer and
// looked up by every downstream component through context.Context, rather
// than being threaded explicitly through every function signature — the
// "per-task context store" option spec.md §9 calls out as the systems-
// language realization of the source's implicit per-request state.
package reqcontext

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// Metadata holds the mutable, adapter-written fields of a RequestContext
// (spec.md §3): token/cost accounting plus the resolved model name.
type Metadata struct {
	mu sync.Mutex

	TokensInput      int
	TokensOutput     int
	CacheReadTokens  int
	CacheWriteTokens int
	ReasoningTokens  int
	CostUSD          float64
	Model            string

	// HookErrors counts swallowed hook-subscriber errors (spec.md §9 open
	// question (i): "a structured counter in RequestContext is
	// recommended" instead of silently hiding the failures entirely).
	HookErrors int
}

// MergeUsage folds a normalized format.Usage into the metadata, used by
// provider adapters on each complete response or stream end (spec.md §4.8
// "Usage extraction"). Safe for concurrent use since the streaming proxy's
// read and hook-emission tasks may both touch usage bookkeeping.
func (m *Metadata) MergeUsage(u format.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensInput += u.PromptTokens
	m.TokensOutput += u.CompletionTokens
	m.CacheReadTokens += u.CacheReadTokens
	m.CacheWriteTokens += u.CacheWriteTokens
	m.ReasoningTokens += u.ReasoningTokens
}

// IncrHookErrors bumps the swallowed-hook-error counter.
func (m *Metadata) IncrHookErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HookErrors++
}

// Snapshot returns a copy of the current metadata values, safe to read
// without holding the lock further (used when emitting REQUEST_COMPLETED).
func (m *Metadata) Snapshot() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metadata{
		TokensInput:      m.TokensInput,
		TokensOutput:     m.TokensOutput,
		CacheReadTokens:  m.CacheReadTokens,
		CacheWriteTokens: m.CacheWriteTokens,
		ReasoningTokens:  m.ReasoningTokens,
		CostUSD:          m.CostUSD,
		Model:            m.Model,
		HookErrors:       m.HookErrors,
	}
}

// RequestContext is the per-request record described in spec.md §3.
type RequestContext struct {
	RequestID    string
	ReceivedAt   time.Time
	Method       string
	Path         string
	ClientIP     string
	UserAgent    string
	SourceFormat format.Kind
	TargetFormat format.Kind
	Provider     string

	Metadata *Metadata

	cancel context.CancelFunc
}

// Cancel propagates cancellation to the upstream call (spec.md §3 "cancel
// (cancellation token propagated to upstream call)").
func (rc *RequestContext) Cancel() {
	if rc.cancel != nil {
		rc.cancel()
	}
}

// Duration returns the elapsed time since ReceivedAt.
func (rc *RequestContext) Duration() time.Duration {
	return time.Since(rc.ReceivedAt)
}

type ctxKey struct{}

// New creates a RequestContext for an inbound HTTP request and returns a
// context.Context carrying it, plus the request-scoped cancel function the
// caller must invoke (directly or via context cancellation) when the
// request finishes. request_id is the first present of an explicit
// override, the X-Request-ID header, or a freshly generated UUIDv4
// (spec.md §4.6).
func New(parent context.Context, r *http.Request, explicitRequestID string) (context.Context, *RequestContext) {
	ctx, cancel := context.WithCancel(parent)

	id := explicitRequestID
	if id == "" {
		id = r.Header.Get("X-Request-ID")
	}
	if id == "" {
		id = uuid.NewString()
	}

	rc := &RequestContext{
		RequestID:  id,
		ReceivedAt: time.Now(),
		Method:     r.Method,
		Path:       r.URL.Path,
		ClientIP:   clientIP(r),
		UserAgent:  r.UserAgent(),
		Metadata:   &Metadata{},
		cancel:     cancel,
	}

	return context.WithValue(ctx, ctxKey{}, rc), rc
}

// From looks up the ambient RequestContext, or nil if ctx doesn't carry one
// (e.g. in a unit test that never called New).
func From(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
