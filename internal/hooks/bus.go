// Package hooks implements the typed event bus (spec.md §4.7 / C7): a
// best-effort side channel that fans events out to subscribers without ever
// affecting the data plane's latency or outcome. Subscriber panics/errors
// are caught, logged, and counted — never propagated.
package hooks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
)

// Kind is one of spec.md §3/§4.7's five event kinds.
type Kind string

const (
	HTTPRequest      Kind = "HTTP_REQUEST"
	HTTPResponse     Kind = "HTTP_RESPONSE"
	HTTPError        Kind = "HTTP_ERROR"
	RequestCompleted Kind = "REQUEST_COMPLETED"
	RequestFailed    Kind = "REQUEST_FAILED"
)

// Priority orders subscribers within a Kind (lower runs first). This reuses
// spec.md §3's plugin middleware priority bands since both describe "how
// early does this layer see the event."
type Priority int

const (
	PrioritySecurity     Priority = 100
	PriorityObservability Priority = 200
	PriorityRouting      Priority = 300
	PriorityApplication  Priority = 400
)

// Context is the payload delivered to subscribers (spec.md §3 HookContext).
type Context struct {
	Kind      Kind
	Timestamp time.Time
	Data      map[string]any
	Metadata  map[string]any // always includes "request_id"
	RC        *reqcontext.RequestContext
}

// Subscriber reacts to one event. Subscribers must not block the data plane
// for more than the per-chunk deadline (spec.md §5); the Bus enforces that
// with a context deadline, not the subscriber itself.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, hc Context) error
}

type registration struct {
	priority   Priority
	order      int // registration order within a (kind, priority) band — insertion-stable tiebreak
	subscriber Subscriber
}

// subscriberDeadline bounds how long the Bus waits for one subscriber on one
// event before timing it out and logging the overrun (spec.md §5).
const subscriberDeadline = 500 * time.Millisecond

// Bus is the process-wide hook subscriber registry. Per spec.md §5, the
// registry is a copy-on-write snapshot per emit: Subscribe builds a new
// slice under a lock and replaces the old one, and Emit takes the current
// slice under the same lock, so an emit in progress never sees a
// concurrent Subscribe's change.
type Bus struct {
	mu    sync.Mutex
	byKind map[Kind][]registration
	seq   int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{byKind: make(map[Kind][]registration)}
}

// Subscribe registers sub for kind at priority. Registration order
// determines fan-out order within a priority band; across bands, lower
// Priority values run first (spec.md §3 "same-band ties
// broken by core-before-plugins then by plugin name" — this package only
// sees registration order, so callers registering core subscribers first
// get that ordering for free).
func (b *Bus) Subscribe(kind Kind, priority Priority, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := append([]registration{}, b.byKind[kind]...) // copy-on-write
	b.seq++
	regs = append(regs, registration{priority: priority, order: b.seq, subscriber: sub})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].order < regs[j].order
	})
	b.byKind[kind] = regs
}

// Emit fans hc out to every subscriber registered for hc.Kind, in priority
// order, sequentially within a priority band (concurrency across bands is
// unnecessary complexity for the volumes this gateway handles — the 500ms
// per-subscriber deadline already bounds total fan-out latency). Emit never
// returns an error and never blocks the caller beyond the sum of subscriber
// deadlines; callers that can't afford even that should call EmitAsync.
func (b *Bus) Emit(ctx context.Context, hc Context) {
	b.mu.Lock()
	regs := b.byKind[hc.Kind]
	b.mu.Unlock()

	for _, reg := range regs {
		b.dispatch(ctx, reg, hc)
	}
}

// EmitAsync fans hc out on a separate goroutine so a slow or numerous
// subscriber set can never stall the data path (spec.md §4.9 "fire-and-
// forget on a third task"). Used for per-chunk streaming events.
func (b *Bus) EmitAsync(ctx context.Context, hc Context) {
	go b.Emit(ctx, hc)
}

func (b *Bus) dispatch(ctx context.Context, reg registration, hc Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("hooks: subscriber %q panicked on %s: %v", reg.subscriber.Name(), hc.Kind, r)
			incrHookErrors(hc.RC)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, subscriberDeadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panicked: %v", r)
			}
		}()
		done <- reg.subscriber.Handle(dctx, hc)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("hooks: subscriber %q error on %s: %v", reg.subscriber.Name(), hc.Kind, err)
			incrHookErrors(hc.RC)
		}
	case <-dctx.Done():
		log.Printf("hooks: subscriber %q timed out on %s after %s", reg.subscriber.Name(), hc.Kind, subscriberDeadline)
		incrHookErrors(hc.RC)
	}
}

func incrHookErrors(rc *reqcontext.RequestContext) {
	if rc != nil && rc.Metadata != nil {
		rc.Metadata.IncrHookErrors()
	}
}
