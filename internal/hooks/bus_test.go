package hooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
)

type recordingSubscriber struct {
	name string
	mu   sync.Mutex
	seen []Kind
	err  error
	wait time.Duration
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Handle(ctx context.Context, hc Context) error {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.seen = append(s.seen, hc.Kind)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSubscriber) snapshot() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Kind{}, s.seen...)
}

func TestEmit_DeliversToRegisteredKindOnly(t *testing.T) {
	bus := NewBus()
	sub := &recordingSubscriber{name: "sub"}
	bus.Subscribe(HTTPRequest, PriorityApplication, sub)

	bus.Emit(context.Background(), Context{Kind: HTTPRequest})
	bus.Emit(context.Background(), Context{Kind: HTTPResponse})

	assert.Equal(t, []Kind{HTTPRequest}, sub.snapshot())
}

func TestEmit_OrdersByPriorityThenRegistration(t *testing.T) {
	bus := NewBus()
	var order []string
	var mu sync.Mutex
	record := func(name string) *fnSubscriber {
		return &fnSubscriber{name: name, fn: func(ctx context.Context, hc Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}

	bus.Subscribe(HTTPRequest, PriorityApplication, record("app"))
	bus.Subscribe(HTTPRequest, PrioritySecurity, record("security"))
	bus.Subscribe(HTTPRequest, PriorityObservability, record("obs1"))
	bus.Subscribe(HTTPRequest, PriorityObservability, record("obs2"))

	bus.Emit(context.Background(), Context{Kind: HTTPRequest})

	assert.Equal(t, []string{"security", "obs1", "obs2", "app"}, order)
}

func TestEmit_SubscriberErrorNeverPropagatesButIncrementsHookErrors(t *testing.T) {
	bus := NewBus()
	sub := &recordingSubscriber{name: "failing", err: assertErr{}}
	bus.Subscribe(RequestFailed, PriorityApplication, sub)

	rc := &reqcontext.RequestContext{Metadata: &reqcontext.Metadata{}}
	bus.Emit(context.Background(), Context{Kind: RequestFailed, RC: rc})

	assert.Equal(t, 1, rc.Metadata.Snapshot().HookErrors)
}

func TestEmit_SubscriberPanicNeverPropagates(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(HTTPRequest, PriorityApplication, &fnSubscriber{name: "panics", fn: func(ctx context.Context, hc Context) error {
		panic("boom")
	}})

	rc := &reqcontext.RequestContext{Metadata: &reqcontext.Metadata{}}
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Context{Kind: HTTPRequest, RC: rc})
	})
	assert.Equal(t, 1, rc.Metadata.Snapshot().HookErrors)
}

func TestEmit_SlowSubscriberTimesOutWithoutBlockingForever(t *testing.T) {
	bus := NewBus()
	sub := &recordingSubscriber{name: "slow", wait: 2 * time.Second}
	bus.Subscribe(HTTPRequest, PriorityApplication, sub)

	rc := &reqcontext.RequestContext{Metadata: &reqcontext.Metadata{}}
	start := time.Now()
	bus.Emit(context.Background(), Context{Kind: HTTPRequest, RC: rc})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, rc.Metadata.Snapshot().HookErrors)
}

func TestEmitAsync_ReturnsBeforeSubscriberRuns(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	bus.Subscribe(HTTPRequest, PriorityApplication, &fnSubscriber{name: "async", fn: func(ctx context.Context, hc Context) error {
		close(done)
		return nil
	}})

	bus.EmitAsync(context.Background(), Context{Kind: HTTPRequest})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber never ran")
	}
}

type fnSubscriber struct {
	name string
	fn   func(ctx context.Context, hc Context) error
}

func (f *fnSubscriber) Name() string { return f.name }
func (f *fnSubscriber) Handle(ctx context.Context, hc Context) error {
	return f.fn(ctx, hc)
}

type assertErr struct{}

func (assertErr) Error() string { return "handler failed" }
