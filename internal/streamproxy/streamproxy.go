// Package streamproxy implements the bidirectional streaming pipe (spec.md
// §4.9 / C9): an upstream read task and a downstream write task connected
// by a bounded channel for backpressure, with per-chunk hook emission
// fired off on its own goroutine so a slow subscriber can never stall the
// data path. Cancellation follows the client's RequestContext: closing the
// ingress connection cancels ctx, which aborts the upstream read and tears
// the whole pipe down.
package streamproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccproxy-go/ccproxy/internal/adapter"
	"github.com/ccproxy-go/ccproxy/internal/ccerr"
	"github.com/ccproxy-go/ccproxy/internal/format"
	"github.com/ccproxy-go/ccproxy/internal/hooks"
	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
	"github.com/ccproxy-go/ccproxy/internal/translate"
)

// MinQueueSize and MaxQueueSize bound the backpressure channel's capacity
// per spec.md §4.9 ("size >= 16, <= 256 chunks").
const (
	MinQueueSize     = 16
	MaxQueueSize     = 256
	DefaultQueueSize = 64
)

// Proxy pipes one upstream SSE stream to one downstream client connection.
type Proxy struct {
	Bus       *hooks.Bus
	QueueSize int
}

// New builds a Proxy with a validated queue size, clamping to
// [MinQueueSize, MaxQueueSize] and defaulting a zero value to
// DefaultQueueSize.
func New(bus *hooks.Bus, queueSize int) *Proxy {
	switch {
	case queueSize == 0:
		queueSize = DefaultQueueSize
	case queueSize < MinQueueSize:
		queueSize = MinQueueSize
	case queueSize > MaxQueueSize:
		queueSize = MaxQueueSize
	}
	return &Proxy{Bus: bus, QueueSize: queueSize}
}

// Pipe reads upstreamBody as an SSE stream shaped like sourceKind, re-emits
// it to w shaped like targetKind, merges the usage summed over its
// message_start and message_delta events into rc's metadata via
// adapter.ExtractUsage, and emits REQUEST_COMPLETED/REQUEST_FAILED on the
// hook bus.
// upstreamBody is always closed before Pipe returns.
func (p *Proxy) Pipe(ctx context.Context, rc *reqcontext.RequestContext, sourceKind, targetKind format.Kind, upstreamBody io.ReadCloser, w http.ResponseWriter) error {
	defer upstreamBody.Close()

	parsed := translate.ParseStream(sourceKind, upstreamBody)
	queue := make(chan format.Event, p.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	var finalUsage format.Usage
	var finalModel string
	var streamErr error

	g.Go(func() error {
		defer close(queue)
		for {
			select {
			case ev, ok := <-parsed.Events:
				if !ok {
					return nil
				}
				if ev.Type == format.EventError {
					streamErr = ev.Err
				}
				if ev.Type == format.EventMessageStart && ev.Model != "" {
					finalModel = ev.Model
				}
				if ev.Type == format.EventMessageStart || ev.Type == format.EventMessageDelta {
					finalUsage.Add(ev.Usage)
				}
				p.emitChunk(gctx, rc, ev)

				select {
				case queue <- ev:
				case <-gctx.Done():
					return gctx.Err()
				}

				if ev.Type == format.EventMessageStop || ev.Type == format.EventError {
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		return translate.WriteStream(w, targetKind, format.Stream{Events: queue})
	})

	waitErr := g.Wait()
	adapter.ExtractUsage(rc, finalModel, finalUsage)

	if streamErr != nil {
		p.emitFailed(ctx, rc, streamErr)
		return ccerr.UpstreamTimeout(streamErr)
	}
	if waitErr != nil {
		p.emitFailed(ctx, rc, waitErr)
		return fmt.Errorf("streamproxy: %w", waitErr)
	}

	p.emitCompleted(ctx, rc)
	return nil
}

func (p *Proxy) emitChunk(ctx context.Context, rc *reqcontext.RequestContext, ev format.Event) {
	if p.Bus == nil {
		return
	}
	p.Bus.EmitAsync(ctx, hooks.Context{
		Kind:      hooks.HTTPResponse,
		Timestamp: time.Now(),
		Data:      map[string]any{"event_type": string(ev.Type)},
		Metadata:  map[string]any{"request_id": requestID(rc)},
		RC:        rc,
	})
}

func (p *Proxy) emitCompleted(ctx context.Context, rc *reqcontext.RequestContext) {
	if p.Bus == nil {
		return
	}
	p.Bus.Emit(ctx, hooks.Context{
		Kind:      hooks.RequestCompleted,
		Timestamp: time.Now(),
		Metadata:  requestMetadata(rc),
		RC:        rc,
	})
}

func (p *Proxy) emitFailed(ctx context.Context, rc *reqcontext.RequestContext, cause error) {
	if p.Bus == nil {
		return
	}
	p.Bus.Emit(ctx, hooks.Context{
		Kind:      hooks.RequestFailed,
		Timestamp: time.Now(),
		Data:      map[string]any{"error": cause.Error()},
		Metadata:  requestMetadata(rc),
		RC:        rc,
	})
}

func requestID(rc *reqcontext.RequestContext) string {
	if rc == nil {
		return ""
	}
	return rc.RequestID
}

func requestMetadata(rc *reqcontext.RequestContext) map[string]any {
	if rc == nil {
		return map[string]any{}
	}
	return map[string]any{
		"request_id":    rc.RequestID,
		"provider":      rc.Provider,
		"source_format": string(rc.SourceFormat),
		"target_format": string(rc.TargetFormat),
	}
}
