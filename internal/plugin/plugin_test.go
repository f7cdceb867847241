package plugin

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	name        string
	initErr     error
	shutdownErr error
	events      *[]string
}

func (f *fakeRuntime) Initialize(ctx context.Context, pctx Context) (Capabilities, error) {
	*f.events = append(*f.events, "init:"+f.name)
	if f.initErr != nil {
		return Capabilities{}, f.initErr
	}
	return Capabilities{
		Middleware: []MiddlewareSpec{{Priority: 100, Middleware: func(h http.Handler) http.Handler { return h }}},
	}, nil
}

func (f *fakeRuntime) Shutdown(ctx context.Context) error {
	*f.events = append(*f.events, "shutdown:"+f.name)
	return f.shutdownErr
}

func TestInitializeAll_RespectsDependencyOrder(t *testing.T) {
	var events []string
	host := NewHost()
	host.Register(Registration{
		Manifest: Manifest{Name: "b", Dependencies: []string{"a"}},
		Factory:  func() Runtime { return &fakeRuntime{name: "b", events: &events} },
	})
	host.Register(Registration{
		Manifest: Manifest{Name: "a"},
		Factory:  func() Runtime { return &fakeRuntime{name: "a", events: &events} },
	})

	require.NoError(t, host.InitializeAll(context.Background(), Context{}))
	assert.Equal(t, []string{"init:a", "init:b"}, events)
}

func TestInitializeAll_DetectsCycle(t *testing.T) {
	host := NewHost()
	host.Register(Registration{Manifest: Manifest{Name: "a", Dependencies: []string{"b"}}, Factory: func() Runtime { return nil }})
	host.Register(Registration{Manifest: Manifest{Name: "b", Dependencies: []string{"a"}}, Factory: func() Runtime { return nil }})

	err := host.InitializeAll(context.Background(), Context{})
	assert.Error(t, err)
}

func TestShutdownAll_ReverseOrder_ContinuesPastFailure(t *testing.T) {
	var events []string
	host := NewHost()
	host.Register(Registration{
		Manifest: Manifest{Name: "first"},
		Factory:  func() Runtime { return &fakeRuntime{name: "first", events: &events} },
	})
	host.Register(Registration{
		Manifest: Manifest{Name: "second", Dependencies: []string{"first"}},
		Factory:  func() Runtime { return &fakeRuntime{name: "second", shutdownErr: assertErr, events: &events} },
	})

	require.NoError(t, host.InitializeAll(context.Background(), Context{}))
	events = nil

	errs := host.ShutdownAll(context.Background())
	assert.Equal(t, []string{"shutdown:second", "shutdown:first"}, events)
	assert.Len(t, errs, 1)
}

var assertErr = errAlways{}

type errAlways struct{}

func (errAlways) Error() string { return "shutdown failed" }

func TestMiddleware_SortedByPriority(t *testing.T) {
	host := NewHost()
	host.Register(Registration{
		Manifest: Manifest{Name: "low"},
		Factory: func() Runtime {
			return fixedCapsRuntime{caps: Capabilities{Middleware: []MiddlewareSpec{{Priority: 400, Middleware: identity}}}}
		},
	})
	host.Register(Registration{
		Manifest: Manifest{Name: "high"},
		Factory: func() Runtime {
			return fixedCapsRuntime{caps: Capabilities{Middleware: []MiddlewareSpec{{Priority: 100, Middleware: identity}}}}
		},
	})
	require.NoError(t, host.InitializeAll(context.Background(), Context{}))

	mw := host.Middleware()
	require.Len(t, mw, 2)
	assert.Equal(t, 100, int(mw[0].Priority))
	assert.Equal(t, 400, int(mw[1].Priority))
}

func identity(h http.Handler) http.Handler { return h }

type fixedCapsRuntime struct{ caps Capabilities }

func (f fixedCapsRuntime) Initialize(ctx context.Context, pctx Context) (Capabilities, error) {
	return f.caps, nil
}
func (f fixedCapsRuntime) Shutdown(ctx context.Context) error { return nil }
