// Package plugin implements the static-manifest plugin contract (spec.md
// §4.11 / C11): discovery, dependency-ordered initialization, middleware
// priority layering, and reverse-order shutdown. The proxy core only ever
// sees a Manifest and a Runtime's Capabilities — never a plugin's own
// package — mirroring the teacher's Provider interface boundary between
// internal/server and internal/provider.
package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/ccproxy-go/ccproxy/internal/hooks"
)

// Manifest statically declares one plugin's identity and dependencies
// (spec.md §3).
type Manifest struct {
	Name         string
	Version      string
	Dependencies []string // names of other plugins that must initialize first
}

// Context is handed to each plugin Runtime's Initialize (spec.md §4.11
// step 3). It carries a settings snapshot, the shared HTTP client, the hook
// bus and a config map; it has no per-plugin logger or scheduler handle,
// and every plugin receives the same value.
type Context struct {
	Settings   map[string]any
	HTTPClient *http.Client
	Bus        *hooks.Bus
	Config     map[string]any // passed through as given; not validated
}

// MiddlewareSpec lets a plugin contribute one piece of HTTP middleware at a
// declared priority band (spec.md §4.11 step 5), reusing hooks.Priority
// since both describe "how early does this layer see the request."
type MiddlewareSpec struct {
	Priority   hooks.Priority
	Middleware func(http.Handler) http.Handler
}

// RouteSpec lets a plugin mount an additional HTTP route (spec.md §4.11
// step 6).
type RouteSpec struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Capabilities is everything the proxy core is allowed to pull out of an
// initialized plugin Runtime — the plugin's own types never leak past this.
type Capabilities struct {
	Middleware []MiddlewareSpec
	Routes     []RouteSpec
	Subscribers []hooks.Subscriber
}

// Runtime is one instantiated plugin: Initialize runs once at startup (after
// dependency ordering), Shutdown runs once in reverse order at process exit.
type Runtime interface {
	Initialize(ctx context.Context, pctx Context) (Capabilities, error)
	Shutdown(ctx context.Context) error
}

// Factory constructs a Runtime for a Manifest; registered plugins provide
// one of these (spec.md §4.11 step 3: "instantiate its runtime").
type Factory func() Runtime

// Registration pairs a Manifest with the Factory that builds its Runtime.
type Registration struct {
	Manifest Manifest
	Factory  Factory
}

// Host discovers, orders, and drives the lifecycle of every registered
// plugin (spec.md §4.11).
type Host struct {
	registrations []Registration
	runtimes      []namedRuntime
}

type namedRuntime struct {
	name string
	rt   Runtime
	caps Capabilities
}

// NewHost builds an empty Host; callers Register each plugin before calling
// InitializeAll.
func NewHost() *Host {
	return &Host{}
}

// Register adds a plugin to the host (spec.md §4.11 step 1: "discover
// manifests" — discovery here is the caller enumerating compiled-in
// registrations rather than scanning a directory, since Go plugins are
// linked at build time).
func (h *Host) Register(reg Registration) {
	h.registrations = append(h.registrations, reg)
}

// InitializeAll topologically sorts registrations by declared dependency
// (a cycle is a fatal error, per spec.md §4.11 step 2), then instantiates
// and initializes each plugin in that order. A plugin's Initialize failure
// is returned immediately — unlike Shutdown, a failing plugin does abort
// startup, since later plugins may depend on it having run.
func (h *Host) InitializeAll(ctx context.Context, base Context) error {
	ordered, err := topoSort(h.registrations)
	if err != nil {
		return fmt.Errorf("plugin: %w", err)
	}

	for _, reg := range ordered {
		rt := reg.Factory()
		caps, err := rt.Initialize(ctx, base)
		if err != nil {
			return fmt.Errorf("plugin %q: initialize: %w", reg.Manifest.Name, err)
		}
		h.runtimes = append(h.runtimes, namedRuntime{name: reg.Manifest.Name, rt: rt, caps: caps})
	}
	return nil
}

// Middleware returns every initialized plugin's contributed middleware,
// sorted by priority band (spec.md §4.11 step 5).
func (h *Host) Middleware() []MiddlewareSpec {
	var all []MiddlewareSpec
	for _, nr := range h.runtimes {
		all = append(all, nr.caps.Middleware...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	return all
}

// Routes returns every initialized plugin's contributed routes (spec.md
// §4.11 step 6).
func (h *Host) Routes() []RouteSpec {
	var all []RouteSpec
	for _, nr := range h.runtimes {
		all = append(all, nr.caps.Routes...)
	}
	return all
}

// Subscribers returns every initialized plugin's hook subscribers (spec.md
// §4.11: "a plugin may register hook subscribers (C7)").
func (h *Host) Subscribers() []hooks.Subscriber {
	var all []hooks.Subscriber
	for _, nr := range h.runtimes {
		all = append(all, nr.caps.Subscribers...)
	}
	return all
}

// ShutdownAll tears plugins down in reverse initialization order. A
// failing plugin's error is logged by the caller but never stops the
// remaining plugins from shutting down (spec.md §4.11: "a failing plugin
// does not block others").
func (h *Host) ShutdownAll(ctx context.Context) []error {
	var errs []error
	for i := len(h.runtimes) - 1; i >= 0; i-- {
		if err := h.runtimes[i].rt.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: shutdown: %w", h.runtimes[i].name, err))
		}
	}
	return errs
}

// topoSort orders registrations so every plugin's declared Dependencies
// initialize before it does, detecting cycles (spec.md §4.11 step 2).
func topoSort(regs []Registration) ([]Registration, error) {
	byName := make(map[string]Registration, len(regs))
	for _, r := range regs {
		byName[r.Manifest.Name] = r
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(regs))
	var ordered []Registration

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected: %v -> %s", chain, name)
		}
		reg, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown plugin dependency %q", name)
		}
		state[name] = visiting
		for _, dep := range reg.Manifest.Dependencies {
			if err := visit(dep, append(chain, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		ordered = append(ordered, reg)
		return nil
	}

	for _, r := range regs {
		if err := visit(r.Manifest.Name, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
