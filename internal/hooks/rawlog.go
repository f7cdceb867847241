package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RawHTTPLogger is the raw-HTTP debug sink (spec.md §1/§6): framed HTTP/1.1
// wire bytes appended to CCPROXY_RAW_LOG_DIR/<request_id>_{client,provider}_
// {request,response}.http, gated by CCPROXY_LOG_RAW_HTTP. Grounded on
// original_source/plugins/raw_http_logger/logger.py's RawHTTPLogger: append-
// only per (request_id, side, direction) file, truncated past MaxBodyBytes.
// Every write opens the file in append mode, so repeated chunk-level hook
// emissions for the same key append to one file.
//
// It writes only frames passed to WriteFrame or carried as a pre-framed
// "raw" []byte in an event's Data; the router and the streaming proxy emit
// no events with such data, so in the server as wired it writes no files.
//
// This is purely a hook subscriber — the data plane never imports it
// directly, matching spec.md §1's framing of the raw logger as "one sink".
type RawHTTPLogger struct {
	Enabled      bool
	Dir          string
	MaxBodyBytes int

	mu      sync.Mutex
	started map[string]bool
}

// NewRawHTTPLogger builds a logger reading CCPROXY_LOG_RAW_HTTP /
// CCPROXY_RAW_LOG_DIR the way the original does, with its 10MB default cap.
func NewRawHTTPLogger() *RawHTTPLogger {
	enabled := os.Getenv("CCPROXY_LOG_RAW_HTTP") == "true" || os.Getenv("CCPROXY_LOG_RAW_HTTP") == "1"
	dir := os.Getenv("CCPROXY_RAW_LOG_DIR")
	if dir == "" {
		dir = "/tmp/ccproxy/raw"
	}
	l := &RawHTTPLogger{Enabled: enabled, Dir: dir, MaxBodyBytes: 10 * 1024 * 1024, started: make(map[string]bool)}
	if enabled {
		os.MkdirAll(dir, 0700)
	}
	return l
}

func (l *RawHTTPLogger) Name() string { return "raw_http_logger" }

// Side identifies which leg of the proxy a frame belongs to.
type Side string

const (
	SideClient   Side = "client"
	SideProvider Side = "provider"
)

// Direction identifies request vs response within a Side.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// WriteFrame appends raw to the file for (requestID, side, direction),
// truncating past MaxBodyBytes. Handle calls it for bus events; a caller
// that already holds the frame bytes can also call it directly without
// going through the bus.
func (l *RawHTTPLogger) WriteFrame(requestID string, side Side, dir Direction, raw []byte) error {
	if !l.Enabled {
		return nil
	}

	truncated := raw
	if len(truncated) > l.MaxBodyBytes {
		truncated = append(append([]byte{}, truncated[:l.MaxBodyBytes]...), []byte("\n[TRUNCATED]")...)
	}

	key := fmt.Sprintf("%s_%s_%s", requestID, side, dir)
	path := filepath.Join(l.Dir, fmt.Sprintf("%s_%s_%s.http", requestID, side, dir))

	l.mu.Lock()
	l.started[key] = true
	l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("raw http logger: opening %s: %w", path, err)
	}
	defer f.Close()

	_, err = f.Write(truncated)
	return err
}

// Handle lets RawHTTPLogger also act as a Subscriber for HTTP_REQUEST /
// HTTP_RESPONSE events that carry a pre-framed "raw" []byte and "side" in
// hc.Data, for callers that prefer to go through the bus instead of calling
// WriteFrame directly.
func (l *RawHTTPLogger) Handle(ctx context.Context, hc Context) error {
	if !l.Enabled {
		return nil
	}
	raw, ok := hc.Data["raw"].([]byte)
	if !ok {
		return nil
	}
	side, _ := hc.Data["side"].(Side)
	var dir Direction
	switch hc.Kind {
	case HTTPRequest:
		dir = DirectionRequest
	case HTTPResponse:
		dir = DirectionResponse
	default:
		return nil
	}
	requestID, _ := hc.Metadata["request_id"].(string)
	return l.WriteFrame(requestID, side, dir, raw)
}

var _ Subscriber = (*RawHTTPLogger)(nil)
