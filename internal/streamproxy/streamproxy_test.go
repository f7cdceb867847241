package streamproxy

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/format"
	"github.com/ccproxy-go/ccproxy/internal/hooks"
	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
)

const fixtureSSE = "" +
	"event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-5-sonnet-latest\",\"usage\":{\"input_tokens\":7}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

type recordingSubscriber struct {
	mu   sync.Mutex
	kind []hooks.Kind
}

func (r *recordingSubscriber) Name() string { return "recorder" }
func (r *recordingSubscriber) Handle(ctx context.Context, hc hooks.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kind = append(r.kind, hc.Kind)
	return nil
}

func TestPipe_AnthropicToChat_EmitsCompletedAndMergesUsage(t *testing.T) {
	bus := hooks.NewBus()
	rec := &recordingSubscriber{}
	bus.Subscribe(hooks.RequestCompleted, hooks.PriorityObservability, rec)
	bus.Subscribe(hooks.HTTPResponse, hooks.PriorityObservability, rec)

	proxy := New(bus, 0)
	_, rc := reqcontext.New(context.Background(), httptest.NewRequest("POST", "/v1/chat/completions", nil), "")

	w := httptest.NewRecorder()
	body := io.NopCloser(strings.NewReader(fixtureSSE))

	err := proxy.Pipe(context.Background(), rc, format.Anthropic, format.OpenAIChat, body, w)
	require.NoError(t, err)

	assert.Contains(t, w.Body.String(), "chat.completion.chunk")
	assert.Contains(t, w.Body.String(), "data: [DONE]")

	snap := rc.Metadata.Snapshot()
	assert.Equal(t, 7, snap.TokensInput)
	assert.Equal(t, 2, snap.TokensOutput)
	assert.Equal(t, "claude-3-5-sonnet-latest", snap.Model)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.kind, hooks.RequestCompleted)
	assert.Contains(t, rec.kind, hooks.HTTPResponse)
}

func TestPipe_DefaultsAndClampsQueueSize(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, New(nil, 0).QueueSize)
	assert.Equal(t, MinQueueSize, New(nil, 1).QueueSize)
	assert.Equal(t, MaxQueueSize, New(nil, 10000).QueueSize)
}
