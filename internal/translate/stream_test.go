package translate

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

const anthropicSSEFixture = "" +
	"event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-5-sonnet-20241022\",\"usage\":{\"input_tokens\":10,\"output_tokens\":0}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":3}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func TestParseAnthropicStream_EmitsNormalizedEvents(t *testing.T) {
	stream := ParseStream(format.Anthropic, strings.NewReader(anthropicSSEFixture))

	var events []format.Event
	for ev := range stream.Events {
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, format.EventMessageStart, events[0].Type)
	assert.Equal(t, "msg_1", events[0].ResponseID)

	var sawTextDelta bool
	for _, ev := range events {
		if ev.Type == format.EventContentBlockDelta && ev.DeltaKind == format.DeltaText {
			sawTextDelta = true
			assert.Equal(t, "hi", ev.TextDelta)
		}
	}
	assert.True(t, sawTextDelta)
	assert.Equal(t, format.EventMessageStop, events[len(events)-1].Type)
}

func TestAnthropicStreamTranslatedToChatStream_ProducesDoneSentinel(t *testing.T) {
	stream := ParseStream(format.Anthropic, strings.NewReader(anthropicSSEFixture))

	rec := httptest.NewRecorder()
	err := WriteStream(rec, format.OpenAIChat, stream)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "chat.completion.chunk")
	assert.Contains(t, body, "\"content\":\"hi\"")
	assert.Contains(t, body, "data: [DONE]")
}

func TestAnthropicStreamPassthrough_PreservesFraming(t *testing.T) {
	stream := ParseStream(format.Anthropic, strings.NewReader(anthropicSSEFixture))

	rec := httptest.NewRecorder()
	err := WriteStream(rec, format.Anthropic, stream)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, "event: message_stop")
}
