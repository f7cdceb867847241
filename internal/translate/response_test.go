package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

func TestAnthropicResponseToChatResponse(t *testing.T) {
	raw := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type":"text","text":"hello there"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)

	out, err := TranslateResponse(format.Anthropic, format.OpenAIChat, raw)
	require.NoError(t, err)

	var cr chatResponse
	require.NoError(t, json.Unmarshal(out, &cr))
	require.Len(t, cr.Choices, 1)
	assert.Equal(t, "stop", cr.Choices[0].FinishReason)
	assert.Equal(t, 10, cr.Usage.PromptTokens)
	assert.Equal(t, 5, cr.Usage.CompletionTokens)

	var text string
	require.NoError(t, json.Unmarshal(cr.Choices[0].Message.Content, &text))
	assert.Equal(t, "hello there", text)
}

func TestChatResponseToAnthropicResponse_ToolCalls(t *testing.T) {
	raw := []byte(`{
		"id": "chatcmpl_1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"nyc\"}"}}]},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
	}`)

	out, err := TranslateResponse(format.OpenAIChat, format.Anthropic, raw)
	require.NoError(t, err)

	var ar anthropicResponse
	require.NoError(t, json.Unmarshal(out, &ar))
	assert.Equal(t, "tool_use", ar.StopReason)
	require.Len(t, ar.Content, 1)
	assert.Equal(t, "tool_use", ar.Content[0].Type)
	assert.Equal(t, "get_weather", ar.Content[0].Name)
	assert.Equal(t, 12, ar.Usage.InputTokens)
}

func TestResponsesResponseRoundTripsReasoning(t *testing.T) {
	raw := []byte(`{
		"id": "resp_1", "object": "response", "model": "o1",
		"status": "completed",
		"output": [
			{"type": "reasoning", "summary": [{"type":"summary_text","text":"thinking it through","signature":"sig123"}]},
			{"type": "message", "role": "assistant", "content": [{"type":"output_text","text":"final answer"}]}
		],
		"usage": {"input_tokens": 4, "output_tokens": 9}
	}`)

	resp, err := ParseResponse(format.OpenAIResponses, raw)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, format.BlockThinking, resp.Content[0].Type)
	assert.Equal(t, "sig123", resp.Content[0].ThinkingSignature)
	assert.Equal(t, format.BlockText, resp.Content[1].Type)
	assert.Equal(t, "final answer", resp.Content[1].Text)

	out, err := SerializeResponse(format.OpenAIResponses, resp)
	require.NoError(t, err)
	var rr responsesResponse
	require.NoError(t, json.Unmarshal(out, &rr))
	assert.Equal(t, "completed", rr.Status)
}
