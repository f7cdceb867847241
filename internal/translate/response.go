package translate

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// ParseResponse decodes a wire-format non-streaming response into the
// neutral format.Response shape.
func ParseResponse(kind format.Kind, raw []byte) (*format.Response, error) {
	switch kind {
	case format.Anthropic:
		return parseAnthropicResponse(raw)
	case format.OpenAIChat:
		return parseChatResponse(raw)
	case format.OpenAIResponses:
		return parseResponsesResponse(raw)
	default:
		return nil, fmt.Errorf("translate: unknown source kind %q", kind)
	}
}

// SerializeResponse encodes the neutral format.Response into kind's wire shape.
func SerializeResponse(kind format.Kind, resp *format.Response) ([]byte, error) {
	switch kind {
	case format.Anthropic:
		return serializeAnthropicResponse(resp)
	case format.OpenAIChat:
		return serializeChatResponse(resp)
	case format.OpenAIResponses:
		return serializeResponsesResponse(resp)
	default:
		return nil, fmt.Errorf("translate: unknown target kind %q", kind)
	}
}

// stopReason* map each wire format's terminal reason onto the normalized
// format.StopReason, per spec.md §4.5's mapping table (first match wins).

func stopReasonFromAnthropic(s string) format.StopReason {
	switch s {
	case "max_tokens":
		return format.StopMaxTokens
	case "tool_use":
		return format.StopToolUse
	case "stop_sequence":
		return format.StopStopSequence
	default:
		return format.StopEndTurn
	}
}

func stopReasonToAnthropic(s format.StopReason) string {
	switch s {
	case format.StopMaxTokens:
		return "max_tokens"
	case format.StopToolUse:
		return "tool_use"
	case format.StopStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func stopReasonFromChat(s string) format.StopReason {
	switch s {
	case "length":
		return format.StopMaxTokens
	case "tool_calls":
		return format.StopToolUse
	case "stop":
		return format.StopEndTurn // chat "stop" covers both a natural end and a stop-sequence hit; the first match, end_turn, wins
	default:
		return format.StopEndTurn
	}
}

func stopReasonToChat(s format.StopReason) string {
	switch s {
	case format.StopMaxTokens:
		return "length"
	case format.StopToolUse:
		return "tool_calls"
	case format.StopStopSequence:
		return "stop"
	default:
		return "stop"
	}
}

func usageFromAnthropic(u anthropicUsage) format.Usage {
	return format.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		CacheWriteTokens: cacheCreationTokens(u),
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// cacheCreationTokens sums the ephemeral 5m+1h cache-creation variants when
// Anthropic reports the breakdown, falling back to the flat total otherwise.
func cacheCreationTokens(u anthropicUsage) int {
	if u.CacheCreation == nil {
		return u.CacheCreationInputTokens
	}
	return u.CacheCreation.Ephemeral5mInputTokens + u.CacheCreation.Ephemeral1hInputTokens
}

func usageToAnthropic(u format.Usage) anthropicUsage {
	return anthropicUsage{
		InputTokens:              u.PromptTokens,
		OutputTokens:             u.CompletionTokens,
		CacheReadInputTokens:     u.CacheReadTokens,
		CacheCreationInputTokens: u.CacheWriteTokens,
	}
}

func usageFromChat(u chatUsage) format.Usage {
	out := format.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptDetails != nil {
		out.CacheReadTokens = u.PromptDetails.CachedTokens
	}
	if u.CompletionDetail != nil {
		out.ReasoningTokens = u.CompletionDetail.ReasoningTokens
	}
	return out
}

func usageToChat(u format.Usage) chatUsage {
	out := chatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CacheReadTokens > 0 {
		out.PromptDetails = &chatPromptDetails{CachedTokens: u.CacheReadTokens}
	}
	if u.ReasoningTokens > 0 {
		out.CompletionDetail = &chatCompletionInfo{ReasoningTokens: u.ReasoningTokens}
	}
	return out
}

func usageFromResponses(u responsesUsage) format.Usage {
	out := format.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
	if u.InputTokensDetails != nil {
		out.CacheReadTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetails != nil {
		out.ReasoningTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return out
}

func usageToResponses(u format.Usage) responsesUsage {
	out := responsesUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.CacheReadTokens > 0 {
		out.InputTokensDetails = &responsesInputTokenDetails{CachedTokens: u.CacheReadTokens}
	}
	if u.ReasoningTokens > 0 {
		out.OutputTokensDetails = &responsesOutputTokenDetails{ReasoningTokens: u.ReasoningTokens}
	}
	return out
}

// --- Anthropic ---

func parseAnthropicResponse(raw []byte) (*format.Response, error) {
	var wr anthropicResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding anthropic response: %w", err)
	}
	blocks, err := anthropicContentToBlocks(mustMarshal(wr.Content))
	if err != nil {
		return nil, err
	}
	return &format.Response{
		ID:         wr.ID,
		Model:      wr.Model,
		Content:    blocks,
		StopReason: stopReasonFromAnthropic(wr.StopReason),
		Usage:      usageFromAnthropic(wr.Usage),
	}, nil
}

func serializeAnthropicResponse(resp *format.Response) ([]byte, error) {
	content, err := blocksToAnthropicContent(resp.Content)
	if err != nil {
		return nil, err
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil, err
	}
	wr := anthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: stopReasonToAnthropic(resp.StopReason),
		Usage:      usageToAnthropic(resp.Usage),
	}
	return json.Marshal(wr)
}

// --- OpenAI Chat ---

func parseChatResponse(raw []byte) (*format.Response, error) {
	var wr chatResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding chat response: %w", err)
	}
	resp := &format.Response{ID: wr.ID, Model: wr.Model, Usage: usageFromChat(wr.Usage)}
	if len(wr.Choices) > 0 {
		c := wr.Choices[0]
		resp.StopReason = stopReasonFromChat(c.FinishReason)
		resp.Content = chatContentToBlocks(c.Message.Content)
		for _, tc := range c.Message.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			resp.Content = append(resp.Content, format.ContentBlock{Type: format.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input})
		}
	}
	return resp, nil
}

func serializeChatResponse(resp *format.Response) ([]byte, error) {
	cm, _ := blocksToChatMsg(format.Message{Role: "assistant", Content: resp.Content})
	wr := chatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Usage:  usageToChat(resp.Usage),
		Choices: []chatChoice{{
			Index:        0,
			Message:      cm,
			FinishReason: stopReasonToChat(resp.StopReason),
		}},
	}
	return json.Marshal(wr)
}

// --- OpenAI Responses ---

func parseResponsesResponse(raw []byte) (*format.Response, error) {
	var wr responsesResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding responses response: %w", err)
	}
	resp := &format.Response{ID: wr.ID, Model: wr.Model, Usage: usageFromResponses(wr.Usage)}
	if wr.Status == "incomplete" {
		resp.StopReason = format.StopMaxTokens
	} else {
		resp.StopReason = format.StopEndTurn
	}
	for _, item := range wr.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				resp.Content = append(resp.Content, format.ContentBlock{Type: format.BlockText, Text: c.Text})
			}
		case "reasoning":
			for _, s := range item.Summary {
				resp.Content = append(resp.Content, format.ContentBlock{Type: format.BlockThinking, ThinkingText: s.Text, ThinkingSignature: s.Signature})
			}
		}
	}
	return resp, nil
}

func serializeResponsesResponse(resp *format.Response) ([]byte, error) {
	wr := responsesResponse{
		ID:     resp.ID,
		Object: "response",
		Model:  resp.Model,
		Usage:  usageToResponses(resp.Usage),
		Status: "completed",
	}
	if resp.StopReason == format.StopMaxTokens {
		wr.Status = "incomplete"
	}

	var msgParts []responsesContentPart
	var reasoningSummary []responsesSummaryPart
	for _, b := range resp.Content {
		switch b.Type {
		case format.BlockText:
			msgParts = append(msgParts, responsesContentPart{Type: "output_text", Text: b.Text})
		case format.BlockThinking:
			reasoningSummary = append(reasoningSummary, responsesSummaryPart{Type: "summary_text", Text: b.ThinkingText, Signature: b.ThinkingSignature})
		}
	}
	if len(reasoningSummary) > 0 {
		wr.Output = append(wr.Output, responsesOutputItem{Type: "reasoning", Summary: reasoningSummary})
	}
	if len(msgParts) > 0 {
		wr.Output = append(wr.Output, responsesOutputItem{Type: "message", Role: "assistant", Content: msgParts})
	}

	return json.Marshal(wr)
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
