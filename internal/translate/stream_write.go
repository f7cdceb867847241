package translate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// reasoningXMLEnabled reports whether reasoning deltas should be wrapped in
// <thinking signature="…"> tags for consumers with no native reasoning
// representation (OpenAI-Chat), per the LLM__OPENAI_THINKING_XML toggle
// (spec.md §6, default on).
func reasoningXMLEnabled() bool {
	v, ok := os.LookupEnv("LLM__OPENAI_THINKING_XML")
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// WriteStream consumes stream and writes it to w as kind's SSE framing,
// flushing after every event so the client sees tokens as they arrive (same
// header set + http.Flusher assertion as the teacher's stream.Write).
func WriteStream(w http.ResponseWriter, kind format.Kind, stream format.Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("translate: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	switch kind {
	case format.Anthropic:
		return writeAnthropicStream(w, flusher, stream)
	case format.OpenAIChat:
		return writeChatStream(w, flusher, stream)
	case format.OpenAIResponses:
		return writeResponsesStream(w, flusher, stream)
	default:
		return fmt.Errorf("translate: unknown stream target kind %q", kind)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("translate: marshaling sse event: %w", err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeAnthropicStream(w http.ResponseWriter, flusher http.Flusher, stream format.Stream) error {
	for ev := range stream.Events {
		switch ev.Type {
		case format.EventError:
			return ev.Err

		case format.EventMessageStart:
			if err := writeSSE(w, flusher, "message_start", map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id": ev.ResponseID, "type": "message", "role": "assistant", "model": ev.Model,
					"content": []any{}, "usage": usageToAnthropic(ev.Usage),
				},
			}); err != nil {
				return err
			}

		case format.EventContentBlockStart:
			block := map[string]any{"type": anthropicBlockTypeName(ev.BlockType)}
			if ev.BlockType == format.BlockToolUse {
				block["id"] = ev.ToolCallID
				block["name"] = ev.ToolCallName
				block["input"] = map[string]any{}
			}
			if err := writeSSE(w, flusher, "content_block_start", map[string]any{
				"type": "content_block_start", "index": ev.BlockIndex, "content_block": block,
			}); err != nil {
				return err
			}

		case format.EventContentBlockDelta:
			delta := map[string]any{}
			switch ev.DeltaKind {
			case format.DeltaText:
				delta["type"] = "text_delta"
				delta["text"] = ev.TextDelta
			case format.DeltaInputJSON:
				delta["type"] = "input_json_delta"
				delta["partial_json"] = ev.JSONDelta
			case format.DeltaThinking:
				delta["type"] = "thinking_delta"
				delta["thinking"] = ev.TextDelta
			case format.DeltaThinkingSig:
				delta["type"] = "signature_delta"
				delta["signature"] = ev.ThinkingSignature
			}
			if err := writeSSE(w, flusher, "content_block_delta", map[string]any{
				"type": "content_block_delta", "index": ev.BlockIndex, "delta": delta,
			}); err != nil {
				return err
			}

		case format.EventContentBlockStop:
			if err := writeSSE(w, flusher, "content_block_stop", map[string]any{
				"type": "content_block_stop", "index": ev.BlockIndex,
			}); err != nil {
				return err
			}

		case format.EventMessageDelta:
			if err := writeSSE(w, flusher, "message_delta", map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": stopReasonToAnthropic(ev.StopReason)},
				"usage": usageToAnthropic(ev.Usage),
			}); err != nil {
				return err
			}

		case format.EventMessageStop:
			return writeSSE(w, flusher, "message_stop", map[string]any{"type": "message_stop"})
		}
	}
	return nil
}

func anthropicBlockTypeName(t format.ContentBlockType) string {
	switch t {
	case format.BlockToolUse:
		return "tool_use"
	case format.BlockThinking:
		return "thinking"
	default:
		return "text"
	}
}

func writeChatStream(w http.ResponseWriter, flusher http.Flusher, stream format.Stream) error {
	var id, model string
	var usage format.Usage
	haveUsage := false
	xmlEnabled := reasoningXMLEnabled()

	var thinkingOpen bool
	var pendingSig string

	emitContent := func(text string) error {
		return writeSSE(w, flusher, "", map[string]any{
			"id": id, "object": "chat.completion.chunk", "model": model,
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": text}, "finish_reason": nil}},
		})
	}

	// closeThinking ends an open <thinking> block, per spec.md §4.5: closed
	// before the first non-reasoning text delta reaches the client.
	closeThinking := func() error {
		if !thinkingOpen {
			return nil
		}
		thinkingOpen = false
		return emitContent("</thinking>")
	}

	finish := func(reason *string) error {
		if err := closeThinking(); err != nil {
			return err
		}
		payload := map[string]any{
			"id": id, "object": "chat.completion.chunk", "model": model,
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": reason}},
		}
		if haveUsage {
			payload["usage"] = usageToChat(usage)
		}
		if err := writeSSE(w, flusher, "", payload); err != nil {
			return err
		}
		_, err := fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return err
	}

	for ev := range stream.Events {
		switch ev.Type {
		case format.EventError:
			return ev.Err

		case format.EventMessageStart:
			id, model = ev.ResponseID, ev.Model

		case format.EventContentBlockDelta:
			if ev.DeltaKind == format.DeltaThinkingSig {
				pendingSig = ev.ThinkingSignature
				continue
			}

			if ev.DeltaKind == format.DeltaThinking && xmlEnabled {
				text := ev.TextDelta
				if !thinkingOpen {
					text = fmt.Sprintf("<thinking signature=%q>", pendingSig) + text
					thinkingOpen = true
				}
				if err := emitContent(text); err != nil {
					return err
				}
				continue
			}

			if err := closeThinking(); err != nil {
				return err
			}

			var delta map[string]any
			switch ev.DeltaKind {
			case format.DeltaText, format.DeltaThinking:
				delta = map[string]any{"content": ev.TextDelta}
			case format.DeltaInputJSON:
				delta = map[string]any{"tool_calls": []any{map[string]any{
					"index": max(0, ev.BlockIndex-1),
					"function": map[string]any{"arguments": ev.JSONDelta},
				}}}
			default:
				continue
			}
			if ev.BlockType == format.BlockToolUse && (ev.ToolCallID != "" || ev.ToolCallName != "") {
				delta = map[string]any{"tool_calls": []any{map[string]any{
					"index": max(0, ev.BlockIndex-1), "id": ev.ToolCallID, "type": "function",
					"function": map[string]any{"name": ev.ToolCallName},
				}}}
			}
			if err := writeSSE(w, flusher, "", map[string]any{
				"id": id, "object": "chat.completion.chunk", "model": model,
				"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": nil}},
			}); err != nil {
				return err
			}

		case format.EventMessageDelta:
			if ev.Usage.TotalTokens > 0 {
				usage = ev.Usage
				haveUsage = true
			}
			if ev.StopReason != "" {
				reason := stopReasonToChat(ev.StopReason)
				if err := finish(&reason); err != nil {
					return err
				}
			}

		case format.EventMessageStop:
			return closeThinking()
		}
	}
	return closeThinking()
}

func writeResponsesStream(w http.ResponseWriter, flusher http.Flusher, stream format.Stream) error {
	var id, model string

	for ev := range stream.Events {
		switch ev.Type {
		case format.EventError:
			return ev.Err

		case format.EventMessageStart:
			id, model = ev.ResponseID, ev.Model
			if err := writeSSE(w, flusher, "", map[string]any{
				"type": "response.created",
				"response": map[string]any{"id": id, "model": model, "status": "in_progress"},
			}); err != nil {
				return err
			}

		case format.EventContentBlockDelta:
			eventType := "response.output_text.delta"
			if ev.DeltaKind == format.DeltaThinking {
				eventType = "response.reasoning_summary_text.delta"
			}
			if ev.TextDelta == "" {
				continue
			}
			if err := writeSSE(w, flusher, "", map[string]any{"type": eventType, "delta": ev.TextDelta}); err != nil {
				return err
			}

		case format.EventMessageDelta:
			status := "completed"
			if ev.StopReason == format.StopMaxTokens {
				status = "incomplete"
			}
			if err := writeSSE(w, flusher, "", map[string]any{
				"type": "response." + status,
				"response": map[string]any{
					"id": id, "model": model, "status": status, "usage": usageToResponses(ev.Usage),
				},
			}); err != nil {
				return err
			}

		case format.EventMessageStop:
			return nil
		}
	}
	return nil
}
