package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// ParseStream launches a goroutine that scans body as kind's SSE framing and
// emits normalized format.Events on the returned Stream, following the
// teacher's anthropic/google provider adapters: a bufio.Scanner loop whose
// scanner.Err() is surfaced as a terminal EventError, and a clean end of
// input without a terminal frame closed with EventMessageStop. ParseStream
// only reads body; closing it is the caller's responsibility. It takes no
// context: every channel send blocks until the consumer receives, so a
// consumer that stops reading before the channel is closed leaves the
// goroutine blocked.
func ParseStream(kind format.Kind, body io.Reader) format.Stream {
	ch := make(chan format.Event, 16)

	go func() {
		defer close(ch)

		switch kind {
		case format.Anthropic:
			scanAnthropicStream(body, ch)
		case format.OpenAIChat:
			scanChatStream(body, ch)
		case format.OpenAIResponses:
			scanResponsesStream(body, ch)
		default:
			ch <- format.Event{Type: format.EventError, Err: fmt.Errorf("translate: unknown stream source kind %q", kind)}
		}
	}()

	return format.Stream{Events: ch}
}

func scanAnthropicStream(body io.Reader, ch chan<- format.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var toolIndex = map[int]struct {
		id, name string
	}{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var wire struct {
			Type  string `json:"type"`
			Index int    `json:"index"`
			Message *struct {
				ID    string         `json:"id"`
				Model string         `json:"model"`
				Usage anthropicUsage `json:"usage"`
			} `json:"message"`
			ContentBlock *struct {
				Type  string          `json:"type"`
				ID    string          `json:"id,omitempty"`
				Name  string          `json:"name,omitempty"`
				Text  string          `json:"text,omitempty"`
				Input json.RawMessage `json:"input,omitempty"`
			} `json:"content_block"`
			Delta *struct {
				Type        string `json:"type,omitempty"`
				Text        string `json:"text,omitempty"`
				PartialJSON string `json:"partial_json,omitempty"`
				StopReason  string `json:"stop_reason,omitempty"`
				Signature   string `json:"signature,omitempty"`
				Thinking    string `json:"thinking,omitempty"`
			} `json:"delta"`
			Usage *anthropicUsage `json:"usage,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}

		switch wire.Type {
		case "message_start":
			if wire.Message == nil {
				continue
			}
			if !send(ch, format.Event{
				Type: format.EventMessageStart, ResponseID: wire.Message.ID, Model: wire.Message.Model,
				Usage: usageFromAnthropic(wire.Message.Usage),
			}) {
				return
			}

		case "content_block_start":
			if wire.ContentBlock == nil {
				continue
			}
			ev := format.Event{Type: format.EventContentBlockStart, BlockIndex: wire.Index}
			switch wire.ContentBlock.Type {
			case "tool_use":
				ev.BlockType = format.BlockToolUse
				ev.ToolCallID = wire.ContentBlock.ID
				ev.ToolCallName = wire.ContentBlock.Name
				toolIndex[wire.Index] = struct{ id, name string }{wire.ContentBlock.ID, wire.ContentBlock.Name}
			case "thinking":
				ev.BlockType = format.BlockThinking
			default:
				ev.BlockType = format.BlockText
			}
			if !send(ch, ev) {
				return
			}

		case "content_block_delta":
			if wire.Delta == nil {
				continue
			}
			ev := format.Event{Type: format.EventContentBlockDelta, BlockIndex: wire.Index}
			switch wire.Delta.Type {
			case "text_delta":
				ev.DeltaKind = format.DeltaText
				ev.TextDelta = wire.Delta.Text
			case "input_json_delta":
				ev.DeltaKind = format.DeltaInputJSON
				ev.JSONDelta = wire.Delta.PartialJSON
			case "thinking_delta":
				ev.DeltaKind = format.DeltaThinking
				ev.TextDelta = wire.Delta.Thinking
			case "signature_delta":
				ev.DeltaKind = format.DeltaThinkingSig
				ev.ThinkingSignature = wire.Delta.Signature
			default:
				continue
			}
			if !send(ch, ev) {
				return
			}

		case "content_block_stop":
			if !send(ch, format.Event{Type: format.EventContentBlockStop, BlockIndex: wire.Index}) {
				return
			}

		case "message_delta":
			ev := format.Event{Type: format.EventMessageDelta}
			if wire.Delta != nil {
				ev.StopReason = stopReasonFromAnthropic(wire.Delta.StopReason)
			}
			if wire.Usage != nil {
				ev.Usage = usageFromAnthropic(*wire.Usage)
			}
			if !send(ch, ev) {
				return
			}

		case "message_stop":
			send(ch, format.Event{Type: format.EventMessageStop})
			return

		default:
			// ping and other unhandled event types carry nothing we track.
		}
	}

	if err := scanner.Err(); err != nil {
		send(ch, format.Event{Type: format.EventError, Err: fmt.Errorf("translate: reading anthropic stream: %w", err)})
		return
	}
	send(ch, format.Event{Type: format.EventMessageStop})
}

func scanChatStream(body io.Reader, ch chan<- format.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	started := false
	toolNames := map[int]string{}
	toolIDs := map[int]string{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			send(ch, format.Event{Type: format.EventMessageStop})
			return
		}
		if data == "" {
			continue
		}

		var wire struct {
			ID      string `json:"id"`
			Model   string `json:"model"`
			Choices []struct {
				Index int `json:"index"`
				Delta struct {
					Content   string `json:"content,omitempty"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id,omitempty"`
						Function struct {
							Name      string `json:"name,omitempty"`
							Arguments string `json:"arguments,omitempty"`
						} `json:"function"`
					} `json:"tool_calls,omitempty"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *chatUsage `json:"usage,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}

		if !started {
			started = true
			if !send(ch, format.Event{Type: format.EventMessageStart, ResponseID: wire.ID, Model: wire.Model}) {
				return
			}
		}

		if wire.Usage != nil {
			if !send(ch, format.Event{Type: format.EventMessageDelta, Usage: usageFromChat(*wire.Usage)}) {
				return
			}
		}

		for _, c := range wire.Choices {
			if c.Delta.Content != "" {
				if !send(ch, format.Event{Type: format.EventContentBlockDelta, BlockIndex: 0, DeltaKind: format.DeltaText, TextDelta: c.Delta.Content}) {
					return
				}
			}
			for _, tc := range c.Delta.ToolCalls {
				if tc.ID != "" {
					toolIDs[tc.Index] = tc.ID
				}
				if tc.Function.Name != "" {
					toolNames[tc.Index] = tc.Function.Name
				}
				if tc.ID != "" || tc.Function.Name != "" {
					if !send(ch, format.Event{
						Type: format.EventContentBlockStart, BlockIndex: tc.Index + 1, BlockType: format.BlockToolUse,
						ToolCallID: toolIDs[tc.Index], ToolCallName: toolNames[tc.Index],
					}) {
						return
					}
				}
				if tc.Function.Arguments != "" {
					if !send(ch, format.Event{Type: format.EventContentBlockDelta, BlockIndex: tc.Index + 1, DeltaKind: format.DeltaInputJSON, JSONDelta: tc.Function.Arguments}) {
						return
					}
				}
			}
			if c.FinishReason != nil {
				if !send(ch, format.Event{Type: format.EventMessageDelta, StopReason: stopReasonFromChat(*c.FinishReason)}) {
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(ch, format.Event{Type: format.EventError, Err: fmt.Errorf("translate: reading chat stream: %w", err)})
		return
	}
	send(ch, format.Event{Type: format.EventMessageStop})
}

func scanResponsesStream(body io.Reader, ch chan<- format.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}

		var wire struct {
			Type     string `json:"type"`
			Response *struct {
				ID    string          `json:"id"`
				Model string          `json:"model"`
				Usage responsesUsage `json:"usage"`
				Status string         `json:"status"`
				Error *struct {
					Message string `json:"message"`
				} `json:"error,omitempty"`
			} `json:"response"`
			Delta string `json:"delta,omitempty"`
			Item  *struct {
				Type string `json:"type"`
			} `json:"item,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}

		switch wire.Type {
		case "response.created":
			if wire.Response != nil {
				if !send(ch, format.Event{Type: format.EventMessageStart, ResponseID: wire.Response.ID, Model: wire.Response.Model}) {
					return
				}
			}
		case "response.output_text.delta":
			if !send(ch, format.Event{Type: format.EventContentBlockDelta, BlockIndex: 0, DeltaKind: format.DeltaText, TextDelta: wire.Delta}) {
				return
			}
		case "response.reasoning_summary_text.delta":
			if !send(ch, format.Event{Type: format.EventContentBlockDelta, BlockIndex: 1, DeltaKind: format.DeltaThinking, TextDelta: wire.Delta}) {
				return
			}
		case "response.completed", "response.incomplete":
			if wire.Response != nil {
				ev := format.Event{Type: format.EventMessageDelta, Usage: usageFromResponses(wire.Response.Usage)}
				if wire.Response.Status == "incomplete" {
					ev.StopReason = format.StopMaxTokens
				} else {
					ev.StopReason = format.StopEndTurn
				}
				if !send(ch, ev) {
					return
				}
			}
			send(ch, format.Event{Type: format.EventMessageStop})
			return

		case "response.failed":
			msg := "upstream response failed"
			if wire.Response != nil && wire.Response.Error != nil && wire.Response.Error.Message != "" {
				msg = wire.Response.Error.Message
			}
			send(ch, format.Event{Type: format.EventError, Err: fmt.Errorf("translate: responses stream failed: %s", msg)})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(ch, format.Event{Type: format.EventError, Err: fmt.Errorf("translate: reading responses stream: %w", err)})
		return
	}
	send(ch, format.Event{Type: format.EventMessageStop})
}

// send pushes ev onto ch. The send blocks until it is received and send
// always reports true; the bool result keeps every scan* call site in the
// same `if !send(...) { return }` form.
func send(ch chan<- format.Event, ev format.Event) bool {
	ch <- ev
	return true
}
