package translate

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// ParseRequest decodes a wire-format request body into the neutral
// format.Request hub shape (spec.md §4.5 "parse" half of every conversion).
func ParseRequest(kind format.Kind, raw []byte) (*format.Request, error) {
	switch kind {
	case format.Anthropic:
		return parseAnthropicRequest(raw)
	case format.OpenAIChat:
		return parseChatRequest(raw)
	case format.OpenAIResponses:
		return parseResponsesRequest(raw)
	default:
		return nil, fmt.Errorf("translate: unknown source kind %q", kind)
	}
}

// SerializeRequest encodes the neutral hub request into kind's wire shape.
func SerializeRequest(kind format.Kind, req *format.Request) ([]byte, error) {
	switch kind {
	case format.Anthropic:
		return serializeAnthropicRequest(req)
	case format.OpenAIChat:
		return serializeChatRequest(req)
	case format.OpenAIResponses:
		return serializeResponsesRequest(req)
	default:
		return nil, fmt.Errorf("translate: unknown target kind %q", kind)
	}
}

// --- Anthropic ---

func parseAnthropicRequest(raw []byte) (*format.Request, error) {
	var wr anthropicRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding anthropic request: %w", err)
	}

	req := &format.Request{
		Model:       wr.Model,
		MaxTokens:   wr.MaxTokens,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		TopK:        wr.TopK,
		Stream:      wr.Stream,
		StopSeqs:    wr.StopSequences,
	}

	if len(wr.System) > 0 {
		req.System = decodeTextOrBlocks(wr.System)
	}

	for _, m := range wr.Messages {
		blocks, err := anthropicContentToBlocks(m.Content)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, format.Message{Role: m.Role, Content: blocks})
	}

	for _, t := range wr.Tools {
		var schema any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		req.Tools = append(req.Tools, format.Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	if wr.ToolChoice != nil {
		req.ToolChoice = &format.ToolChoice{Type: anthropicToolChoiceType(wr.ToolChoice.Type), Name: wr.ToolChoice.Name}
	}

	return req, nil
}

func serializeAnthropicRequest(req *format.Request) ([]byte, error) {
	wr := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Stream:        req.Stream,
		StopSequences: req.StopSeqs,
	}
	if req.System != "" {
		sysRaw, _ := json.Marshal(req.System)
		wr.System = sysRaw
	}

	for _, m := range req.Messages {
		content, err := blocksToAnthropicContent(m.Content)
		if err != nil {
			return nil, err
		}
		wr.Messages = append(wr.Messages, anthropicMsg{Role: m.Role, Content: content})
	}

	for _, t := range req.Tools {
		schemaRaw, _ := json.Marshal(t.InputSchema)
		wr.Tools = append(wr.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schemaRaw})
	}

	if req.ToolChoice != nil {
		wr.ToolChoice = &anthropicToolChoice{Type: formatToolChoiceToAnthropic(req.ToolChoice.Type), Name: req.ToolChoice.Name}
	}

	return json.Marshal(wr)
}

// --- OpenAI Chat ---

func parseChatRequest(raw []byte) (*format.Request, error) {
	var wr chatRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding chat request: %w", err)
	}

	req := &format.Request{
		Model:       wr.Model,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stream:      wr.Stream,
		ReasoningEffort: wr.ReasoningEffort,
	}
	if wr.MaxTokens != nil {
		req.MaxTokens = *wr.MaxTokens
	}
	if wr.MaxCompletionTok != nil {
		req.MaxTokens = *wr.MaxCompletionTok
	}
	if len(wr.Stop) > 0 {
		req.StopSeqs = decodeStringOrSlice(wr.Stop)
	}

	for _, m := range wr.Messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += decodeTextOrParts(m.Content)
			continue
		}
		if m.Role == "tool" {
			req.Messages = append(req.Messages, format.Message{
				Role: "user",
				Content: []format.ContentBlock{{
					Type:            format.BlockToolResult,
					ToolResultForID: m.ToolCallID,
					ToolResultText:  decodeTextOrParts(m.Content),
				}},
			})
			continue
		}

		blocks := chatContentToBlocks(m.Content)
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, format.ContentBlock{
				Type: format.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input,
			})
		}
		req.Messages = append(req.Messages, format.Message{Role: m.Role, Content: blocks})
	}

	for _, t := range wr.Tools {
		var schema any
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &schema)
		}
		req.Tools = append(req.Tools, format.Tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: schema})
	}

	if len(wr.ToolChoice) > 0 {
		req.ToolChoice = decodeChatToolChoice(wr.ToolChoice)
	}

	return req, nil
}

func serializeChatRequest(req *format.Request) ([]byte, error) {
	wr := chatRequest{
		Model:           req.Model,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Stream:          req.Stream,
		ReasoningEffort: req.ReasoningEffort,
	}
	if req.MaxTokens > 0 {
		wr.MaxTokens = &req.MaxTokens
	}
	if len(req.StopSeqs) > 0 {
		stopRaw, _ := json.Marshal(req.StopSeqs)
		wr.Stop = stopRaw
	}

	if req.System != "" {
		sysContent, _ := json.Marshal(req.System)
		wr.Messages = append(wr.Messages, chatMsg{Role: "system", Content: sysContent})
	}

	for _, m := range req.Messages {
		cm, extraToolResults := blocksToChatMsg(m)
		wr.Messages = append(wr.Messages, cm)
		wr.Messages = append(wr.Messages, extraToolResults...)
	}

	for _, t := range req.Tools {
		schemaRaw, _ := json.Marshal(t.InputSchema)
		wr.Tools = append(wr.Tools, chatTool{Type: "function", Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: schemaRaw}})
	}

	if req.ToolChoice != nil {
		wr.ToolChoice = encodeChatToolChoice(req.ToolChoice)
	}

	return json.Marshal(wr)
}

// --- OpenAI Responses ---

func parseResponsesRequest(raw []byte) (*format.Request, error) {
	var wr responsesRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("translate: decoding responses request: %w", err)
	}

	req := &format.Request{
		Model:       wr.Model,
		System:      wr.Instructions,
		Temperature: wr.Temperature,
		TopP:        wr.TopP,
		Stream:      wr.Stream,
	}
	if wr.MaxOutputTokens != nil {
		req.MaxTokens = *wr.MaxOutputTokens
	}
	if wr.Reasoning != nil {
		req.ReasoningEffort = wr.Reasoning.Effort
	}

	if len(wr.Input) > 0 {
		if isJSONString(wr.Input) {
			var text string
			_ = json.Unmarshal(wr.Input, &text)
			req.Messages = append(req.Messages, format.Message{Role: "user", Content: []format.ContentBlock{{Type: format.BlockText, Text: text}}})
		} else {
			var items []responsesInputItem
			if err := json.Unmarshal(wr.Input, &items); err != nil {
				return nil, fmt.Errorf("translate: decoding responses input: %w", err)
			}
			for _, it := range items {
				var blocks []format.ContentBlock
				for _, c := range it.Content {
					blocks = append(blocks, format.ContentBlock{Type: format.BlockText, Text: c.Text})
				}
				req.Messages = append(req.Messages, format.Message{Role: it.Role, Content: blocks})
			}
		}
	}

	for _, t := range wr.Tools {
		var schema any
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &schema)
		}
		req.Tools = append(req.Tools, format.Tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: schema})
	}

	if len(wr.ToolChoice) > 0 {
		req.ToolChoice = decodeChatToolChoice(wr.ToolChoice)
	}

	return req, nil
}

func serializeResponsesRequest(req *format.Request) ([]byte, error) {
	wr := responsesRequest{
		Model:        req.Model,
		Instructions: req.System,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		Stream:       req.Stream,
	}
	if req.MaxTokens > 0 {
		wr.MaxOutputTokens = &req.MaxTokens
	}
	if req.ReasoningEffort != "" {
		wr.Reasoning = &responsesReasoning{Effort: req.ReasoningEffort}
	}

	var items []responsesInputItem
	for _, m := range req.Messages {
		var parts []responsesContentPart
		for _, b := range m.Content {
			switch b.Type {
			case format.BlockText:
				parts = append(parts, responsesContentPart{Type: "input_text", Text: b.Text})
			case format.BlockToolResult:
				parts = append(parts, responsesContentPart{Type: "input_text", Text: b.ToolResultText})
			}
		}
		if len(parts) > 0 {
			items = append(items, responsesInputItem{Role: m.Role, Content: parts})
		}
	}
	inputRaw, _ := json.Marshal(items)
	wr.Input = inputRaw

	for _, t := range req.Tools {
		schemaRaw, _ := json.Marshal(t.InputSchema)
		wr.Tools = append(wr.Tools, chatTool{Type: "function", Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: schemaRaw}})
	}

	if req.ToolChoice != nil {
		wr.ToolChoice = encodeChatToolChoice(req.ToolChoice)
	}

	return json.Marshal(wr)
}
