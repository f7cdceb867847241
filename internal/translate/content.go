package translate

import (
	"encoding/json"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// isJSONString reports whether raw is a JSON string literal (vs an array or
// object), used to disambiguate Anthropic's system and Responses' input
// fields which both accept either shape.
func isJSONString(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			return true
		default:
			return false
		}
	}
	return false
}

func decodeTextOrBlocks(raw json.RawMessage) string {
	if isJSONString(raw) {
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	}
	var blocks []anthropicTextBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if out != "" {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

func decodeStringOrSlice(raw json.RawMessage) []string {
	if isJSONString(raw) {
		var s string
		_ = json.Unmarshal(raw, &s)
		return []string{s}
	}
	var ss []string
	_ = json.Unmarshal(raw, &ss)
	return ss
}

func decodeTextOrParts(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if isJSONString(raw) {
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	}
	var parts []chatContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

func chatContentToBlocks(raw json.RawMessage) []format.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	if isJSONString(raw) {
		var s string
		_ = json.Unmarshal(raw, &s)
		if s == "" {
			return nil
		}
		return []format.ContentBlock{{Type: format.BlockText, Text: s}}
	}
	var parts []chatContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var blocks []format.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, format.ContentBlock{Type: format.BlockText, Text: p.Text})
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			blocks = append(blocks, format.ContentBlock{Type: format.BlockImage, Image: &format.ImageSource{Type: "url", URL: url}})
		}
	}
	return blocks
}

// anthropicContentToBlocks decodes an Anthropic message's content field,
// which is either a bare string or an array of typed content blocks.
func anthropicContentToBlocks(raw json.RawMessage) ([]format.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if isJSONString(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []format.ContentBlock{{Type: format.BlockText, Text: s}}, nil
	}

	var wireBlocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &wireBlocks); err != nil {
		return nil, err
	}

	var blocks []format.ContentBlock
	for _, wb := range wireBlocks {
		switch wb.Type {
		case "text":
			blocks = append(blocks, format.ContentBlock{Type: format.BlockText, Text: wb.Text})
		case "image":
			img := &format.ImageSource{Type: "base64"}
			if wb.Source != nil {
				img.MediaType = wb.Source.MediaType
				img.Data = wb.Source.Data
			}
			blocks = append(blocks, format.ContentBlock{Type: format.BlockImage, Image: img})
		case "tool_use":
			var input any
			if len(wb.Input) > 0 {
				_ = json.Unmarshal(wb.Input, &input)
			}
			blocks = append(blocks, format.ContentBlock{Type: format.BlockToolUse, ToolUseID: wb.ID, ToolName: wb.Name, ToolInput: input})
		case "tool_result":
			blocks = append(blocks, format.ContentBlock{
				Type:            format.BlockToolResult,
				ToolResultForID: wb.ToolUseID,
				ToolResultText:  decodeTextOrParts(wb.Content),
				ToolResultError: wb.IsError,
			})
		case "thinking":
			blocks = append(blocks, format.ContentBlock{Type: format.BlockThinking, ThinkingText: wb.Text})
		}
	}
	return blocks, nil
}

func blocksToAnthropicContent(blocks []format.ContentBlock) (json.RawMessage, error) {
	var wire []anthropicContentBlock
	for _, b := range blocks {
		switch b.Type {
		case format.BlockText:
			wire = append(wire, anthropicContentBlock{Type: "text", Text: b.Text})
		case format.BlockImage:
			if b.Image != nil && b.Image.Type == "base64" {
				wire = append(wire, anthropicContentBlock{Type: "image", Source: &anthropicImageSource{Type: "base64", MediaType: b.Image.MediaType, Data: b.Image.Data}})
			} else {
				url := ""
				if b.Image != nil {
					url = b.Image.URL
				}
				wire = append(wire, anthropicContentBlock{Type: "text", Text: "[image: " + url + "]"})
			}
		case format.BlockToolUse:
			inputRaw, _ := json.Marshal(b.ToolInput)
			wire = append(wire, anthropicContentBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: inputRaw})
		case format.BlockToolResult:
			contentRaw, _ := json.Marshal(b.ToolResultText)
			wire = append(wire, anthropicContentBlock{Type: "tool_result", ToolUseID: b.ToolResultForID, Content: contentRaw, IsError: b.ToolResultError})
		case format.BlockThinking:
			wire = append(wire, anthropicContentBlock{Type: "thinking", Text: b.ThinkingText})
		}
	}
	return json.Marshal(wire)
}

// blocksToChatMsg renders one format.Message into its primary chat message
// plus any tool-result blocks it carried, which OpenAI-Chat requires as
// separate role:"tool" messages rather than inline content parts.
func blocksToChatMsg(m format.Message) (chatMsg, []chatMsg) {
	cm := chatMsg{Role: m.Role}

	var textParts []chatContentPart
	var toolCalls []chatToolCall
	var toolResults []chatMsg

	for _, b := range m.Content {
		switch b.Type {
		case format.BlockText:
			textParts = append(textParts, chatContentPart{Type: "text", Text: b.Text})
		case format.BlockThinking:
			// OpenAI-Chat has no thinking block; fold in as XML-tagged text
			// per spec.md §4.5's reasoning round-trip toggle.
			textParts = append(textParts, chatContentPart{Type: "text", Text: "<thinking>" + b.ThinkingText + "</thinking>"})
		case format.BlockImage:
			url := ""
			if b.Image != nil {
				if b.Image.Type == "base64" {
					url = "data:" + b.Image.MediaType + ";base64," + b.Image.Data
				} else {
					url = b.Image.URL
				}
			}
			textParts = append(textParts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: url}})
		case format.BlockToolUse:
			argsRaw, _ := json.Marshal(b.ToolInput)
			toolCalls = append(toolCalls, chatToolCall{ID: b.ToolUseID, Type: "function", Function: chatFunctionCall{Name: b.ToolName, Arguments: string(argsRaw)}})
		case format.BlockToolResult:
			contentRaw, _ := json.Marshal(b.ToolResultText)
			toolResults = append(toolResults, chatMsg{Role: "tool", ToolCallID: b.ToolResultForID, Content: contentRaw})
		}
	}

	if len(textParts) == 1 && textParts[0].Type == "text" {
		raw, _ := json.Marshal(textParts[0].Text)
		cm.Content = raw
	} else if len(textParts) > 0 {
		raw, _ := json.Marshal(textParts)
		cm.Content = raw
	}
	cm.ToolCalls = toolCalls

	return cm, toolResults
}

func anthropicToolChoiceType(t string) format.ToolChoiceType {
	switch t {
	case "any":
		return format.ToolChoiceAny
	case "tool":
		return format.ToolChoiceSpecific
	case "none":
		return format.ToolChoiceNone
	default:
		return format.ToolChoiceAuto
	}
}

func formatToolChoiceToAnthropic(t format.ToolChoiceType) string {
	switch t {
	case format.ToolChoiceAny:
		return "any"
	case format.ToolChoiceSpecific:
		return "tool"
	case format.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

// decodeChatToolChoice parses OpenAI's tool_choice, which is either the bare
// strings "auto"/"none"/"required" or {"type":"function","function":{"name":...}}.
func decodeChatToolChoice(raw json.RawMessage) *format.ToolChoice {
	if isJSONString(raw) {
		var s string
		_ = json.Unmarshal(raw, &s)
		switch s {
		case "required":
			return &format.ToolChoice{Type: format.ToolChoiceAny}
		case "none":
			return &format.ToolChoice{Type: format.ToolChoiceNone}
		default:
			return &format.ToolChoice{Type: format.ToolChoiceAuto}
		}
	}
	var obj struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &format.ToolChoice{Type: format.ToolChoiceAuto}
	}
	return &format.ToolChoice{Type: format.ToolChoiceSpecific, Name: obj.Function.Name}
}

func encodeChatToolChoice(tc *format.ToolChoice) json.RawMessage {
	switch tc.Type {
	case format.ToolChoiceAny:
		raw, _ := json.Marshal("required")
		return raw
	case format.ToolChoiceNone:
		raw, _ := json.Marshal("none")
		return raw
	case format.ToolChoiceSpecific:
		raw, _ := json.Marshal(map[string]any{"type": "function", "function": map[string]string{"name": tc.Name}})
		return raw
	default:
		raw, _ := json.Marshal("auto")
		return raw
	}
}
