// Package format defines typed representations of the three chat-completion
// wire formats this gateway speaks — Anthropic Messages, OpenAI Chat
// Completions, and OpenAI Responses — plus the stream event union and the
// normalized usage record that the translator and provider adapters share.
package format

// Kind names one of the three wire formats a request/response/stream can be
// shaped as. The router picks a source and target Kind per incoming request;
// the translator converts between them.
type Kind string

const (
	Anthropic       Kind = "anthropic"
	OpenAIChat      Kind = "openai-chat"
	OpenAIResponses Kind = "openai-responses"
)

// Usage is the normalized token/cost record every provider response is
// reduced to, regardless of wire format. cache_read_tokens/cache_write_tokens
// and reasoning_tokens are zero when the upstream provider doesn't report
// them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges another Usage's counts into this one. Used when a provider
// splits usage across multiple stream events (e.g. input tokens on
// message_start, output tokens on message_delta) and the translator needs
// to accumulate a running total.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.CacheReadTokens += o.CacheReadTokens
	u.CacheWriteTokens += o.CacheWriteTokens
	u.ReasoningTokens += o.ReasoningTokens
	u.TotalTokens += o.TotalTokens
}

// ContentBlockType enumerates the block-level content kinds a Message can
// carry. Anthropic expresses these natively as tagged content blocks;
// OpenAI-Chat and OpenAI-Responses flatten some of them into other shapes
// that the translator reconstructs.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
	BlockThinking   ContentBlockType = "thinking"
)

// ImageSource carries either a base64-inline image or a bare URL. Anthropic
// only accepts the base64 form; a URL-only image is downgraded to a text
// placeholder by the translator (spec.md §4.5).
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one piece of a Message's content. Only the fields that
// apply to Type are populated; the rest are zero values.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	Text string `json:"text,omitempty"`

	Image *ImageSource `json:"image,omitempty"`

	// ToolUse fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolInput any    `json:"tool_input,omitempty"`

	// ToolResult fields.
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`

	// Thinking fields (OpenAI-Responses reasoning round-tripped as a
	// <thinking signature="…"> block, spec.md §4.5).
	ThinkingText      string `json:"thinking_text,omitempty"`
	ThinkingSignature string `json:"thinking_signature,omitempty"`
}

// Message is the format-neutral union the translator works with internally:
// role + an ordered list of content blocks. Every wire-format request is
// parsed down to []Message before translation and re-serialized from it.
type Message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// Tool is a function/tool definition, normalized across the three formats'
// slightly different shapes (Anthropic: name/description/input_schema;
// OpenAI: function.{name,description,parameters}).
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

// ToolChoiceType enumerates the normalized tool_choice values (spec.md §4.5
// mapping table).
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceAny      ToolChoiceType = "any" // OpenAI "required"
	ToolChoiceSpecific ToolChoiceType = "tool"
)

// ToolChoice is the normalized tool_choice directive.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"` // set when Type == ToolChoiceSpecific
}

// StopReason is the normalized terminal reason a generation stopped for.
// The reverse mapping (internal/translate's stopReasonFrom* functions)
// picks the first match per spec.md
// §4.5's table.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Request is the format-neutral chat-completion request the translator
// produces and consumes. Every wire-format request/response pair is
// flattened to/from this shape; the pairwise converters in internal/translate
// operate on it rather than on every format directly, following spec.md §9's
// "OpenAI-Chat is a practical hub" guidance.
type Request struct {
	Model       string
	System      string // flattened system/instructions text
	Messages    []Message
	MaxTokens   int // required by Anthropic; defaulted if source omitted it
	Temperature *float64
	TopP        *float64
	TopK        *int
	Stream      bool
	StopSeqs    []string // ≤4, per Anthropic's limit
	Tools       []Tool
	ToolChoice  *ToolChoice

	ReasoningEffort string // "low" | "medium" | "high" | "minimal" (Responses/Chat)
}

// Response is the format-neutral non-streaming chat-completion response.
type Response struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}
