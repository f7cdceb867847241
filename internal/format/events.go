package format

// EventType tags the normalized stream event union. Anthropic, OpenAI-Chat,
// and OpenAI-Responses each serialize a different subset of these with
// different field names on the wire; internal/translate's stream state
// machines (spec.md §4.5) convert between the wire shapes through this
// neutral union, the same way Request/Response are the neutral shape for
// one-shot bodies.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventError             EventType = "error" // synthesized terminal error event
)

// DeltaType narrows an EventContentBlockDelta to the kind of incremental
// content it carries.
type DeltaType string

const (
	DeltaText       DeltaType = "text_delta"
	DeltaInputJSON  DeltaType = "input_json_delta"
	DeltaThinking   DeltaType = "thinking_delta"
	DeltaThinkingSig DeltaType = "thinking_signature_delta"
)

// Event is the single normalized stream event type. Only the fields that
// apply to Type (and, for deltas, DeltaKind) are populated.
type Event struct {
	Type EventType

	// message_start / message_stop metadata.
	ResponseID string
	Model      string
	StopReason StopReason
	Usage      Usage

	// content_block_start / content_block_delta / content_block_stop.
	BlockIndex int
	BlockType  ContentBlockType
	DeltaKind  DeltaType

	TextDelta string // DeltaText, DeltaThinking

	ToolCallID   string // content_block_start for BlockToolUse
	ToolCallName string
	JSONDelta    string // DeltaInputJSON — raw JSON text fragment, appended in order

	ThinkingSignature string // DeltaThinkingSig

	Err error // populated when Type == EventError
}

// Stream is a lazy, forward-only, non-restartable sequence of Events
// terminated by exactly one terminal event (EventMessageStop or EventError),
// per spec.md §3's StreamEvent invariant. Providers and the translator both
// produce a Stream; the streaming proxy (internal/streamproxy) consumes one
// and serializes it back out as SSE in the target format.
type Stream struct {
	Events <-chan Event
}
