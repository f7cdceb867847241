package translate

import "github.com/ccproxy-go/ccproxy/internal/format"

// TranslateRequest converts a wire-format request body from source to
// target, returning both the re-serialized bytes and the neutral Request
// (the router applies the adapter's body transform to the latter and reads
// its Stream flag without re-parsing). When source == target it still round-trips
// through the neutral form — callers that need byte-exact passthrough
// should check source == target themselves and skip calling this at all
// (spec.md §4.5's passthrough requirement applies to the stream path, where
// byte-exact SSE framing actually matters to clients).
func TranslateRequest(source, target format.Kind, raw []byte) ([]byte, *format.Request, error) {
	req, err := ParseRequest(source, raw)
	if err != nil {
		return nil, nil, err
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	out, err := SerializeRequest(target, req)
	if err != nil {
		return nil, nil, err
	}
	return out, req, nil
}

// TranslateResponse converts a wire-format non-streaming response body from
// source to target.
func TranslateResponse(source, target format.Kind, raw []byte) ([]byte, error) {
	resp, err := ParseResponse(source, raw)
	if err != nil {
		return nil, err
	}
	return SerializeResponse(target, resp)
}

// defaultMaxTokens mirrors the teacher's anthropic adapter default: Anthropic
// requires max_tokens and OpenAI-Chat/Responses callers routinely omit it.
const defaultMaxTokens = 4096
