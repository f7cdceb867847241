package adapter

import (
	"github.com/ccproxy-go/ccproxy/internal/format"
	"github.com/ccproxy-go/ccproxy/internal/reqcontext"
)

// ExtractUsage merges a complete response's usage (or a stream's final
// accumulated usage) into the request's ambient Metadata, per spec.md §4.8
// "Usage extraction". rc may be nil in tests that don't wire reqcontext.
func ExtractUsage(rc *reqcontext.RequestContext, model string, usage format.Usage) {
	if rc == nil || rc.Metadata == nil {
		return
	}
	rc.Metadata.MergeUsage(usage)
	if model != "" {
		rc.Metadata.Model = model
	}
}
