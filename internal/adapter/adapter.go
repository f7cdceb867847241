// Package adapter implements the per-provider request shaping described in
// spec.md §4.8 (C8): path rewriting, header construction (including the
// client-identity-masquerade headers each provider's OAuth tier expects),
// Claude-Code system-prompt injection, model aliasing, and upstream usage
// extraction. It sits between the format translator and the streaming
// proxy in the request pipeline.
package adapter

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ccproxy-go/ccproxy/internal/format"
)

// Provider names one of the four upstreams this gateway speaks to natively.
type Provider string

const (
	ProviderAnthropicAPI  Provider = "anthropic-api"
	ProviderOpenAI        Provider = "openai"
	ProviderGitHubCopilot Provider = "github-copilot"
	ProviderClaudeCodeCLI Provider = "claude-code-cli"
)

// HeaderMode selects how aggressively an Adapter impersonates the
// provider's official client (spec.md §4.8).
type HeaderMode string

const (
	// HeaderModeFull injects the complete client-identity header set: beta
	// flags, User-Agent masquerade, X-Stainless-* telemetry headers.
	HeaderModeFull HeaderMode = "full"
	// HeaderModeMinimal keeps only Authorization + anthropic-version +
	// the oauth beta flag + Content-Type/Accept.
	HeaderModeMinimal HeaderMode = "minimal"
	// HeaderModePassthrough strips client-supplied auth headers, as every
	// mode does, and injects nothing.
	HeaderModePassthrough HeaderMode = "passthrough"
)

// Adapter holds one provider's static shaping rules.
type Adapter struct {
	Provider     Provider
	BaseURL      string
	HeaderMode   HeaderMode
	APIVersion   string   // anthropic-version header value
	BetaFlags    []string // anthropic-beta header values, comma-joined
	UserAgent    string
	AppHeader    string // "x-app" header value, when set
	ModelAliases map[string]string // OpenAI-style prefix -> native model, longest-prefix-match
	InjectClaudeCodeSystemPrompt bool
}

// claudeCodeSystemPrompt is the fixed text Anthropic's own Claude Code CLI
// sends as the first system block, which the gateway must replicate so the
// provider's OAuth-tier usage policy recognizes the traffic as CLI-originated.
const claudeCodeSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

// AnthropicAPI returns the adapter for direct Anthropic API access via the
// Claude Code OAuth credential (spec.md §4.8's header-masquerade mode).
func AnthropicAPI(baseURL string) *Adapter {
	return &Adapter{
		Provider:   ProviderAnthropicAPI,
		BaseURL:    baseURL,
		HeaderMode: HeaderModeFull,
		APIVersion: "2023-06-01",
		BetaFlags:  []string{"claude-code-20250219", "oauth-2025-04-20", "interleaved-thinking-2025-05-14"},
		UserAgent:  "claude-cli/1.0.0 (external, cli)",
		AppHeader:  "cli",
		ModelAliases: map[string]string{
			"gpt-4o-mini": "claude-3-5-haiku-latest",
			"gpt-4o":      "claude-3-5-sonnet-latest",
			"o1-mini":     "claude-sonnet-4-20250514",
			"o1":          "claude-opus-4-20250514",
		},
		InjectClaudeCodeSystemPrompt: true,
	}
}

// AnthropicAPIMinimal is AnthropicAPI's minimal-header counterpart, used
// when the caller supplies its own Anthropic API key rather than an OAuth
// credential (spec.md §4.8 "minimal mode").
func AnthropicAPIMinimal(baseURL string) *Adapter {
	return &Adapter{
		Provider:   ProviderAnthropicAPI,
		BaseURL:    baseURL,
		HeaderMode: HeaderModeMinimal,
		APIVersion: "2023-06-01",
		BetaFlags:  []string{"oauth-2025-04-20"},
	}
}

// OpenAI returns the adapter for OpenAI's own API (model names pass through
// unchanged; no Claude Code system-prompt injection applies).
func OpenAI(baseURL string) *Adapter {
	return &Adapter{Provider: ProviderOpenAI, BaseURL: baseURL, HeaderMode: HeaderModeFull, UserAgent: "OpenAI/Go"}
}

// GitHubCopilot returns the adapter for the Copilot chat-completions proxy
// endpoint, which requires its own editor-identity headers.
func GitHubCopilot(baseURL string) *Adapter {
	return &Adapter{
		Provider:   ProviderGitHubCopilot,
		BaseURL:    baseURL,
		HeaderMode: HeaderModeFull,
		UserAgent:  "GitHubCopilotChat/0.26.7",
		AppHeader:  "copilot-chat",
	}
}

// ClaudeCodeCLI returns the adapter used for the `/claude/v1/*` passthrough
// surface that forwards to Anthropic using local Claude-Code-CLI credentials.
func ClaudeCodeCLI(baseURL string) *Adapter {
	return &Adapter{
		Provider:                     ProviderClaudeCodeCLI,
		BaseURL:                      baseURL,
		HeaderMode:                   HeaderModeFull,
		APIVersion:                   "2023-06-01",
		BetaFlags:                    []string{"claude-code-20250219", "oauth-2025-04-20"},
		UserAgent:                    "claude-cli/1.0.0 (external, cli)",
		AppHeader:                    "cli",
		InjectClaudeCodeSystemPrompt: true,
	}
}

// TransformPath rewrites an ingress path to the upstream path this adapter
// expects, stripping gateway-only prefixes (spec.md §4.8/§4.10).
func (a *Adapter) TransformPath(ingressPath string) string {
	switch {
	case strings.HasPrefix(ingressPath, "/unclaude"):
		return strings.TrimPrefix(ingressPath, "/unclaude")
	case strings.HasPrefix(ingressPath, "/claude/v1"):
		return strings.TrimPrefix(ingressPath, "/claude")
	case strings.HasPrefix(ingressPath, "/codex"):
		return strings.TrimPrefix(ingressPath, "/codex")
	case strings.HasPrefix(ingressPath, "/copilot/v1"):
		return strings.TrimPrefix(ingressPath, "/copilot")
	case ingressPath == "/v1/chat/completions", ingressPath == "/v1/responses":
		return "/v1/messages"
	default:
		return ingressPath
	}
}

// ApplyHeaders strips client-supplied auth headers from req and injects the
// ones this adapter's HeaderMode calls for, per spec.md §4.8. token is the
// bearer credential the auth manager resolved for this request.
func (a *Adapter) ApplyHeaders(req *http.Request, token string) {
	req.Header.Del("Authorization")
	req.Header.Del("X-Api-Key")
	req.Header.Del("Api-Key")

	if a.HeaderMode == HeaderModePassthrough {
		return
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.APIVersion != "" {
		req.Header.Set("anthropic-version", a.APIVersion)
	}

	if a.HeaderMode == HeaderModeMinimal {
		if len(a.BetaFlags) > 0 {
			req.Header.Set("anthropic-beta", "oauth-2025-04-20")
		}
		return
	}

	if len(a.BetaFlags) > 0 {
		req.Header.Set("anthropic-beta", strings.Join(a.BetaFlags, ","))
	}
	if a.UserAgent != "" {
		req.Header.Set("User-Agent", a.UserAgent)
	}
	if a.AppHeader != "" {
		req.Header.Set("x-app", a.AppHeader)
	}
	req.Header.Set("X-Stainless-Lang", "js")
	req.Header.Set("X-Stainless-Runtime", "node")
}

// ResolveModel maps req.Model to this adapter's native model name by
// longest-prefix match over ModelAliases, leaving the name unchanged when no
// alias applies (spec.md §4.8 "Anthropic model names pass through unchanged").
func (a *Adapter) ResolveModel(model string) string {
	if len(a.ModelAliases) == 0 {
		return model
	}
	prefixes := make([]string, 0, len(a.ModelAliases))
	for p := range a.ModelAliases {
		if strings.HasPrefix(model, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return model
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return a.ModelAliases[prefixes[0]]
}

// ApplyBodyTransform mutates req in place: resolves the model alias and, in
// full header mode only, injects the Claude Code system-prompt block as the
// first system entry unless it is already first (spec.md §4.8).
func (a *Adapter) ApplyBodyTransform(req *format.Request) {
	req.Model = a.ResolveModel(req.Model)

	if !a.InjectClaudeCodeSystemPrompt || a.HeaderMode != HeaderModeFull {
		return
	}
	if strings.HasPrefix(req.System, claudeCodeSystemPrompt) {
		return
	}
	if req.System == "" {
		req.System = claudeCodeSystemPrompt
		return
	}
	req.System = claudeCodeSystemPrompt + "\n\n" + req.System
}
