// Package llm provides chat-completion providers for query decomposition
// and answer synthesis. Two backends are supported: a hosted vendor API
// and a self-hosted OpenAI-compatible endpoint (vLLM, NIM).
package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Message is a single chat message. ToolCallID is set on tool-role
// messages carrying a tool result back to the model; ToolCalls is set on
// assistant messages that requested tools.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Role constants for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolDef describes a callable tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object.
	Parameters map[string]interface{}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ChatRequest is a provider-independent chat completion request.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Meta carries per-call observability data. CacheHitRate is a percent
// reported by the backend (self-hosted vLLM metrics) and nil when the
// backend has no counters to offer.
type Meta struct {
	CacheHitRate *float64
	LatencyMs    int64
}

// ChatResponse is the assistant's reply: either content, or one or more
// requested tool calls.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Meta      Meta
}

// Provider is a chat-completion backend.
type Provider interface {
	// Chat sends the request and returns the assistant's reply.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Model returns the model identifier used by this provider.
	Model() string
}

// ProviderConfig holds provider construction parameters.
type ProviderConfig struct {
	// Provider selects the backend: "openai" or "self-hosted".
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// MaxTokens is the default completion limit when a request leaves
	// MaxTokens at zero.
	MaxTokens int
	// MetricsURL is an optional vLLM-style /metrics endpoint scraped
	// after each call to report prefix-cache hit rates. Self-hosted
	// backend only.
	MetricsURL string
	Retry      RetryConfig
}

// NewProvider creates a Provider for the configured backend.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialWait == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIProvider(cfg)
	case "self-hosted":
		return newSelfHostedProvider(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// NewFromEnv creates a Provider from environment variables.
// USE_SELF_HOSTED_LLM=true selects the self-hosted backend, which reads
// SELF_HOSTED_BASE_URL / SELF_HOSTED_MODEL / SELF_HOSTED_API_KEY with
// fallback to the shared OPENAI_* variables. Otherwise the vendor
// backend is used with OPENAI_API_KEY / OPENAI_MODEL / OPENAI_BASE_URL.
func NewFromEnv() (Provider, error) {
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return os.Getenv(fallback)
	}
	cfg := ProviderConfig{Retry: DefaultRetryConfig()}
	if useSelfHosted() {
		cfg.Provider = "self-hosted"
		cfg.BaseURL = get("SELF_HOSTED_BASE_URL", "OPENAI_BASE_URL")
		cfg.Model = get("SELF_HOSTED_MODEL", "OPENAI_MODEL")
		cfg.APIKey = get("SELF_HOSTED_API_KEY", "OPENAI_API_KEY")
		cfg.MetricsURL = os.Getenv("SELF_HOSTED_METRICS_URL")
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: USE_SELF_HOSTED_LLM is set but SELF_HOSTED_BASE_URL is empty")
		}
	} else {
		cfg.Provider = "openai"
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.Model = os.Getenv("OPENAI_MODEL")
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY is not set")
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTokens = n
		}
	}
	return NewProvider(cfg)
}

func useSelfHosted() bool {
	switch os.Getenv("USE_SELF_HOSTED_LLM") {
	case "1", "true", "TRUE", "True", "yes":
		return true
	}
	return false
}
