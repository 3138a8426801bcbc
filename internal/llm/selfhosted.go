package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// selfHostedProvider talks to an OpenAI-compatible endpoint (vLLM, NIM)
// over plain HTTP. It does not assume vendor extensions beyond the
// /chat/completions contract.
type selfHostedProvider struct {
	baseURL    string
	apiKey     string
	model      string
	cfg        ProviderConfig
	httpClient *http.Client
	cache      *cacheTracker
}

// normalizeBaseURL strips trailing slashes and a trailing
// "/chat/completions" suffix so the path is never doubled when the
// provider appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

func newSelfHostedProvider(cfg ProviderConfig) (*selfHostedProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: self-hosted provider requires a base URL")
	}
	p := &selfHostedProvider{
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	if cfg.MetricsURL != "" {
		p.cache = newCacheTracker(cfg.MetricsURL)
	}
	return p, nil
}

func (p *selfHostedProvider) Model() string { return p.model }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFuncCall `json:"function"`
}

type wireFuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *selfHostedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	var tools []wireTool
	for _, t := range req.Tools {
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFuncCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		msgs = append(msgs, wm)
	}
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	var out *ChatResponse
	err = WithRetry(ctx, p.cfg.Retry, func() error {
		start := time.Now()
		resp, err := p.doOnce(ctx, payload)
		if err != nil {
			return err
		}
		resp.Meta.LatencyMs = time.Since(start).Milliseconds()
		out = resp
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if p.cache != nil {
		out.Meta.CacheHitRate = p.cache.sample(ctx)
	}
	return out, nil
}

func (p *selfHostedProvider) doOnce(ctx context.Context, payload []byte) (*ChatResponse, error) {
	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}
	out := &ChatResponse{
		Content: chatResp.Choices[0].Message.Content,
		Usage:   chatResp.Usage,
	}
	for _, tc := range chatResp.Choices[0].Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}
