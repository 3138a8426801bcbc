package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o"

// openAIProvider is the hosted vendor backend.
type openAIProvider struct {
	client *openai.Client
	model  string
	cfg    ProviderConfig
}

func newOpenAIProvider(cfg ProviderConfig) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai provider requires an API key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		cfg:    cfg,
	}, nil
}

func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}
	var tools []openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	var out *ChatResponse
	err := WithRetry(ctx, p.cfg.Retry, func() error {
		start := time.Now()
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.model,
			Messages:    msgs,
			Tools:       tools,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return asStatusError(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llm: no choices in response")
		}
		choice := resp.Choices[0].Message
		out = &ChatResponse{
			Content: choice.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
			Meta: Meta{LatencyMs: time.Since(start).Milliseconds()},
		}
		for _, tc := range choice.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	return out, nil
}

// asStatusError normalizes the client library's API errors so retry
// decisions use the HTTP status code.
func asStatusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	return err
}
