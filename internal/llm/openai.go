package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"intake-chatbot/pkg"
)

// Config carries the settings the OpenAI client needs. Values come from
// viper in cmd/server; the zero RequestTimeout falls back to a default.
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 60 * time.Second

// OpenAIClient calls the OpenAI chat-completion API. It is the production
// Generator; tests use a scripted fake instead.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient constructs an OpenAI-backed generator. The model defaults
// to a modern small model and can be overridden via config.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}
}

// Generate sends the assembled request to the chat-completion API and maps
// the answer onto the Response union. Each call carries a hard deadline on
// top of whatever deadline the caller already set.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if c.client == nil {
		return Response{}, errors.New("openai client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemContract,
	})
	if req.ContextSummary != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.ContextSummary,
		})
	}
	for _, u := range req.History {
		role := openai.ChatMessageRoleUser
		if u.Role == pkg.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: u.Text})
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: 0.2,
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("empty completion response")
	}

	choice := resp.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			calls = append(calls, ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			})
		}
		return Response{Kind: KindToolUse, Calls: calls}, nil
	}
	return Response{Kind: KindText, Body: choice.Content}, nil
}
