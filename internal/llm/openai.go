package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider drives decisions through the OpenAI chat completion
// API using native tool calling.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(settings model.LLMSettings) (*OpenAIProvider, error) {
	if !settings.Configured() {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}

	m := settings.Model
	if m == "" {
		m = defaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  m,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Decide implements Provider.
func (p *OpenAIProvider) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	start := time.Now()
	tag := guardTag()

	tools := make([]openai.Tool, 0, 4)
	for _, t := range toolset(req.AllowLearning) {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req, tag)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req, tag)},
		},
		Tools:       tools,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	choice := resp.Choices[0]
	decision := &Decision{
		Reasoning: choice.Message.Content,
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Latency:   time.Since(start),
	}

	for _, call := range choice.Message.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		action, serr := DecodeToolCall(call.Function.Name, []byte(call.Function.Arguments), req.AllowLearning)
		if serr != nil {
			decision.Rejected = append(decision.Rejected, serr)
			continue
		}
		decision.Actions = append(decision.Actions, action)
	}

	return decision, nil
}

// Summarize implements Provider.
func (p *OpenAIProvider) Summarize(ctx context.Context, subject string, lines []string) (string, error) {
	tag := guardTag()
	system, user := buildSummaryPrompt(subject, lines, tag)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
