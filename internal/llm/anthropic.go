package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicProvider drives decisions through the Anthropic messages
// API. Actions are requested as a strict JSON array and decoded through
// the same schema validation as native tool calls.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(settings model.LLMSettings) (*AnthropicProvider, error) {
	if !settings.Configured() {
		return nil, errors.New("Anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}

	m := settings.Model
	if m == "" {
		m = defaultAnthropicModel
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  m,
	}, nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// actionFormatInstruction tells the model how to emit tool calls as
// plain JSON. The closed tool set mirrors toolset().
func actionFormatInstruction(allowLearning bool) string {
	var b strings.Builder
	b.WriteString("\nWhen you decide to act, end your reply with a JSON array of tool calls, ")
	b.WriteString(`each shaped {"tool": "<name>", "arguments": {...}}. Available tools:` + "\n")
	for _, t := range toolset(allowLearning) {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("Emit an empty array, or no array at all, to take no action.\n")
	return b.String()
}

// Decide implements Provider.
func (p *AnthropicProvider) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	start := time.Now()
	tag := guardTag()

	system := buildSystemPrompt(req, tag) + actionFormatInstruction(req.AllowLearning)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(p.model),
		MaxTokens: anthropic.F(int64(1024)),
		System: anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.TextBlockParam{
						Type: anthropic.F(anthropic.TextBlockParamTypeText),
						Text: anthropic.F(buildUserPrompt(req, tag)),
					},
				}),
			},
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	actions, rejected := parseActionsJSON(content, req.AllowLearning)

	return &Decision{
		Actions:   actions,
		Rejected:  rejected,
		Reasoning: content,
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		Latency:   time.Since(start),
	}, nil
}

// Summarize implements Provider.
func (p *AnthropicProvider) Summarize(ctx context.Context, subject string, lines []string) (string, error) {
	tag := guardTag()
	system, user := buildSummaryPrompt(subject, lines, tag)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(p.model),
		MaxTokens: anthropic.F(int64(400)),
		System: anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			{
				Role: anthropic.F(anthropic.MessageParamRoleUser),
				Content: anthropic.F([]anthropic.ContentBlockParamUnion{
					anthropic.TextBlockParam{
						Type: anthropic.F(anthropic.TextBlockParamTypeText),
						Text: anthropic.F(user),
					},
				}),
			},
		}),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	return strings.TrimSpace(content), nil
}
