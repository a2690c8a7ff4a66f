// Package llm adapts reasoning providers to the moderation pipeline.
// Providers receive a composed guild snapshot plus the triggering event
// and return strictly-validated action invocations; anything a model
// emits outside the closed tool schema is rejected here, never executed.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/model"
)

// ErrUnavailable wraps transport and provider failures so the engine
// can fall back to its degraded heuristic-only path.
var ErrUnavailable = errors.New("reasoning provider unavailable")

// DecisionRequest carries everything a provider may consider for one
// moderation decision.
type DecisionRequest struct {
	State        *model.GuildState
	Event        *model.Event
	Conversation *model.Conversation
	Matches      []heuristics.Match
	Addressed    bool

	// AllowLearning exposes the heuristic-proposal tool. Only the
	// guild-scoped learning flow sets it.
	AllowLearning bool

	// FlagReason is the moderator's explanation on the flag-triggered
	// learning path. Rendered fenced, like all free-form input.
	FlagReason string
}

// Decision is a provider's validated response. Rejected collects tool
// calls that failed schema validation; they are audited, not executed.
type Decision struct {
	Actions   []model.Action
	Rejected  []*SchemaError
	Reasoning string
	Model     string
	TokensIn  int
	TokensOut int
	Latency   time.Duration
}

// Provider is a reasoning backend.
type Provider interface {
	// Decide evaluates one event and returns zero or more actions.
	// Transport failures are reported wrapped in ErrUnavailable.
	Decide(ctx context.Context, req *DecisionRequest) (*Decision, error)

	// Summarize condenses channel history into a short context brief.
	Summarize(ctx context.Context, subject string, lines []string) (string, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider from runtime LLM settings. Missing
// credentials yield an unconfigured provider whose calls all report
// ErrUnavailable, keeping the pipeline on its heuristic-only path
// instead of halting.
func NewProvider(settings model.LLMSettings) (Provider, error) {
	if !settings.Configured() {
		return unconfiguredProvider{}, nil
	}
	switch settings.Provider {
	case "openai", "":
		return NewOpenAIProvider(settings)
	case "anthropic":
		return NewAnthropicProvider(settings)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", settings.Provider)
	}
}

type unconfiguredProvider struct{}

func (unconfiguredProvider) Decide(context.Context, *DecisionRequest) (*Decision, error) {
	return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

func (unconfiguredProvider) Summarize(context.Context, string, []string) (string, error) {
	return "", fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

func (unconfiguredProvider) Name() string { return "none" }

// Limiter caps concurrent in-flight provider calls. Decisions queue on
// the semaphore and respect context cancellation while waiting.
type Limiter struct {
	inner Provider
	slots chan struct{}
}

// NewLimiter wraps a provider with a concurrency cap.
func NewLimiter(p Provider, maxInFlight int) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Limiter{
		inner: p,
		slots: make(chan struct{}, maxInFlight),
	}
}

func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

func (l *Limiter) release() {
	<-l.slots
}

// Decide implements Provider.
func (l *Limiter) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Decide(ctx, req)
}

// Summarize implements Provider.
func (l *Limiter) Summarize(ctx context.Context, subject string, lines []string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.Summarize(ctx, subject, lines)
}

// Name implements Provider.
func (l *Limiter) Name() string {
	return l.inner.Name()
}
