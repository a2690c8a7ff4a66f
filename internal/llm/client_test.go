package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

func TestNewProviderWithoutCredentials(t *testing.T) {
	assert := assert.New(t)

	p, err := NewProvider(model.LLMSettings{Provider: "openai"})
	require.NoError(t, err)

	_, err = p.Decide(context.Background(), &DecisionRequest{})
	assert.ErrorIs(err, ErrUnavailable)

	_, err = p.Summarize(context.Background(), "#general", []string{"hi"})
	assert.ErrorIs(err, ErrUnavailable)
}

func TestNewProviderUnknownName(t *testing.T) {
	_, err := NewProvider(model.LLMSettings{Provider: "cohere", APIKey: "k"})
	assert.Error(t, err)
}

func TestLimiterRespectsCancellation(t *testing.T) {
	assert := assert.New(t)

	l := NewLimiter(unconfiguredProvider{}, 1)
	l.slots <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Decide(ctx, &DecisionRequest{})
	assert.ErrorIs(err, ErrUnavailable)
}
