package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// memBackend is an in-memory Backend for tests.
type memBackend struct {
	configs    map[string]*model.GuildConfig
	personas   map[string]model.Persona
	memories   map[string][]model.Memory
	channels   map[string][]model.ContextChannel
	rules      []model.HeuristicRule
	llm        *model.LLMSettings
	nextMemory int64
}

func newMemBackend() *memBackend {
	return &memBackend{
		configs:  map[string]*model.GuildConfig{},
		personas: map[string]model.Persona{},
		memories: map[string][]model.Memory{},
		channels: map[string][]model.ContextChannel{},
	}
}

func (b *memBackend) config(guildID string) *model.GuildConfig {
	if c, ok := b.configs[guildID]; ok {
		return c
	}
	c := &model.GuildConfig{GuildID: guildID, Proactive: true}
	b.configs[guildID] = c
	return c
}

func (b *memBackend) FetchGuildConfig(_ context.Context, guildID string) (*model.GuildConfig, error) {
	return b.configs[guildID], nil
}

func (b *memBackend) SetDryRun(_ context.Context, guildID string, enabled bool) error {
	b.config(guildID).DryRun = enabled
	return nil
}

func (b *memBackend) SetProactive(_ context.Context, guildID string, enabled bool) error {
	b.config(guildID).Proactive = enabled
	return nil
}

func (b *memBackend) SetLogsChannel(_ context.Context, guildID string, channelID *string) error {
	b.config(guildID).LogsChannelID = channelID
	return nil
}

func (b *memBackend) SetNickname(_ context.Context, guildID string, nickname *string) error {
	b.config(guildID).Nickname = nickname
	return nil
}

func (b *memBackend) SetBuiltInPrompt(_ context.Context, guildID string, prompt *string) error {
	b.config(guildID).BuiltInPrompt = prompt
	return nil
}

func (b *memBackend) FetchPersona(_ context.Context, guildID string) (*model.Persona, error) {
	if p, ok := b.personas[guildID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (b *memBackend) SetPersona(_ context.Context, guildID string, p model.Persona) error {
	b.personas[guildID] = p
	return nil
}

func (b *memBackend) FetchMemories(_ context.Context, guildID string) ([]model.Memory, error) {
	return b.memories[guildID], nil
}

func (b *memBackend) AddMemory(_ context.Context, guildID, content, author, authorID string) (*model.Memory, error) {
	b.nextMemory++
	m := model.Memory{ID: b.nextMemory, GuildID: guildID, Content: content, Author: author, AuthorID: authorID}
	b.memories[guildID] = append(b.memories[guildID], m)
	return &m, nil
}

func (b *memBackend) DeleteMemory(_ context.Context, guildID string, memoryID int64) (bool, error) {
	list := b.memories[guildID]
	for i, m := range list {
		if m.ID == memoryID {
			b.memories[guildID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (b *memBackend) FetchContextChannels(_ context.Context, guildID string) ([]model.ContextChannel, error) {
	return b.channels[guildID], nil
}

func (b *memBackend) UpsertContextChannel(_ context.Context, c model.ContextChannel) error {
	list := b.channels[c.GuildID]
	for i := range list {
		if list[i].ChannelID == c.ChannelID {
			list[i] = c
			return nil
		}
	}
	b.channels[c.GuildID] = append(list, c)
	return nil
}

func (b *memBackend) DeleteContextChannel(_ context.Context, guildID, channelID string) (bool, error) {
	list := b.channels[guildID]
	for i := range list {
		if list[i].ChannelID == channelID {
			b.channels[guildID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (b *memBackend) FetchActiveHeuristics(_ context.Context, guildID string, minConfidence float64) ([]model.HeuristicRule, error) {
	out := []model.HeuristicRule{}
	for _, r := range b.rules {
		if !r.Active || r.Confidence < minConfidence {
			continue
		}
		if r.GuildID == nil || *r.GuildID == guildID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *memBackend) GetLLMSettings(_ context.Context) (*model.LLMSettings, error) {
	return b.llm, nil
}

func (b *memBackend) SetLLMSettings(_ context.Context, s model.LLMSettings) error {
	b.llm = &s
	return nil
}

func strptr(s string) *string { return &s }

func TestGetStateGuildIsolation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	backend := newMemBackend()
	backend.rules = []model.HeuristicRule{
		{ID: 1, GuildID: nil, Pattern: "global", Kind: model.PatternContains, Confidence: 0.9, Active: true},
		{ID: 2, GuildID: strptr("guild-a"), Pattern: "a-only", Kind: model.PatternContains, Confidence: 0.9, Active: true},
		{ID: 3, GuildID: strptr("guild-b"), Pattern: "b-only", Kind: model.PatternContains, Confidence: 0.9, Active: true},
	}
	backend.memories["guild-a"] = []model.Memory{{ID: 1, GuildID: "guild-a", Content: "A's memory"}}
	backend.memories["guild-b"] = []model.Memory{{ID: 2, GuildID: "guild-b", Content: "B's memory"}}

	s := New(backend, "base prompt", model.LLMSettings{APIKey: "key", Model: "gpt-4o-mini"})

	stateA, err := s.GetState(ctx, strptr("guild-a"))
	require.NoError(err)

	require.Len(stateA.Heuristics, 2)
	for _, r := range stateA.Heuristics {
		if r.GuildID != nil {
			assert.Equal("guild-a", *r.GuildID)
		}
	}
	require.Len(stateA.Memories, 1)
	assert.Equal("A's memory", stateA.Memories[0].Content)

	stateB, err := s.GetState(ctx, strptr("guild-b"))
	require.NoError(err)
	for _, r := range stateB.Heuristics {
		if r.GuildID != nil {
			assert.NotEqual("guild-a", *r.GuildID)
		}
	}
}

func TestGetStateDefaultsForUnknownGuild(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	s := New(newMemBackend(), "deployment prompt", model.LLMSettings{APIKey: "key"})

	gs, err := s.GetState(ctx, strptr("fresh-guild"))
	require.NoError(err)

	assert.False(gs.DryRun)
	assert.True(gs.Proactive)
	assert.Equal(model.DefaultPersona().Name, gs.Persona.Name)
	assert.Equal("deployment prompt", gs.BuiltInPrompt)
	assert.Equal("gpt-4o-mini", gs.LLM.Model)
}

func TestGetStateNilGuildIsMinimal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	backend := newMemBackend()
	backend.rules = []model.HeuristicRule{
		{ID: 1, Pattern: "global", Kind: model.PatternContains, Confidence: 0.9, Active: true},
	}
	s := New(backend, "base", model.LLMSettings{APIKey: "key", Model: "m"})

	gs, err := s.GetState(ctx, nil)
	require.NoError(err)

	assert.Empty(gs.GuildID)
	assert.Empty(gs.Heuristics)
	assert.Empty(gs.Memories)
	assert.True(gs.LLM.Configured())
}

func TestWritesVisibleToNextRead(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	backend := newMemBackend()
	s := New(backend, "", model.LLMSettings{APIKey: "key"})

	require.NoError(s.SetDryRun(ctx, "g1", true))
	require.NoError(s.SetPersona(ctx, "g1", model.Persona{Name: "Watcher"}))

	gs, err := s.GetState(ctx, strptr("g1"))
	require.NoError(err)
	assert.True(gs.DryRun)
	assert.Equal("Watcher", gs.Persona.Name)

	require.NoError(s.SetDryRun(ctx, "g1", false))
	gs, err = s.GetState(ctx, strptr("g1"))
	require.NoError(err)
	assert.False(gs.DryRun)
}

func TestLoadBootstrapsLLMSettings(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	backend := newMemBackend()
	s := New(backend, "", model.LLMSettings{Provider: "openai", APIKey: "initial", Model: "gpt-4o-mini"})

	require.NoError(s.Load(ctx))
	require.NotNil(backend.llm)
	assert.Equal("initial", backend.llm.APIKey)

	// Stored settings win over initial ones afterwards.
	require.NoError(s.SetLLMSettings(ctx, model.LLMSettings{Provider: "openai", APIKey: "rotated", Model: "gpt-4o"}))
	require.NoError(s.Load(ctx))
	assert.Equal("rotated", backend.llm.APIKey)
}
