// Package state composes per-guild configuration snapshots. Every read
// goes back to the persistent store; no snapshot is cached, so
// administrative writes are visible to the next read with no
// invalidation protocol.
package state

import (
	"context"
	"fmt"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// minProactiveConfidence filters out low-confidence rules on the
// proactive fast path.
const minProactiveConfidence = 0.7

// Backend is the slice of the persistent store the state layer reads
// and writes. *store.DB satisfies it.
type Backend interface {
	FetchGuildConfig(ctx context.Context, guildID string) (*model.GuildConfig, error)
	SetDryRun(ctx context.Context, guildID string, enabled bool) error
	SetProactive(ctx context.Context, guildID string, enabled bool) error
	SetLogsChannel(ctx context.Context, guildID string, channelID *string) error
	SetNickname(ctx context.Context, guildID string, nickname *string) error
	SetBuiltInPrompt(ctx context.Context, guildID string, prompt *string) error

	FetchPersona(ctx context.Context, guildID string) (*model.Persona, error)
	SetPersona(ctx context.Context, guildID string, p model.Persona) error

	FetchMemories(ctx context.Context, guildID string) ([]model.Memory, error)
	AddMemory(ctx context.Context, guildID, content, author, authorID string) (*model.Memory, error)
	DeleteMemory(ctx context.Context, guildID string, memoryID int64) (bool, error)

	FetchContextChannels(ctx context.Context, guildID string) ([]model.ContextChannel, error)
	UpsertContextChannel(ctx context.Context, c model.ContextChannel) error
	DeleteContextChannel(ctx context.Context, guildID, channelID string) (bool, error)

	FetchActiveHeuristics(ctx context.Context, guildID string, minConfidence float64) ([]model.HeuristicRule, error)

	GetLLMSettings(ctx context.Context) (*model.LLMSettings, error)
	SetLLMSettings(ctx context.Context, s model.LLMSettings) error
}

// Store is the guild state store.
type Store struct {
	backend       Backend
	defaultPrompt string
	initialLLM    model.LLMSettings
}

// New creates a state store. defaultPrompt is the deployment-level
// prompt fragment used when a guild has not overridden it; initialLLM
// seeds provider settings when the store has none.
func New(backend Backend, defaultPrompt string, initialLLM model.LLMSettings) *Store {
	return &Store{
		backend:       backend,
		defaultPrompt: defaultPrompt,
		initialLLM:    initialLLM,
	}
}

// Load bootstraps stored provider settings from the initial
// configuration when none exist yet.
func (s *Store) Load(ctx context.Context) error {
	stored, err := s.backend.GetLLMSettings(ctx)
	if err != nil {
		return err
	}
	if (stored == nil || !stored.Configured()) && s.initialLLM.Configured() {
		return s.backend.SetLLMSettings(ctx, s.initialLLM)
	}
	return nil
}

// GetState returns the composed snapshot for a guild. When guildID is
// nil a minimal snapshot with only process-wide fields is returned; that
// form is for health reporting and never drives moderation decisions.
// Every guild-scoped read is filtered on guild id equality, so one
// guild's snapshot can never contain another guild's rules, memories,
// or channels.
func (s *Store) GetState(ctx context.Context, guildID *string) (*model.GuildState, error) {
	llm, err := s.llmSettings(ctx)
	if err != nil {
		return nil, err
	}

	if guildID == nil {
		return &model.GuildState{
			Persona:       model.DefaultPersona(),
			Proactive:     true,
			BuiltInPrompt: s.defaultPrompt,
			LLM:           llm,
		}, nil
	}
	gid := *guildID

	gs := &model.GuildState{
		GuildID:       gid,
		Persona:       model.DefaultPersona(),
		Proactive:     true,
		BuiltInPrompt: s.defaultPrompt,
		LLM:           llm,
	}

	cfg, err := s.backend.FetchGuildConfig(ctx, gid)
	if err != nil {
		return nil, fmt.Errorf("guild config: %w", err)
	}
	if cfg != nil {
		gs.DryRun = cfg.DryRun
		gs.Proactive = cfg.Proactive
		gs.LogsChannelID = cfg.LogsChannelID
		gs.Nickname = cfg.Nickname
		if cfg.BuiltInPrompt != nil {
			gs.BuiltInPrompt = *cfg.BuiltInPrompt
		}
	}

	if persona, err := s.backend.FetchPersona(ctx, gid); err != nil {
		return nil, fmt.Errorf("persona: %w", err)
	} else if persona != nil {
		gs.Persona = *persona
	}

	if gs.ContextChannels, err = s.backend.FetchContextChannels(ctx, gid); err != nil {
		return nil, fmt.Errorf("context channels: %w", err)
	}
	if gs.Memories, err = s.backend.FetchMemories(ctx, gid); err != nil {
		return nil, fmt.Errorf("memories: %w", err)
	}
	if gs.Heuristics, err = s.backend.FetchActiveHeuristics(ctx, gid, minProactiveConfidence); err != nil {
		return nil, fmt.Errorf("heuristics: %w", err)
	}

	return gs, nil
}

func (s *Store) llmSettings(ctx context.Context) (model.LLMSettings, error) {
	stored, err := s.backend.GetLLMSettings(ctx)
	if err != nil {
		return model.LLMSettings{}, fmt.Errorf("llm settings: %w", err)
	}
	llm := s.initialLLM
	if stored != nil && stored.Configured() {
		llm = *stored
	}
	if llm.Model == "" {
		llm.Model = "gpt-4o-mini"
	}
	return llm, nil
}

// Administrative writes pass straight through to the backend's atomic
// upserts.

func (s *Store) SetPersona(ctx context.Context, guildID string, p model.Persona) error {
	return s.backend.SetPersona(ctx, guildID, p)
}

func (s *Store) SetDryRun(ctx context.Context, guildID string, enabled bool) error {
	return s.backend.SetDryRun(ctx, guildID, enabled)
}

func (s *Store) SetProactive(ctx context.Context, guildID string, enabled bool) error {
	return s.backend.SetProactive(ctx, guildID, enabled)
}

func (s *Store) SetLogsChannel(ctx context.Context, guildID string, channelID *string) error {
	return s.backend.SetLogsChannel(ctx, guildID, channelID)
}

func (s *Store) SetNickname(ctx context.Context, guildID string, nickname *string) error {
	return s.backend.SetNickname(ctx, guildID, nickname)
}

func (s *Store) SetBuiltInPrompt(ctx context.Context, guildID string, prompt *string) error {
	return s.backend.SetBuiltInPrompt(ctx, guildID, prompt)
}

func (s *Store) AddMemory(ctx context.Context, guildID, content, author, authorID string) (*model.Memory, error) {
	return s.backend.AddMemory(ctx, guildID, content, author, authorID)
}

func (s *Store) RemoveMemory(ctx context.Context, guildID string, memoryID int64) (bool, error) {
	return s.backend.DeleteMemory(ctx, guildID, memoryID)
}

func (s *Store) AddContextChannel(ctx context.Context, c model.ContextChannel) error {
	return s.backend.UpsertContextChannel(ctx, c)
}

func (s *Store) RemoveContextChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	return s.backend.DeleteContextChannel(ctx, guildID, channelID)
}

func (s *Store) SetLLMSettings(ctx context.Context, settings model.LLMSettings) error {
	return s.backend.SetLLMSettings(ctx, settings)
}
