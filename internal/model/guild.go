package model

import (
	"time"
)

// Persona configures how the moderation agent presents itself in a guild.
type Persona struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Interests         []string `json:"interests"`
	ConversationStyle string   `json:"conversation_style"`
}

// DefaultPersona is used when a guild has not set one.
func DefaultPersona() Persona {
	return Persona{
		Name:              "ModGPT",
		Description:       "A diligent, fair moderator who values context.",
		ConversationStyle: "Friendly, concise, proactive when needed, otherwise quietly attentive.",
	}
}

// GuildConfig holds per-guild settings. Created lazily with defaults on
// first access and mutated only through administrative writes.
type GuildConfig struct {
	GuildID        string    `json:"guild_id"`
	DryRun         bool      `json:"dry_run"`
	Proactive      bool      `json:"proactive"`
	LogsChannelID  *string   `json:"logs_channel_id,omitempty"`
	Nickname       *string   `json:"nickname,omitempty"`
	BuiltInPrompt  *string   `json:"built_in_prompt,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Memory is a guild-scoped free-text instruction set by an administrator.
// Immutable once created; delete-only.
type Memory struct {
	ID        int64     `json:"id"`
	GuildID   string    `json:"guild_id"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextChannel points at an administrator-designated channel whose
// recent history is summarized into the reasoning prompt.
type ContextChannel struct {
	ChannelID   string     `json:"channel_id"`
	GuildID     string     `json:"guild_id"`
	Label       string     `json:"label"`
	Notes       *string    `json:"notes,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
}

// LLMSettings is the process-wide reasoning provider configuration. It is
// not guild-scoped.
type LLMSettings struct {
	Provider string `json:"provider"`
	APIKey   string `json:"-"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Configured reports whether provider credentials are present.
func (s LLMSettings) Configured() bool {
	return s.APIKey != ""
}

// GuildState is the composed snapshot returned by the state store for a
// single guild. It is rebuilt from the persistent store on every call;
// nothing here is cached between reads.
type GuildState struct {
	GuildID         string
	ContextChannels []ContextChannel
	Persona         Persona
	Memories        []Memory
	Heuristics      []HeuristicRule
	DryRun          bool
	Proactive       bool
	LogsChannelID   *string
	Nickname        *string
	BuiltInPrompt   string
	LLM             LLMSettings
}
