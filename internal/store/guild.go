package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// FetchGuildConfig returns the config row for a guild, or nil when the
// guild has never been configured.
func (db *DB) FetchGuildConfig(ctx context.Context, guildID string) (*model.GuildConfig, error) {
	query := `SELECT guild_id, dry_run, proactive, logs_channel_id, nickname, built_in_prompt, updated_at
		FROM guild_configs WHERE guild_id = $1`

	var (
		cfg           model.GuildConfig
		logsChannelID sql.NullString
		nickname      sql.NullString
		builtIn       sql.NullString
	)
	err := db.QueryRowContext(ctx, query, guildID).Scan(
		&cfg.GuildID, &cfg.DryRun, &cfg.Proactive, &logsChannelID, &nickname, &builtIn, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guild config: %w", err)
	}

	if logsChannelID.Valid {
		cfg.LogsChannelID = &logsChannelID.String
	}
	if nickname.Valid {
		cfg.Nickname = &nickname.String
	}
	if builtIn.Valid {
		cfg.BuiltInPrompt = &builtIn.String
	}
	return &cfg, nil
}

// Single-column upserts keep concurrent administrative writes from
// clobbering each other: each statement touches only its own field.

// SetDryRun sets the dry-run flag for a guild.
func (db *DB) SetDryRun(ctx context.Context, guildID string, enabled bool) error {
	query := `INSERT INTO guild_configs (guild_id, dry_run, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET dry_run = EXCLUDED.dry_run, updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, enabled); err != nil {
		return fmt.Errorf("failed to set dry_run: %w", err)
	}
	return nil
}

// SetProactive sets the proactive-moderation flag for a guild.
func (db *DB) SetProactive(ctx context.Context, guildID string, enabled bool) error {
	query := `INSERT INTO guild_configs (guild_id, proactive, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET proactive = EXCLUDED.proactive, updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, enabled); err != nil {
		return fmt.Errorf("failed to set proactive: %w", err)
	}
	return nil
}

// SetLogsChannel sets or clears the logs destination for a guild.
func (db *DB) SetLogsChannel(ctx context.Context, guildID string, channelID *string) error {
	query := `INSERT INTO guild_configs (guild_id, logs_channel_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET logs_channel_id = EXCLUDED.logs_channel_id, updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, channelID); err != nil {
		return fmt.Errorf("failed to set logs channel: %w", err)
	}
	return nil
}

// SetNickname sets or clears the display-name override for a guild.
func (db *DB) SetNickname(ctx context.Context, guildID string, nickname *string) error {
	query := `INSERT INTO guild_configs (guild_id, nickname, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET nickname = EXCLUDED.nickname, updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, nickname); err != nil {
		return fmt.Errorf("failed to set nickname: %w", err)
	}
	return nil
}

// SetBuiltInPrompt sets or clears the deployment prompt fragment.
func (db *DB) SetBuiltInPrompt(ctx context.Context, guildID string, prompt *string) error {
	query := `INSERT INTO guild_configs (guild_id, built_in_prompt, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET built_in_prompt = EXCLUDED.built_in_prompt, updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, prompt); err != nil {
		return fmt.Errorf("failed to set built-in prompt: %w", err)
	}
	return nil
}

// FetchPersona returns the guild persona, or nil when unset.
func (db *DB) FetchPersona(ctx context.Context, guildID string) (*model.Persona, error) {
	query := `SELECT name, description, interests, conversation_style FROM personas WHERE guild_id = $1`

	var (
		p         model.Persona
		interests []byte
	)
	err := db.QueryRowContext(ctx, query, guildID).Scan(&p.Name, &p.Description, &interests, &p.ConversationStyle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch persona: %w", err)
	}
	if err := json.Unmarshal(interests, &p.Interests); err != nil {
		p.Interests = nil
	}
	return &p, nil
}

// SetPersona upserts the guild persona in a single atomic statement.
func (db *DB) SetPersona(ctx context.Context, guildID string, p model.Persona) error {
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return fmt.Errorf("failed to encode interests: %w", err)
	}

	query := `INSERT INTO personas (guild_id, name, description, interests, conversation_style, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			interests = EXCLUDED.interests,
			conversation_style = EXCLUDED.conversation_style,
			updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, guildID, p.Name, p.Description, interests, p.ConversationStyle); err != nil {
		return fmt.Errorf("failed to set persona: %w", err)
	}
	return nil
}

// FetchMemories lists a guild's memories, oldest first.
func (db *DB) FetchMemories(ctx context.Context, guildID string) ([]model.Memory, error) {
	query := `SELECT id, guild_id, content, author_name, author_id, created_at
		FROM memories WHERE guild_id = $1 ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	memories := []model.Memory{}
	for rows.Next() {
		var m model.Memory
		if err := rows.Scan(&m.ID, &m.GuildID, &m.Content, &m.Author, &m.AuthorID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// AddMemory inserts a new memory and returns the stored row.
func (db *DB) AddMemory(ctx context.Context, guildID, content, author, authorID string) (*model.Memory, error) {
	query := `INSERT INTO memories (guild_id, content, author_name, author_id)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	m := model.Memory{GuildID: guildID, Content: content, Author: author, AuthorID: authorID}
	if err := db.QueryRowContext(ctx, query, guildID, content, author, authorID).Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}
	return &m, nil
}

// DeleteMemory removes a memory scoped to its guild. Returns false when
// no row matched.
func (db *DB) DeleteMemory(ctx context.Context, guildID string, memoryID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM memories WHERE guild_id = $1 AND id = $2`, guildID, memoryID)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FetchContextChannels lists the guild's context channels.
func (db *DB) FetchContextChannels(ctx context.Context, guildID string) ([]model.ContextChannel, error) {
	query := `SELECT channel_id, guild_id, label, notes, summary, last_fetched
		FROM context_channels WHERE guild_id = $1 ORDER BY label ASC`

	rows, err := db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query context channels: %w", err)
	}
	defer rows.Close()

	channels := []model.ContextChannel{}
	for rows.Next() {
		var (
			c           model.ContextChannel
			notes       sql.NullString
			summary     sql.NullString
			lastFetched sql.NullTime
		)
		if err := rows.Scan(&c.ChannelID, &c.GuildID, &c.Label, &notes, &summary, &lastFetched); err != nil {
			return nil, fmt.Errorf("failed to scan context channel: %w", err)
		}
		if notes.Valid {
			c.Notes = &notes.String
		}
		if summary.Valid {
			c.Summary = &summary.String
		}
		if lastFetched.Valid {
			t := lastFetched.Time
			c.LastFetched = &t
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// UpsertContextChannel inserts or replaces a context channel row.
func (db *DB) UpsertContextChannel(ctx context.Context, c model.ContextChannel) error {
	query := `INSERT INTO context_channels (channel_id, guild_id, label, notes, summary, last_fetched)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			label = EXCLUDED.label,
			notes = EXCLUDED.notes,
			summary = EXCLUDED.summary,
			last_fetched = EXCLUDED.last_fetched`
	if _, err := db.ExecContext(ctx, query, c.ChannelID, c.GuildID, c.Label, c.Notes, c.Summary, c.LastFetched); err != nil {
		return fmt.Errorf("failed to upsert context channel: %w", err)
	}
	return nil
}

// ListStaleContextChannels returns context channels across all guilds
// whose summary predates the cutoff (or was never built).
func (db *DB) ListStaleContextChannels(ctx context.Context, cutoff time.Time) ([]model.ContextChannel, error) {
	query := `SELECT channel_id, guild_id, label, notes, summary, last_fetched
		FROM context_channels
		WHERE last_fetched IS NULL OR last_fetched < $1
		ORDER BY last_fetched ASC NULLS FIRST`

	rows, err := db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale context channels: %w", err)
	}
	defer rows.Close()

	channels := []model.ContextChannel{}
	for rows.Next() {
		var (
			c           model.ContextChannel
			notes       sql.NullString
			summary     sql.NullString
			lastFetched sql.NullTime
		)
		if err := rows.Scan(&c.ChannelID, &c.GuildID, &c.Label, &notes, &summary, &lastFetched); err != nil {
			return nil, fmt.Errorf("failed to scan context channel: %w", err)
		}
		if notes.Valid {
			c.Notes = &notes.String
		}
		if summary.Valid {
			c.Summary = &summary.String
		}
		if lastFetched.Valid {
			t := lastFetched.Time
			c.LastFetched = &t
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// SetContextChannelSummary stores a freshly built summary.
func (db *DB) SetContextChannelSummary(ctx context.Context, guildID, channelID, summary string, fetchedAt time.Time) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE context_channels SET summary = $3, last_fetched = $4
		 WHERE guild_id = $1 AND channel_id = $2`,
		guildID, channelID, summary, fetchedAt); err != nil {
		return fmt.Errorf("failed to update context channel summary: %w", err)
	}
	return nil
}

// DeleteContextChannel removes a context channel scoped to its guild.
func (db *DB) DeleteContextChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM context_channels WHERE guild_id = $1 AND channel_id = $2`, guildID, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to delete context channel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetLLMSettings returns the process-wide reasoning provider settings,
// or nil when none are stored.
func (db *DB) GetLLMSettings(ctx context.Context) (*model.LLMSettings, error) {
	var s model.LLMSettings
	err := db.QueryRowContext(ctx,
		`SELECT provider, api_key, model, base_url FROM llm_settings WHERE id = 1`,
	).Scan(&s.Provider, &s.APIKey, &s.Model, &s.BaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch llm settings: %w", err)
	}
	return &s, nil
}

// SetLLMSettings stores the process-wide provider settings.
func (db *DB) SetLLMSettings(ctx context.Context, s model.LLMSettings) error {
	query := `INSERT INTO llm_settings (id, provider, api_key, model, base_url, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			api_key = EXCLUDED.api_key,
			model = EXCLUDED.model,
			base_url = EXCLUDED.base_url,
			updated_at = NOW()`
	if _, err := db.ExecContext(ctx, query, s.Provider, s.APIKey, s.Model, s.BaseURL); err != nil {
		return fmt.Errorf("failed to set llm settings: %w", err)
	}
	return nil
}
