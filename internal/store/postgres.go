// Package store provides the Postgres persistence layer: guild
// configuration, personas, memories, context channels, heuristic rules,
// conversations, and the append-only moderation audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the SQL connection pool.
type DB struct {
	*sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS guild_configs (
		guild_id TEXT PRIMARY KEY,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		proactive BOOLEAN NOT NULL DEFAULT TRUE,
		logs_channel_id TEXT,
		nickname TEXT,
		built_in_prompt TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS personas (
		guild_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		interests JSONB NOT NULL DEFAULT '[]',
		conversation_style TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS memories (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT NOT NULL,
		content TEXT NOT NULL,
		author_name TEXT NOT NULL,
		author_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_guild ON memories(guild_id)`,

	`CREATE TABLE IF NOT EXISTS context_channels (
		channel_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		label TEXT NOT NULL,
		notes TEXT,
		summary TEXT,
		last_fetched TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_context_channels_guild ON context_channels(guild_id)`,

	`CREATE TABLE IF NOT EXISTS heuristic_rules (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT,
		rule_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		severity TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL DEFAULT 'seed',
		match_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_heuristic_identity
		ON heuristic_rules (COALESCE(guild_id, ''), pattern, pattern_type)`,

	`CREATE INDEX IF NOT EXISTS idx_heuristic_guild ON heuristic_rules(guild_id) WHERE active`,

	`CREATE TABLE IF NOT EXISTS llm_settings (
		id SMALLINT PRIMARY KEY DEFAULT 1,
		provider TEXT NOT NULL DEFAULT 'openai',
		api_key TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT 'gpt-4o-mini',
		base_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (id = 1)
	)`,

	`CREATE TABLE IF NOT EXISTS moderation_actions (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT,
		action_kind TEXT NOT NULL,
		target_user_id TEXT,
		summary TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		message_id TEXT,
		outcome TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_actions_guild_created
		ON moderation_actions(guild_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		thread_id TEXT,
		starter_id TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_key
		ON conversations(guild_id, channel_id) WHERE ended_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		user_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (conversation_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		message_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		from_bot BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
