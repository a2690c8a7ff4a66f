package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// InsertConversation persists a newly started conversation along with
// its starter participant.
func (db *DB) InsertConversation(ctx context.Context, c *model.Conversation) error {
	query := `INSERT INTO conversations (id, guild_id, channel_id, thread_id, starter_id, state, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	if _, err := db.ExecContext(ctx, query,
		c.ID, c.GuildID, c.ChannelID, c.ThreadID, c.StarterID, c.State, c.CreatedAt, c.LastActivity,
	); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return db.AddParticipant(ctx, c.ID, c.StarterID, c.CreatedAt)
}

// UpdateConversation writes back mutable fields: activity stamp, state,
// and thread id.
func (db *DB) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	query := `UPDATE conversations SET last_activity = $2, state = $3, thread_id = $4 WHERE id = $1`
	if _, err := db.ExecContext(ctx, query, c.ID, c.LastActivity, c.State, c.ThreadID); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// EndConversation marks a conversation terminal. Idempotent: an already
// ended row keeps its original end time.
func (db *DB) EndConversation(ctx context.Context, conversationID string, endedAt time.Time) error {
	query := `UPDATE conversations SET state = $2, ended_at = COALESCE(ended_at, $3) WHERE id = $1`
	if _, err := db.ExecContext(ctx, query, conversationID, model.ConversationEnded, endedAt); err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	return nil
}

// AddParticipant records a participant's first-seen time. Duplicate
// deliveries are no-ops.
func (db *DB) AddParticipant(ctx context.Context, conversationID, userID string, joinedAt time.Time) error {
	query := `INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES ($1, $2, $3) ON CONFLICT (conversation_id, user_id) DO NOTHING`
	if _, err := db.ExecContext(ctx, query, conversationID, userID, joinedAt); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// AddConversationMessage appends a message to the conversation log.
func (db *DB) AddConversationMessage(ctx context.Context, conversationID string, m model.ConversationMessage) error {
	query := `INSERT INTO conversation_messages (conversation_id, message_id, author_id, author_name, content, from_bot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := db.ExecContext(ctx, query,
		conversationID, m.MessageID, m.AuthorID, m.AuthorName, m.Content, m.FromBot, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to add conversation message: %w", err)
	}
	return nil
}
