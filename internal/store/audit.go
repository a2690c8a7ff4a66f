package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// InsertActionRecord appends one audit row. Rows are never updated.
func (db *DB) InsertActionRecord(ctx context.Context, rec *model.ModerationActionRecord) error {
	meta := sql.NullString{}
	if rec.Metadata != nil {
		if b, err := json.Marshal(rec.Metadata); err == nil {
			meta = sql.NullString{String: string(b), Valid: true}
		}
	}

	query := `INSERT INTO moderation_actions
			(id, guild_id, channel_id, action_kind, target_user_id, summary, reason, message_id, outcome, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := db.ExecContext(ctx, query,
		rec.ID, rec.GuildID, nullable(rec.ChannelID), rec.ActionKind, rec.TargetUserID,
		rec.Summary, rec.Reason, nullable(rec.MessageID), rec.Outcome, meta,
	); err != nil {
		return fmt.Errorf("failed to insert moderation record: %w", err)
	}
	return nil
}

// ListActionRecords returns recent audit rows for a guild, newest first.
func (db *DB) ListActionRecords(ctx context.Context, guildID string, limit int) ([]model.ModerationActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, guild_id, channel_id, action_kind, target_user_id, summary, reason, message_id, outcome, metadata, created_at
		FROM moderation_actions WHERE guild_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderation records: %w", err)
	}
	defer rows.Close()

	records := []model.ModerationActionRecord{}
	for rows.Next() {
		var (
			rec       model.ModerationActionRecord
			channelID sql.NullString
			target    sql.NullString
			messageID sql.NullString
			meta      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.GuildID, &channelID, &rec.ActionKind, &target,
			&rec.Summary, &rec.Reason, &messageID, &rec.Outcome, &meta, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderation record: %w", err)
		}
		rec.ChannelID = channelID.String
		rec.MessageID = messageID.String
		if target.Valid {
			rec.TargetUserID = &target.String
		}
		if meta.Valid {
			var mm map[string]any
			_ = json.Unmarshal([]byte(meta.String), &mm)
			rec.Metadata = mm
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
