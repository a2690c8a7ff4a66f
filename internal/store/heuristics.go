package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// FetchActiveHeuristics returns active rules visible to a guild: global
// rules (nil guild) merged with the guild's own. Rules below
// minConfidence are filtered at the storage layer.
func (db *DB) FetchActiveHeuristics(ctx context.Context, guildID string, minConfidence float64) ([]model.HeuristicRule, error) {
	query := `SELECT id, guild_id, rule_type, pattern, pattern_type, confidence, severity, reason,
			active, created_by, match_count, created_at
		FROM heuristic_rules
		WHERE active AND (guild_id IS NULL OR guild_id = $1) AND confidence >= $2
		ORDER BY confidence DESC, id ASC`

	rows, err := db.QueryContext(ctx, query, guildID, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query heuristics: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListHeuristics returns every rule visible to a guild, active or not.
func (db *DB) ListHeuristics(ctx context.Context, guildID string) ([]model.HeuristicRule, error) {
	query := `SELECT id, guild_id, rule_type, pattern, pattern_type, confidence, severity, reason,
			active, created_by, match_count, created_at
		FROM heuristic_rules
		WHERE guild_id IS NULL OR guild_id = $1
		ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query heuristics: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]model.HeuristicRule, error) {
	rules := []model.HeuristicRule{}
	for rows.Next() {
		var (
			r       model.HeuristicRule
			guildID sql.NullString
		)
		if err := rows.Scan(&r.ID, &guildID, &r.RuleType, &r.Pattern, &r.Kind, &r.Confidence,
			&r.Severity, &r.Reason, &r.Active, &r.CreatedBy, &r.MatchCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan heuristic rule: %w", err)
		}
		if guildID.Valid {
			r.GuildID = &guildID.String
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// InsertHeuristicRule inserts a rule, treating an existing row with the
// same (guild, pattern, kind) identity as a duplicate. Returns the rule
// id and whether the row is new.
func (db *DB) InsertHeuristicRule(ctx context.Context, r model.HeuristicRule) (int64, bool, error) {
	insert := `INSERT INTO heuristic_rules
			(guild_id, rule_type, pattern, pattern_type, confidence, severity, reason, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		ON CONFLICT (COALESCE(guild_id, ''), pattern, pattern_type) DO NOTHING
		RETURNING id`

	var id int64
	err := db.QueryRowContext(ctx, insert,
		r.GuildID, r.RuleType, r.Pattern, r.Kind, r.Confidence, r.Severity, r.Reason, r.CreatedBy,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to insert heuristic rule: %w", err)
	}

	// Conflict: look up the existing row.
	lookup := `SELECT id FROM heuristic_rules
		WHERE COALESCE(guild_id, '') = COALESCE($1, '') AND pattern = $2 AND pattern_type = $3`
	if err := db.QueryRowContext(ctx, lookup, r.GuildID, r.Pattern, r.Kind).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("failed to resolve duplicate heuristic: %w", err)
	}
	return id, false, nil
}

// DeactivateHeuristic soft-deletes a rule visible to the guild. Global
// rules can only be deactivated globally (empty guildID).
func (db *DB) DeactivateHeuristic(ctx context.Context, guildID string, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE heuristic_rules SET active = FALSE WHERE id = $1 AND (guild_id = $2 OR ($2 = '' AND guild_id IS NULL))`,
		id, guildID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate heuristic: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IncrementHeuristicUsage bumps a rule's match counter.
func (db *DB) IncrementHeuristicUsage(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE heuristic_rules SET match_count = match_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to increment heuristic usage: %w", err)
	}
	return nil
}

// SeedGlobalHeuristics inserts the fixed global catalog. Idempotent:
// existing rows are left untouched.
func (db *DB) SeedGlobalHeuristics(ctx context.Context, rules []model.HeuristicRule) (int, error) {
	inserted := 0
	for _, r := range rules {
		r.GuildID = nil
		r.CreatedBy = "seed"
		_, isNew, err := db.InsertHeuristicRule(ctx, r)
		if err != nil {
			return inserted, err
		}
		if isNew {
			inserted++
		}
	}
	return inserted, nil
}
