package model

import (
	"time"
)

// ActionKind is the closed set of moderation actions the reasoning
// provider may select. Anything outside this set is rejected at the
// schema boundary, never executed.
type ActionKind string

const (
	ActionDeleteMessage    ActionKind = "delete_message"
	ActionWarn             ActionKind = "warn"
	ActionTimeout          ActionKind = "timeout"
	ActionKick             ActionKind = "kick"
	ActionBan              ActionKind = "ban"
	ActionSendMessage      ActionKind = "send_message"
	ActionEscalateToHuman  ActionKind = "escalate_to_human"
	ActionSuggestHeuristic ActionKind = "suggest_heuristic"
	ActionNone             ActionKind = "no_action"
)

// Valid reports whether the kind belongs to the closed action set.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionDeleteMessage, ActionWarn, ActionTimeout, ActionKick,
		ActionBan, ActionSendMessage, ActionEscalateToHuman,
		ActionSuggestHeuristic, ActionNone:
		return true
	}
	return false
}

// Action is one validated, strictly-typed action invocation. Only the
// fields relevant to the Kind are populated.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Moderation targets (delete_message, warn, timeout, kick, ban).
	TargetUserID    string `json:"target_user_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`

	// send_message payload.
	ChannelID        string `json:"channel_id,omitempty"`
	Message          string `json:"message,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	InThread         bool   `json:"in_thread,omitempty"`
	ThreadName       string `json:"thread_name,omitempty"`

	// escalate_to_human payload.
	Summary  string `json:"summary,omitempty"`
	Priority string `json:"priority,omitempty"`

	// suggest_heuristic payload.
	Proposal *HeuristicProposal `json:"proposal,omitempty"`
}

// Outcome records how a decision or action resolved. Failures never
// silently disappear; every path lands in the audit log with one of
// these markers.
type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"
	OutcomeSimulated Outcome = "simulated"
	OutcomeFailed    Outcome = "failed"
	OutcomeDegraded  Outcome = "skipped_degraded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeNone      Outcome = "none"
)

// ModerationActionRecord is one append-only audit row. Rows are never
// mutated after insert.
type ModerationActionRecord struct {
	ID           string         `json:"id"`
	GuildID      string         `json:"guild_id"`
	ChannelID    string         `json:"channel_id,omitempty"`
	ActionKind   string         `json:"action_kind"`
	TargetUserID *string        `json:"target_user_id,omitempty"`
	Summary      string         `json:"summary"`
	Reason       string         `json:"reason,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	Outcome      Outcome        `json:"outcome"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
