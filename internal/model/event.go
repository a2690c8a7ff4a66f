package model

import (
	"time"
)

// EventType identifies the kind of platform event.
type EventType string

const (
	EventMessageCreate EventType = "message_create"
	EventMessageEdit   EventType = "message_edit"
	EventMessageDelete EventType = "message_delete"
	EventMemberJoin    EventType = "member_join"
	EventMemberRemove  EventType = "member_remove"
	EventScheduledTick EventType = "scheduled_tick"

	// Synthesized internally for the learning sub-flow; never delivered
	// by the gateway.
	EventModeratorFlag  EventType = "moderator_flag"
	EventContextRefresh EventType = "context_refresh"
)

// MemberInfo carries the member fields of join/remove events.
type MemberInfo struct {
	UserID    string     `json:"user_id"`
	Username  string     `json:"username"`
	Roles     []string   `json:"roles,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
}

// Event is an inbound platform event as delivered by the gateway. The
// pipeline treats it as a plain immutable record; the platform may
// redeliver or reorder events, so handling must be idempotent-tolerant.
type Event struct {
	Type            EventType   `json:"type"`
	GuildID         string      `json:"guild_id"`
	ChannelID       string      `json:"channel_id,omitempty"`
	MessageID       string      `json:"message_id,omitempty"`
	AuthorID        string      `json:"author_id,omitempty"`
	AuthorName      string      `json:"author_name,omitempty"`
	AuthorIsBot     bool        `json:"author_is_bot,omitempty"`
	Content         string      `json:"content,omitempty"`
	PreviousContent string      `json:"previous_content,omitempty"`
	ReplyToID       string      `json:"reply_to_id,omitempty"`
	ReplyToAuthorID string      `json:"reply_to_author_id,omitempty"`
	Mentions        []string    `json:"mentions,omitempty"`
	ThreadID        string      `json:"thread_id,omitempty"`
	Member          *MemberInfo `json:"member,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// Addresses reports whether the event's message directly addresses the
// given bot user, either by mention or by replying to it.
func (e *Event) Addresses(botUserID string) bool {
	if botUserID == "" {
		return false
	}
	if e.ReplyToAuthorID == botUserID {
		return true
	}
	for _, m := range e.Mentions {
		if m == botUserID {
			return true
		}
	}
	return false
}
