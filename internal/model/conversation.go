package model

import (
	"time"
)

// ConversationState is the lifecycle state of a tracked exchange.
type ConversationState string

const (
	ConversationActive   ConversationState = "active"
	ConversationThreaded ConversationState = "threaded"
	ConversationEnded    ConversationState = "ended"
)

// ConversationMessage is one entry in a conversation's bounded window.
type ConversationMessage struct {
	MessageID  string    `json:"message_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	FromBot    bool      `json:"from_bot"`
	CreatedAt  time.Time `json:"created_at"`
}

// Participant records a member of a conversation with first-seen time.
type Participant struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Conversation is a bounded multi-turn exchange tracked per
// (guild, channel). EndedAt is nil exactly while the conversation is
// active or threaded; once set the record is terminal.
type Conversation struct {
	ID           string                `json:"id"`
	GuildID      string                `json:"guild_id"`
	ChannelID    string                `json:"channel_id"`
	ThreadID     *string               `json:"thread_id,omitempty"`
	StarterID    string                `json:"starter_id"`
	State        ConversationState     `json:"state"`
	CreatedAt    time.Time             `json:"created_at"`
	LastActivity time.Time             `json:"last_activity"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	Window       []ConversationMessage `json:"window"`
	Participants []Participant         `json:"participants"`
}

// Ended reports whether the conversation has reached its terminal state.
func (c *Conversation) Ended() bool {
	return c.EndedAt != nil
}

// HasParticipant reports whether the user already joined the exchange.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
