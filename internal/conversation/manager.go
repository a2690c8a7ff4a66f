// Package conversation tracks bounded multi-turn exchanges per
// (guild, channel) key: when the bot is engaged, who is participating,
// and when an exchange times out, migrates to a thread, or ends.
package conversation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

const (
	// DefaultTimeout ends a conversation after this much inactivity.
	DefaultTimeout = 60 * time.Second
	// DefaultWindowSize bounds the retained message window.
	DefaultWindowSize = 10
	// DefaultThreadAt migrates to a thread when distinct participants
	// first reach this count.
	DefaultThreadAt = 3
)

// exitPhrases end a conversation when they appear as whole words in a
// participant's message.
var exitPhrases = []string{
	"nevermind",
	"never mind",
	"stop",
	"quit",
	"cancel",
	"bye",
	"forget it",
	"ignore that",
	"not you",
}

var exitPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(exitPhrases))
	for i, p := range exitPhrases {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p) + `\b`)
	}
	return patterns
}()

// containsExitPhrase reports whether content carries an exit phrase as
// a whole word.
func containsExitPhrase(content string) bool {
	for _, re := range exitPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// PersistStore is the durable side of conversation tracking. Writes are
// best-effort: the in-memory record stays authoritative for the hot
// path and persistence failures are logged, not propagated.
type PersistStore interface {
	InsertConversation(ctx context.Context, c *model.Conversation) error
	UpdateConversation(ctx context.Context, c *model.Conversation) error
	EndConversation(ctx context.Context, conversationID string, endedAt time.Time) error
	AddParticipant(ctx context.Context, conversationID, userID string, joinedAt time.Time) error
	AddConversationMessage(ctx context.Context, conversationID string, m model.ConversationMessage) error
}

// ThreadCreator requests a new side-discussion thread from the
// platform.
type ThreadCreator interface {
	CreateThread(ctx context.Context, channelID, messageID, name string) (string, error)
}

type key struct {
	guildID   string
	channelID string
}

// entry pairs one conversation record with its own lock. Both the
// message-handling path and the timeout sweep must hold the lock for
// any read-modify-write on the record.
type entry struct {
	mu   sync.Mutex
	conv *model.Conversation
}

// Options tune the manager's thresholds.
type Options struct {
	Timeout    time.Duration
	WindowSize int
	ThreadAt   int
}

// Manager is the per-(guild, channel) conversation state machine.
type Manager struct {
	store   PersistStore
	threads ThreadCreator
	logger  *logger.Logger
	opts    Options
	now     func() time.Time

	mu      sync.RWMutex
	entries map[key]*entry
}

// NewManager creates a conversation manager.
func NewManager(store PersistStore, threads ThreadCreator, log *logger.Logger, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.ThreadAt <= 0 {
		opts.ThreadAt = DefaultThreadAt
	}
	return &Manager{
		store:   store,
		threads: threads,
		logger:  log,
		opts:    opts,
		now:     time.Now,
		entries: make(map[key]*entry),
	}
}

func (m *Manager) entryFor(k key) *entry {
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[k]; ok {
		return e
	}
	e = &entry{}
	m.entries[k] = e
	return e
}

// Observe feeds one inbound message through the state machine and
// reports whether the bot is engaged in this exchange. addressed marks
// a direct mention of or reply to the bot.
//
// A qualifying message either starts a fresh conversation (when
// addressed) or continues the active one (known participant within the
// timeout window who is not talking to somebody else). A stale record
// is ended in place and never accepts a continuation.
func (m *Manager) Observe(ctx context.Context, evt *model.Event, addressed bool, mentionsOthers bool) (*model.Conversation, bool) {
	k := key{guildID: evt.GuildID, channelID: evt.ChannelID}
	e := m.entryFor(k)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()

	// Expire a stale record before considering continuation.
	if e.conv != nil && !e.conv.Ended() && now.Sub(e.conv.LastActivity) >= m.opts.Timeout {
		m.endLocked(ctx, e, now)
	}
	if e.conv != nil && e.conv.Ended() {
		e.conv = nil
	}

	if e.conv == nil {
		if !addressed {
			return nil, false
		}
		conv := &model.Conversation{
			ID:           uuid.Must(uuid.NewV7()).String(),
			GuildID:      evt.GuildID,
			ChannelID:    evt.ChannelID,
			StarterID:    evt.AuthorID,
			State:        model.ConversationActive,
			CreatedAt:    now,
			LastActivity: now,
			Participants: []model.Participant{{UserID: evt.AuthorID, JoinedAt: now}},
		}
		if err := m.store.InsertConversation(ctx, conv); err != nil {
			m.logger.Warn("failed to persist conversation start", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
		e.conv = conv
		m.appendMessageLocked(ctx, e, evt, now)
		snapshot := *conv
		return &snapshot, true
	}

	// An active exchange exists. A participant talking to somebody
	// else is not continuing with the bot.
	if !addressed {
		if mentionsOthers || !e.conv.HasParticipant(evt.AuthorID) {
			return nil, false
		}
	}

	if containsExitPhrase(evt.Content) {
		m.endLocked(ctx, e, now)
		e.conv = nil
		return nil, false
	}

	conv := e.conv
	conv.LastActivity = now
	if !conv.HasParticipant(evt.AuthorID) {
		conv.Participants = append(conv.Participants, model.Participant{UserID: evt.AuthorID, JoinedAt: now})
		if err := m.store.AddParticipant(ctx, conv.ID, evt.AuthorID, now); err != nil {
			m.logger.Warn("failed to persist participant", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	m.appendMessageLocked(ctx, e, evt, now)
	m.maybeThreadLocked(ctx, e, evt)

	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		m.logger.Warn("failed to persist conversation update", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	snapshot := *conv
	return &snapshot, true
}

// maybeThreadLocked migrates the exchange to a side thread exactly when
// the distinct participant count first reaches the threshold.
func (m *Manager) maybeThreadLocked(ctx context.Context, e *entry, evt *model.Event) {
	conv := e.conv
	if conv.State != model.ConversationActive || len(conv.Participants) < m.opts.ThreadAt {
		return
	}
	name := threadName(evt.Content)
	threadID, err := m.threads.CreateThread(ctx, conv.ChannelID, evt.MessageID, name)
	if err != nil {
		m.logger.Warn("failed to create thread, staying in channel",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	conv.ThreadID = &threadID
	conv.State = model.ConversationThreaded
}

func threadName(content string) string {
	name := strings.TrimSpace(content)
	if runes := []rune(name); len(runes) > 40 {
		name = string(runes[:40])
	}
	if name == "" {
		name = "Side discussion"
	}
	return name
}

func (m *Manager) appendMessageLocked(ctx context.Context, e *entry, evt *model.Event, now time.Time) {
	msg := model.ConversationMessage{
		MessageID:  evt.MessageID,
		AuthorID:   evt.AuthorID,
		AuthorName: evt.AuthorName,
		Content:    evt.Content,
		CreatedAt:  now,
	}
	m.pushWindowLocked(e, msg)
	if err := m.store.AddConversationMessage(ctx, e.conv.ID, msg); err != nil {
		m.logger.Warn("failed to persist conversation message", zap.String("conversation_id", e.conv.ID), zap.Error(err))
	}
}

// pushWindowLocked appends to the bounded FIFO window, evicting the
// oldest entry once full.
func (m *Manager) pushWindowLocked(e *entry, msg model.ConversationMessage) {
	w := append(e.conv.Window, msg)
	if len(w) > m.opts.WindowSize {
		w = w[len(w)-m.opts.WindowSize:]
	}
	e.conv.Window = w
}

// RecordBotReply appends the bot's own message to the active window so
// follow-up reasoning sees it. The reply's message id becomes the
// continuation anchor.
func (m *Manager) RecordBotReply(ctx context.Context, guildID, channelID string, msg model.ConversationMessage) {
	k := key{guildID: guildID, channelID: channelID}
	e := m.entryFor(k)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil || e.conv.Ended() {
		return
	}
	msg.FromBot = true
	e.conv.LastActivity = m.now()
	m.pushWindowLocked(e, msg)
	if err := m.store.AddConversationMessage(ctx, e.conv.ID, msg); err != nil {
		m.logger.Warn("failed to persist bot reply", zap.String("conversation_id", e.conv.ID), zap.Error(err))
	}
}

// Snapshot returns a copy of the key's live conversation, or nil.
func (m *Manager) Snapshot(guildID, channelID string) *model.Conversation {
	k := key{guildID: guildID, channelID: channelID}
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil || e.conv.Ended() {
		return nil
	}
	snapshot := *e.conv
	return &snapshot
}

// Active reports whether an exchange is currently engaged for the key.
func (m *Manager) Active(guildID, channelID string) bool {
	k := key{guildID: guildID, channelID: channelID}
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv != nil && !e.conv.Ended() && m.now().Sub(e.conv.LastActivity) < m.opts.Timeout
}

// ThreadID returns the side-thread id for the key's active exchange,
// empty when not threaded.
func (m *Manager) ThreadID(guildID, channelID string) string {
	k := key{guildID: guildID, channelID: channelID}
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil || e.conv.Ended() || e.conv.ThreadID == nil {
		return ""
	}
	return *e.conv.ThreadID
}

// Close administratively ends the key's exchange. Returns false when
// nothing was active.
func (m *Manager) Close(ctx context.Context, guildID, channelID string) bool {
	k := key{guildID: guildID, channelID: channelID}
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil || e.conv.Ended() {
		return false
	}
	m.endLocked(ctx, e, m.now())
	e.conv = nil
	return true
}

// Sweep ends every conversation whose inactivity reached the timeout.
// It acquires the same per-key lock as the message path, so a message
// arriving at the sweep boundary cannot land in a record that is being
// closed. Returns the number of conversations ended.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	keys := make([]key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	ended := 0
	for _, k := range keys {
		m.mu.RLock()
		e, ok := m.entries[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		if e.conv != nil && !e.conv.Ended() && m.now().Sub(e.conv.LastActivity) >= m.opts.Timeout {
			m.endLocked(ctx, e, m.now())
			e.conv = nil
			ended++
		}
		empty := e.conv == nil
		e.mu.Unlock()

		if empty {
			m.mu.Lock()
			if cur, ok := m.entries[k]; ok && cur == e {
				delete(m.entries, k)
			}
			m.mu.Unlock()
		}
	}
	return ended
}

// ActiveChannels returns the (guild, channel) pairs with a live
// conversation, for scheduled check-ins.
func (m *Manager) ActiveChannels() [][2]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [][2]string
	for k, e := range m.entries {
		e.mu.Lock()
		if e.conv != nil && !e.conv.Ended() {
			out = append(out, [2]string{k.guildID, k.channelID})
		}
		e.mu.Unlock()
	}
	return out
}

// ActiveCount returns the number of live conversations.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		e.mu.Lock()
		if e.conv != nil && !e.conv.Ended() {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// endLocked transitions the record to its terminal state. The caller
// holds the entry lock.
func (m *Manager) endLocked(ctx context.Context, e *entry, now time.Time) {
	conv := e.conv
	if conv == nil || conv.Ended() {
		return
	}
	endedAt := now
	conv.EndedAt = &endedAt
	conv.State = model.ConversationEnded
	if err := m.store.EndConversation(ctx, conv.ID, endedAt); err != nil {
		m.logger.Warn("failed to persist conversation end", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}
