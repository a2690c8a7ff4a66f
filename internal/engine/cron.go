package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

// contextMaxAge is how old a context-channel summary may get before
// the refresh job rebuilds it.
const contextMaxAge = time.Hour

// historyFetchLimit bounds how much channel history feeds a summary.
const historyFetchLimit = 50

// ContextStore is the persistence slice the refresh job needs.
// *store.DB satisfies it.
type ContextStore interface {
	ListStaleContextChannels(ctx context.Context, cutoff time.Time) ([]model.ContextChannel, error)
	SetContextChannelSummary(ctx context.Context, guildID, channelID, summary string, fetchedAt time.Time) error
}

// Scheduler runs the periodic jobs: the conversation timeout sweep, the
// context-channel summary refresh, and the scheduled check-in tick.
type Scheduler struct {
	cron          *cron.Cron
	engine        *Engine
	conversations *conversation.Manager
	contexts      ContextStore
	platform      platform.Client
	provider      llm.Provider
	logger        *logger.Logger
}

// NewScheduler creates the job runner.
func NewScheduler(e *Engine, conversations *conversation.Manager, contexts ContextStore, client platform.Client, provider llm.Provider, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		engine:        e,
		conversations: conversations,
		contexts:      contexts,
		platform:      client,
		provider:      provider,
		logger:        log,
	}
}

// Start registers and starts the jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 30s", s.sweepConversations); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 10m", s.refreshContexts); err != nil {
		return fmt.Errorf("register context refresh job: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 15m", s.tick); err != nil {
		return fmt.Errorf("register tick job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepConversations() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ended := s.conversations.Sweep(ctx); ended > 0 {
		s.logger.Info("swept idle conversations", zap.Int("ended", ended))
	}
}

// refreshContexts rebuilds summaries for context channels whose last
// fetch is older than contextMaxAge, then gives the engine a learning
// pass over each guild that got fresh material. One channel failing
// does not stop the rest.
func (s *Scheduler) refreshContexts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stale, err := s.contexts.ListStaleContextChannels(ctx, time.Now().Add(-contextMaxAge))
	if err != nil {
		s.logger.Error("failed to list stale context channels", zap.Error(err))
		return
	}

	refreshed := make(map[string]bool)
	for _, cc := range stale {
		updated, err := s.refreshOne(ctx, cc)
		if err != nil {
			s.logger.Warn("context refresh failed",
				zap.String("guild_id", cc.GuildID),
				zap.String("channel_id", cc.ChannelID),
				zap.Error(err))
			continue
		}
		if updated {
			refreshed[cc.GuildID] = true
		}
	}

	for guildID := range refreshed {
		if err := s.engine.LearnFromContext(ctx, guildID); err != nil {
			s.logger.Warn("context-refresh learning pass failed",
				zap.String("guild_id", guildID), zap.Error(err))
		}
	}
}

func (s *Scheduler) refreshOne(ctx context.Context, cc model.ContextChannel) (bool, error) {
	msgs, err := s.platform.GetRecentMessages(ctx, cc.ChannelID, historyFetchLimit)
	if err != nil {
		return false, fmt.Errorf("fetch history: %w", err)
	}
	if len(msgs) == 0 {
		// Nothing to summarize; still bump the fetch time so an empty
		// channel is not retried every cycle.
		return false, s.contexts.SetContextChannelSummary(ctx, cc.GuildID, cc.ChannelID, "", time.Now())
	}

	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("%s: %s", m.AuthorName, m.Content)
	}

	summary, err := s.provider.Summarize(ctx, "#"+cc.Label, lines)
	if err != nil {
		return false, fmt.Errorf("summarize: %w", err)
	}
	return true, s.contexts.SetContextChannelSummary(ctx, cc.GuildID, cc.ChannelID, summary, time.Now())
}

// tick emits a scheduled check-in event for every channel with a live
// conversation.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, pair := range s.conversations.ActiveChannels() {
		evt := &model.Event{
			Type:       model.EventScheduledTick,
			GuildID:    pair[0],
			ChannelID:  pair[1],
			OccurredAt: time.Now(),
		}
		if err := s.engine.HandleEvent(ctx, evt); err != nil {
			s.logger.Warn("scheduled tick failed",
				zap.String("guild_id", pair[0]),
				zap.String("channel_id", pair[1]),
				zap.Error(err))
		}
	}
}
