// Package engine is the moderation decision pipeline: it screens
// inbound events against heuristics, consults the reasoning provider
// when warranted, and applies the resulting actions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
	"github.com/lukeocodes/mod-gpt/pkg/metrics"
)

// degradedDeleteThreshold is the minimum heuristic confidence for an
// automatic delete while the reasoning provider is unavailable. Below
// it the degraded path takes no action at all.
const degradedDeleteThreshold = 0.9

// learnedRuleAuthor marks rules accepted from provider proposals.
const learnedRuleAuthor = "modgpt"

// StateStore composes per-guild snapshots. *state.Store satisfies it.
type StateStore interface {
	GetState(ctx context.Context, guildID *string) (*model.GuildState, error)
}

// RuleStore persists learned heuristics. *store.DB satisfies it.
type RuleStore interface {
	InsertHeuristicRule(ctx context.Context, r model.HeuristicRule) (int64, bool, error)
	IncrementHeuristicUsage(ctx context.Context, id int64) error
}

// AuditStore is the append-only decision log. *store.DB satisfies it.
type AuditStore interface {
	InsertActionRecord(ctx context.Context, rec *model.ModerationActionRecord) error
}

// Deduper detects redelivered events. *cache.Dedupe satisfies it.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Engine wires the pipeline stages together.
type Engine struct {
	state         StateStore
	matcher       *heuristics.Matcher
	conversations *conversation.Manager
	provider      llm.Provider
	executor      *Executor
	rules         RuleStore
	audit         AuditStore
	dedupe        Deduper
	logger        *logger.Logger
	botUserID     string
}

// New creates the decision engine. dedupe may be nil, in which case
// redelivered events are processed again.
func New(
	st StateStore,
	matcher *heuristics.Matcher,
	conversations *conversation.Manager,
	provider llm.Provider,
	executor *Executor,
	rules RuleStore,
	audit AuditStore,
	dedupe Deduper,
	log *logger.Logger,
	botUserID string,
) *Engine {
	return &Engine{
		state:         st,
		matcher:       matcher,
		conversations: conversations,
		provider:      provider,
		executor:      executor,
		rules:         rules,
		audit:         audit,
		dedupe:        dedupe,
		logger:        log,
		botUserID:     botUserID,
	}
}

// HandleEvent routes one platform event through the pipeline.
func (e *Engine) HandleEvent(ctx context.Context, evt *model.Event) error {
	switch evt.Type {
	case model.EventMessageCreate, model.EventMessageEdit:
		return e.handleMessage(ctx, evt)
	case model.EventMemberJoin, model.EventMemberRemove:
		return e.handleMember(ctx, evt)
	case model.EventScheduledTick:
		return e.handleTick(ctx, evt)
	default:
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}
}

// isDuplicate consults the dedupe store, failing open: when the store
// errors the event is processed anyway.
func (e *Engine) isDuplicate(ctx context.Context, evt *model.Event, key string) bool {
	if e.dedupe == nil || key == "" {
		return false
	}
	seen, err := e.dedupe.Seen(ctx, key)
	if err != nil {
		e.logger.Warn("dedupe check failed, processing anyway", zap.Error(err))
		return false
	}
	if seen {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "duplicate").Inc()
	}
	return seen
}

func (e *Engine) handleMessage(ctx context.Context, evt *model.Event) error {
	if evt.AuthorIsBot || evt.GuildID == "" || evt.AuthorID == e.botUserID {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}
	if e.isDuplicate(ctx, evt, fmt.Sprintf("%s:%s", evt.Type, evt.MessageID)) {
		return nil
	}

	st, err := e.state.GetState(ctx, &evt.GuildID)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "error").Inc()
		return fmt.Errorf("resolve guild state: %w", err)
	}

	addressed := evt.Addresses(e.botUserID)
	mentionsOthers := len(evt.Mentions) > 0 && !addressed
	conv, engaged := e.conversations.Observe(ctx, evt, addressed, mentionsOthers)
	metrics.ConversationsActive.Set(float64(e.conversations.ActiveCount()))

	// Unaddressed, unengaged, proactive off: the message is out of
	// scope entirely, so the matcher never runs on it.
	if !addressed && !engaged && !st.Proactive {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}

	matches := e.screen(ctx, evt, st.Heuristics)

	if !addressed && !engaged && len(matches) == 0 {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}

	metrics.EventsTotal.WithLabelValues(string(evt.Type), "processed").Inc()
	return e.decide(ctx, evt, st, conv, matches, addressed)
}

// screen runs the heuristic matcher and records per-rule usage.
func (e *Engine) screen(ctx context.Context, evt *model.Event, rules []model.HeuristicRule) []heuristics.Match {
	matches, verrs := e.matcher.Match(evt.Content, rules)
	for _, verr := range verrs {
		e.logger.Warn("skipping malformed heuristic pattern",
			zap.String("guild_id", evt.GuildID), zap.Error(verr))
	}
	for _, m := range matches {
		metrics.HeuristicMatchesTotal.WithLabelValues(m.Rule.RuleType, string(m.Rule.Severity)).Inc()
		if err := e.rules.IncrementHeuristicUsage(ctx, m.Rule.ID); err != nil {
			e.logger.Warn("failed to record heuristic usage",
				zap.Int64("rule_id", m.Rule.ID), zap.Error(err))
		}
	}
	return matches
}

// HandleFlagged handles a moderator's report that a message should have
// been caught: the provider is asked for a detection heuristic that
// would catch this and similar messages, persisted scoped to the
// guild. No enforcement runs against the flagged message itself.
// Returns the learned rule, or nil when the provider proposed none.
func (e *Engine) HandleFlagged(ctx context.Context, evt *model.Event, reason string) (*model.HeuristicRule, error) {
	st, err := e.state.GetState(ctx, &evt.GuildID)
	if err != nil {
		return nil, fmt.Errorf("resolve guild state: %w", err)
	}

	matches := e.screen(ctx, evt, st.Heuristics)
	metrics.EventsTotal.WithLabelValues(string(evt.Type), "processed").Inc()

	return e.learnFromDecision(ctx, evt, &llm.DecisionRequest{
		State:         st,
		Event:         evt,
		Conversation:  e.conversations.Snapshot(evt.GuildID, evt.ChannelID),
		Matches:       matches,
		AllowLearning: true,
		FlagReason:    reason,
	})
}

// LearnFromContext asks the provider to propose heuristics from the
// guild's freshly summarized context channels. Runs after the context
// refresh job rebuilds a guild's summaries.
func (e *Engine) LearnFromContext(ctx context.Context, guildID string) error {
	st, err := e.state.GetState(ctx, &guildID)
	if err != nil {
		return fmt.Errorf("resolve guild state: %w", err)
	}

	evt := &model.Event{Type: model.EventContextRefresh, GuildID: guildID, OccurredAt: time.Now()}
	_, err = e.learnFromDecision(ctx, evt, &llm.DecisionRequest{
		State:         st,
		Event:         evt,
		AllowLearning: true,
	})
	return err
}

// learnFromDecision runs a learning-enabled provider call and persists
// the proposed heuristics. Only suggest_heuristic calls are honored on
// this path; the model cannot enforce anything through it.
func (e *Engine) learnFromDecision(ctx context.Context, evt *model.Event, req *llm.DecisionRequest) (*model.HeuristicRule, error) {
	decision, err := e.provider.Decide(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider decision: %w", err)
	}

	metrics.RecordDecision(e.provider.Name(), decision.Model, "ok",
		decision.Latency.Seconds(), decision.TokensIn, decision.TokensOut)

	var learned *model.HeuristicRule
	for _, action := range decision.Actions {
		if action.Kind != model.ActionSuggestHeuristic {
			continue
		}
		res, rule := e.learn(ctx, evt, action)
		metrics.ActionsTotal.WithLabelValues(string(action.Kind), string(res.Outcome)).Inc()
		e.auditAction(ctx, evt, res, map[string]any{
			"model":   decision.Model,
			"trigger": string(evt.Type),
		})
		if rule != nil && learned == nil {
			learned = rule
		}
	}

	for _, serr := range decision.Rejected {
		e.logger.Warn("provider emitted invalid tool call",
			zap.String("guild_id", evt.GuildID), zap.Error(serr))
		metrics.ActionsTotal.WithLabelValues(serr.Tool, string(model.OutcomeRejected)).Inc()
	}
	return learned, nil
}

func (e *Engine) handleMember(ctx context.Context, evt *model.Event) error {
	if evt.GuildID == "" {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}
	key := fmt.Sprintf("%s:%s:%s:%d", evt.Type, evt.GuildID, evt.AuthorID, evt.OccurredAt.Unix())
	if e.isDuplicate(ctx, evt, key) {
		return nil
	}

	st, err := e.state.GetState(ctx, &evt.GuildID)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "error").Inc()
		return fmt.Errorf("resolve guild state: %w", err)
	}
	if !st.Proactive {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}

	metrics.EventsTotal.WithLabelValues(string(evt.Type), "processed").Inc()
	return e.decide(ctx, evt, st, nil, nil, false)
}

func (e *Engine) handleTick(ctx context.Context, evt *model.Event) error {
	conv := e.conversations.Snapshot(evt.GuildID, evt.ChannelID)
	if conv == nil {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}
	st, err := e.state.GetState(ctx, &evt.GuildID)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(string(evt.Type), "error").Inc()
		return fmt.Errorf("resolve guild state: %w", err)
	}

	metrics.EventsTotal.WithLabelValues(string(evt.Type), "processed").Inc()
	return e.decide(ctx, evt, st, conv, nil, false)
}

// decide runs the slow path: consult the provider, then carry out the
// decision. Provider failures divert to the degraded heuristic path
// instead of propagating.
func (e *Engine) decide(ctx context.Context, evt *model.Event, st *model.GuildState, conv *model.Conversation, matches []heuristics.Match, addressed bool) error {
	req := &llm.DecisionRequest{
		State:        st,
		Event:        evt,
		Conversation: conv,
		Matches:      matches,
		Addressed:    addressed,
	}

	decision, err := e.provider.Decide(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return e.decideDegraded(ctx, evt, st, matches, err)
		}
		return fmt.Errorf("provider decision: %w", err)
	}

	metrics.RecordDecision(e.provider.Name(), decision.Model, "ok",
		decision.Latency.Seconds(), decision.TokensIn, decision.TokensOut)

	actions := dedupeSends(decision.Actions)
	threadID := e.conversations.ThreadID(evt.GuildID, evt.ChannelID)

	overall := model.OutcomeNone
	executed := 0
	for _, action := range actions {
		var res Result
		if action.Kind == model.ActionSuggestHeuristic {
			res, _ = e.learn(ctx, evt, action)
		} else {
			res = e.executor.Apply(ctx, evt, st, action, threadID, st.DryRun)
		}

		metrics.ActionsTotal.WithLabelValues(string(action.Kind), string(res.Outcome)).Inc()
		e.auditAction(ctx, evt, res, map[string]any{"model": decision.Model})

		switch res.Outcome {
		case model.OutcomeExecuted:
			executed++
			overall = model.OutcomeExecuted
		case model.OutcomeSimulated:
			if overall != model.OutcomeExecuted {
				overall = model.OutcomeSimulated
			}
		case model.OutcomeFailed:
			e.logger.Error("action failed",
				zap.String("guild_id", evt.GuildID),
				zap.String("kind", string(action.Kind)),
				zap.Error(res.Err))
		}

		if action.Kind == model.ActionSendMessage && res.Outcome == model.OutcomeExecuted && res.Sent != nil {
			e.conversations.RecordBotReply(ctx, evt.GuildID, evt.ChannelID, model.ConversationMessage{
				MessageID: res.Sent.MessageID,
				AuthorID:  e.botUserID,
				Content:   action.Message,
				CreatedAt: time.Now(),
			})
		}
	}

	for _, serr := range decision.Rejected {
		e.logger.Warn("provider emitted invalid tool call",
			zap.String("guild_id", evt.GuildID), zap.Error(serr))
		metrics.ActionsTotal.WithLabelValues(serr.Tool, string(model.OutcomeRejected)).Inc()
		e.auditAction(ctx, evt, Result{
			Action:  model.Action{Kind: model.ActionKind(serr.Tool)},
			Outcome: model.OutcomeRejected,
			Err:     serr,
		}, nil)
	}

	metrics.DecisionsTotal.WithLabelValues(string(overall)).Inc()
	e.auditDecision(ctx, evt, overall, map[string]any{
		"model":             decision.Model,
		"provider":          e.provider.Name(),
		"heuristic_matches": len(matches),
		"heuristic_ids":     ruleIDs(matches),
		"actions":           len(actions),
		"rejected":          len(decision.Rejected),
		"executed":          executed,
		"dry_run":           st.DryRun,
	}, decision.Reasoning)
	return nil
}

// ruleIDs lists the matched rule ids for the audit trail.
func ruleIDs(matches []heuristics.Match) []int64 {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.Rule.ID
	}
	return ids
}

// decideDegraded is the heuristic-only fallback: a top match at or
// above the threshold removes the message, anything else is left
// alone. Either way the audit log records that the provider was down.
func (e *Engine) decideDegraded(ctx context.Context, evt *model.Event, st *model.GuildState, matches []heuristics.Match, cause error) error {
	metrics.DegradedDecisionsTotal.Inc()
	e.logger.Error("reasoning provider unavailable, using degraded path",
		zap.String("guild_id", evt.GuildID), zap.Error(cause))

	meta := map[string]any{
		"degraded":          true,
		"heuristic_matches": len(matches),
		"heuristic_ids":     ruleIDs(matches),
	}

	if len(matches) > 0 && matches[0].Rule.Confidence >= degradedDeleteThreshold && evt.MessageID != "" {
		rule := matches[0].Rule
		action := model.Action{
			Kind:         model.ActionDeleteMessage,
			TargetUserID: evt.AuthorID,
			MessageID:    evt.MessageID,
			Reason:       fmt.Sprintf("high-confidence heuristic match: %s", rule.Reason),
		}
		res := e.executor.Apply(ctx, evt, st, action, "", st.DryRun)
		metrics.ActionsTotal.WithLabelValues(string(action.Kind), string(res.Outcome)).Inc()
		meta["rule_id"] = rule.ID
		e.auditAction(ctx, evt, res, meta)
		metrics.DecisionsTotal.WithLabelValues(string(res.Outcome)).Inc()
		e.auditDecision(ctx, evt, res.Outcome, meta, "degraded heuristic fallback")
		return nil
	}

	metrics.DecisionsTotal.WithLabelValues(string(model.OutcomeDegraded)).Inc()
	e.auditDecision(ctx, evt, model.OutcomeDegraded, meta, "degraded heuristic fallback, no action")
	return nil
}

// learn persists a proposed heuristic scoped to the triggering guild.
// The learning flow never writes global rules.
func (e *Engine) learn(ctx context.Context, evt *model.Event, action model.Action) (Result, *model.HeuristicRule) {
	p := action.Proposal
	if p == nil {
		return Result{Action: action, Outcome: model.OutcomeRejected, Err: errors.New("proposal missing payload")}, nil
	}

	guildID := evt.GuildID
	rule := model.HeuristicRule{
		GuildID:    &guildID,
		RuleType:   p.RuleType,
		Pattern:    p.Pattern,
		Kind:       p.Kind,
		Confidence: p.Confidence,
		Severity:   p.Severity,
		Reason:     p.Reason,
		Active:     true,
		CreatedBy:  learnedRuleAuthor,
	}

	id, isNew, err := e.rules.InsertHeuristicRule(ctx, rule)
	if err != nil {
		return Result{Action: action, Outcome: model.OutcomeFailed, Err: err}, nil
	}
	rule.ID = id
	if isNew {
		metrics.HeuristicsLearnedTotal.WithLabelValues(guildID).Inc()
		e.logger.Info("learned new heuristic",
			zap.String("guild_id", guildID),
			zap.Int64("rule_id", id),
			zap.String("pattern_type", string(p.Kind)))
	}
	return Result{Action: action, Outcome: model.OutcomeExecuted}, &rule
}

func (e *Engine) auditAction(ctx context.Context, evt *model.Event, res Result, meta map[string]any) {
	rec := &model.ModerationActionRecord{
		ID:         uuid.NewString(),
		GuildID:    evt.GuildID,
		ChannelID:  evt.ChannelID,
		ActionKind: string(res.Action.Kind),
		Summary:    res.Action.Summary,
		Reason:     res.Action.Reason,
		MessageID:  res.Action.MessageID,
		Outcome:    res.Outcome,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
	if res.Action.TargetUserID != "" {
		target := res.Action.TargetUserID
		rec.TargetUserID = &target
	}
	if res.Err != nil {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		rec.Metadata["error"] = res.Err.Error()
	}
	if err := e.audit.InsertActionRecord(ctx, rec); err != nil {
		e.logger.Error("failed to write audit record", zap.Error(err))
	}
}

func (e *Engine) auditDecision(ctx context.Context, evt *model.Event, outcome model.Outcome, meta map[string]any, reasoning string) {
	rec := &model.ModerationActionRecord{
		ID:         uuid.NewString(),
		GuildID:    evt.GuildID,
		ChannelID:  evt.ChannelID,
		ActionKind: "decision",
		Summary:    truncate(reasoning, 500),
		MessageID:  evt.MessageID,
		Outcome:    outcome,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
	if err := e.audit.InsertActionRecord(ctx, rec); err != nil {
		e.logger.Error("failed to write decision record", zap.Error(err))
	}
}

// dedupeSends suppresses duplicate send_message actions with identical
// content, keeping the first. Providers occasionally emit the same
// reply twice in one decision.
func dedupeSends(actions []model.Action) []model.Action {
	seen := make(map[string]bool)
	out := actions[:0:0]
	for _, a := range actions {
		if a.Kind == model.ActionSendMessage {
			key := strings.TrimSpace(a.Message)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, a)
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
