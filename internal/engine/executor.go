package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

// Executor applies validated actions through the platform client. Each
// action succeeds or fails on its own; one failure never aborts the
// rest of a decision.
type Executor struct {
	platform platform.Client
	logger   *logger.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(client platform.Client, log *logger.Logger) *Executor {
	return &Executor{platform: client, logger: log}
}

// Result records how one action resolved. Sent is the platform ack of
// the final chunk when the action produced a message.
type Result struct {
	Action  model.Action
	Outcome model.Outcome
	Err     error
	Sent    *platform.SentMessage
}

// enforcement reports whether the kind changes member or message state
// on the platform. Only enforcement actions are simulated in dry-run.
func enforcement(kind model.ActionKind) bool {
	switch kind {
	case model.ActionDeleteMessage, model.ActionWarn, model.ActionTimeout,
		model.ActionKick, model.ActionBan:
		return true
	}
	return false
}

// Apply executes one action. dryRun simulates enforcement actions;
// conversational sends and escalations still go out so administrators
// can observe the bot's judgment.
func (x *Executor) Apply(ctx context.Context, evt *model.Event, st *model.GuildState, action model.Action, threadID string, dryRun bool) Result {
	if !action.Kind.Valid() {
		return Result{Action: action, Outcome: model.OutcomeRejected, Err: fmt.Errorf("unknown action kind %q", action.Kind)}
	}
	if action.Kind == model.ActionNone {
		return Result{Action: action, Outcome: model.OutcomeNone}
	}
	if dryRun && enforcement(action.Kind) {
		x.logger.Info("dry-run: action simulated",
			zap.String("guild_id", evt.GuildID),
			zap.String("kind", string(action.Kind)),
			zap.String("target_user_id", action.TargetUserID),
			zap.String("reason", action.Reason))
		return Result{Action: action, Outcome: model.OutcomeSimulated}
	}

	var (
		sent *platform.SentMessage
		err  error
	)

	switch action.Kind {
	case model.ActionDeleteMessage:
		err = x.platform.DeleteMessage(ctx, evt.ChannelID, action.MessageID)
		// A duplicate delivery may have removed it already.
		if errors.Is(err, platform.ErrNotFound) {
			err = nil
		}
	case model.ActionWarn:
		msg := fmt.Sprintf("You have received a moderation warning: %s", action.Reason)
		err = x.platform.SendDM(ctx, action.TargetUserID, msg)
	case model.ActionTimeout:
		err = x.platform.TimeoutMember(ctx, evt.GuildID, action.TargetUserID,
			time.Duration(action.DurationMinutes)*time.Minute, action.Reason)
	case model.ActionKick:
		err = x.platform.KickMember(ctx, evt.GuildID, action.TargetUserID, action.Reason)
	case model.ActionBan:
		err = x.platform.BanMember(ctx, evt.GuildID, action.TargetUserID, action.Reason)
	case model.ActionSendMessage:
		sent, err = x.send(ctx, evt, action, threadID)
	case model.ActionEscalateToHuman:
		sent, err = x.escalate(ctx, evt, st, action)
	case model.ActionSuggestHeuristic:
		// Proposals are handled by the learning flow, not the platform.
		return Result{Action: action, Outcome: model.OutcomeNone}
	}

	if err != nil {
		outcome := model.OutcomeFailed
		if errors.Is(err, platform.ErrPermission) {
			x.logger.Warn("action exceeds bot permissions",
				zap.String("guild_id", evt.GuildID),
				zap.String("kind", string(action.Kind)),
				zap.String("target_user_id", action.TargetUserID))
		}
		return Result{Action: action, Outcome: outcome, Err: err}
	}
	return Result{Action: action, Outcome: model.OutcomeExecuted, Sent: sent}
}

// send delivers a message, chunking it to the platform limit. The
// first chunk carries the reply reference; the ack of the last chunk is
// returned so the conversation anchor moves to the end of the reply.
func (x *Executor) send(ctx context.Context, evt *model.Event, action model.Action, threadID string) (*platform.SentMessage, error) {
	channel := action.ChannelID
	if channel == "" {
		channel = evt.ChannelID
	}

	thread := ""
	if action.InThread {
		thread = threadID
	}

	chunks := platform.SplitMessage(action.Message, platform.MaxMessageLength)
	var last *platform.SentMessage
	for i, chunk := range chunks {
		req := platform.SendRequest{
			ChannelID: channel,
			ThreadID:  thread,
			Content:   chunk,
		}
		if i == 0 {
			req.ReplyToMessageID = action.ReplyToMessageID
		}
		sent, err := x.platform.SendMessage(ctx, req)
		if err != nil {
			if last != nil {
				return last, fmt.Errorf("sent %d of %d chunks: %w", i, len(chunks), err)
			}
			return nil, err
		}
		last = sent
	}
	return last, nil
}

// escalate surfaces the situation in the guild's logs channel. Without
// one configured the escalation still lands in the service log.
func (x *Executor) escalate(ctx context.Context, evt *model.Event, st *model.GuildState, action model.Action) (*platform.SentMessage, error) {
	x.logger.Warn("escalating to human moderators",
		zap.String("guild_id", evt.GuildID),
		zap.String("priority", action.Priority),
		zap.String("summary", action.Summary))

	if st.LogsChannelID == nil || *st.LogsChannelID == "" {
		return nil, nil
	}
	content := fmt.Sprintf("**Escalation (%s priority)**\n%s\nChannel: %s", action.Priority, action.Summary, evt.ChannelID)
	if evt.MessageID != "" {
		content += fmt.Sprintf("\nMessage: %s", evt.MessageID)
	}
	return x.platform.SendMessage(ctx, platform.SendRequest{
		ChannelID: *st.LogsChannelID,
		Content:   content,
	})
}
