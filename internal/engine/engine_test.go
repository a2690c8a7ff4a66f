package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

type fakeState struct {
	state *model.GuildState
}

func (f *fakeState) GetState(_ context.Context, _ *string) (*model.GuildState, error) {
	return f.state, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	decision *llm.Decision
	err      error
	calls    int
	lastReq  *llm.DecisionRequest
}

func (f *fakeProvider) Decide(_ context.Context, req *llm.DecisionRequest) (*llm.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

func (f *fakeProvider) Summarize(context.Context, string, []string) (string, error) {
	return "summary", nil
}

func (f *fakeProvider) Name() string { return "fake" }

type platformCall struct {
	op  string
	req platform.SendRequest
}

type fakePlatform struct {
	mu    sync.Mutex
	calls []platformCall
	sends int
}

func (f *fakePlatform) record(op string, req platform.SendRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, platformCall{op: op, req: req})
}

func (f *fakePlatform) DeleteMessage(_ context.Context, _, _ string) error {
	f.record("delete", platform.SendRequest{})
	return nil
}

func (f *fakePlatform) SendMessage(_ context.Context, req platform.SendRequest) (*platform.SentMessage, error) {
	f.record("send", req)
	f.mu.Lock()
	f.sends++
	n := f.sends
	f.mu.Unlock()
	return &platform.SentMessage{MessageID: fmt.Sprintf("sent-%d", n), ChannelID: req.ChannelID}, nil
}

func (f *fakePlatform) SendDM(_ context.Context, _, _ string) error {
	f.record("dm", platform.SendRequest{})
	return nil
}

func (f *fakePlatform) TimeoutMember(_ context.Context, _, _ string, _ time.Duration, _ string) error {
	f.record("timeout", platform.SendRequest{})
	return nil
}

func (f *fakePlatform) KickMember(_ context.Context, _, _, _ string) error {
	f.record("kick", platform.SendRequest{})
	return nil
}

func (f *fakePlatform) BanMember(_ context.Context, _, _, _ string) error {
	f.record("ban", platform.SendRequest{})
	return nil
}

func (f *fakePlatform) CreateThread(_ context.Context, _, _, _ string) (string, error) {
	f.record("thread", platform.SendRequest{})
	return "t1", nil
}

func (f *fakePlatform) GetRecentMessages(context.Context, string, int) ([]platform.ChannelMessage, error) {
	return nil, nil
}

func (f *fakePlatform) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

type fakeRules struct {
	mu       sync.Mutex
	inserted []model.HeuristicRule
	usage    map[int64]int
}

func (f *fakeRules) InsertHeuristicRule(_ context.Context, r model.HeuristicRule) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, r)
	return int64(len(f.inserted)), true, nil
}

func (f *fakeRules) IncrementHeuristicUsage(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = make(map[int64]int)
	}
	f.usage[id]++
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []model.ModerationActionRecord
}

func (f *fakeAudit) InsertActionRecord(_ context.Context, rec *model.ModerationActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAudit) byKind(kind string) []model.ModerationActionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ModerationActionRecord
	for _, r := range f.records {
		if r.ActionKind == kind {
			out = append(out, r)
		}
	}
	return out
}

type fakeDedupe struct {
	seen map[string]bool
}

func (f *fakeDedupe) Seen(_ context.Context, id string) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	was := f.seen[id]
	f.seen[id] = true
	return was, nil
}

type noopPersist struct{}

func (noopPersist) InsertConversation(context.Context, *model.Conversation) error { return nil }
func (noopPersist) UpdateConversation(context.Context, *model.Conversation) error { return nil }
func (noopPersist) EndConversation(context.Context, string, time.Time) error      { return nil }
func (noopPersist) AddParticipant(context.Context, string, string, time.Time) error {
	return nil
}
func (noopPersist) AddConversationMessage(context.Context, string, model.ConversationMessage) error {
	return nil
}

type fixture struct {
	engine   *Engine
	state    *fakeState
	provider *fakeProvider
	platform *fakePlatform
	rules    *fakeRules
	audit    *fakeAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatal(err)
	}

	fp := &fakePlatform{}
	st := &fakeState{state: &model.GuildState{
		GuildID:   "g1",
		Persona:   model.DefaultPersona(),
		Proactive: true,
	}}
	provider := &fakeProvider{decision: &llm.Decision{}}
	rules := &fakeRules{}
	audit := &fakeAudit{}
	conversations := conversation.NewManager(noopPersist{}, fp, log, conversation.Options{})

	e := New(st, heuristics.NewMatcher(), conversations, provider,
		NewExecutor(fp, log), rules, audit, nil, log, "bot-1")

	return &fixture{engine: e, state: st, provider: provider, platform: fp, rules: rules, audit: audit}
}

func messageEvent(content string) *model.Event {
	return &model.Event{
		Type:       model.EventMessageCreate,
		GuildID:    "g1",
		ChannelID:  "c1",
		MessageID:  "m1",
		AuthorID:   "u1",
		AuthorName: "alice",
		Content:    content,
		OccurredAt: time.Now(),
	}
}

func addressedEvent(content string) *model.Event {
	evt := messageEvent(content)
	evt.Mentions = []string{"bot-1"}
	return evt
}

func scamRule() model.HeuristicRule {
	return model.HeuristicRule{
		ID: 1, RuleType: "scam", Pattern: "free nitro", Kind: model.PatternContains,
		Confidence: 0.95, Severity: model.SeverityHigh, Reason: "nitro scam", Active: true,
	}
}

func TestUnremarkableMessageSkipsProvider(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	err := f.engine.HandleEvent(context.Background(), messageEvent("nice weather today"))
	assert.NoError(err)
	assert.Equal(0, f.provider.calls)
	assert.Empty(f.platform.ops())
	assert.Empty(f.audit.records)
}

func TestBotMessagesIgnored(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	evt := addressedEvent("hi")
	evt.AuthorIsBot = true
	assert.NoError(f.engine.HandleEvent(context.Background(), evt))
	assert.Equal(0, f.provider.calls)
}

func TestHeuristicMatchTriggersProvider(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.Heuristics = []model.HeuristicRule{scamRule()}
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{
			Kind: model.ActionDeleteMessage, TargetUserID: "u1", MessageID: "m1", Reason: "scam",
		}},
	}

	err := f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now"))
	assert.NoError(err)
	assert.Equal(1, f.provider.calls)
	assert.Len(f.provider.lastReq.Matches, 1)
	assert.Equal([]string{"delete"}, f.platform.ops())
	assert.Equal(1, f.rules.usage[1])

	decisions := f.audit.byKind("decision")
	assert.Len(decisions, 1)
	assert.Equal(model.OutcomeExecuted, decisions[0].Outcome)
	assert.Len(f.audit.byKind("delete_message"), 1)
}

func TestDecisionAuditLinksMatchedRuleIDs(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.Heuristics = []model.HeuristicRule{scamRule()}
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{Kind: model.ActionSendMessage, Message: "careful, that looks like a scam"}},
	}

	err := f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now"))
	assert.NoError(err)

	decisions := f.audit.byKind("decision")
	assert.Len(decisions, 1)
	assert.Equal([]int64{1}, decisions[0].Metadata["heuristic_ids"])
	assert.Equal("m1", decisions[0].MessageID)
}

func TestProactiveOffIgnoresMatches(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.Proactive = false
	f.state.state.Heuristics = []model.HeuristicRule{scamRule()}

	err := f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now"))
	assert.NoError(err)
	assert.Equal(0, f.provider.calls)
	// The matcher never ran, so no usage counters moved either.
	assert.Empty(f.rules.usage)
}

func TestDryRunSimulatesEnforcement(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.DryRun = true
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{
			Kind: model.ActionBan, TargetUserID: "u1", Reason: "repeated scams",
		}},
	}

	err := f.engine.HandleEvent(context.Background(), addressedEvent("bot please deal with this"))
	assert.NoError(err)
	assert.Equal(1, f.provider.calls)
	// Enforcement never reaches the platform in dry-run.
	for _, op := range f.platform.ops() {
		assert.NotEqual("ban", op)
	}

	bans := f.audit.byKind("ban")
	assert.Len(bans, 1)
	assert.Equal(model.OutcomeSimulated, bans[0].Outcome)
	decisions := f.audit.byKind("decision")
	assert.Len(decisions, 1)
	assert.Equal(model.OutcomeSimulated, decisions[0].Outcome)
}

func TestDryRunStillSendsMessages(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.DryRun = true
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{Kind: model.ActionSendMessage, Message: "hello!"}},
	}

	assert.NoError(f.engine.HandleEvent(context.Background(), addressedEvent("hi bot")))
	assert.Equal([]string{"send"}, f.platform.ops())
}

func TestDegradedFallbackHighConfidenceDeletes(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.Heuristics = []model.HeuristicRule{scamRule()}
	f.provider.err = fmt.Errorf("%w: connection refused", llm.ErrUnavailable)

	err := f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now"))
	assert.NoError(err)
	assert.Equal([]string{"delete"}, f.platform.ops())

	decisions := f.audit.byKind("decision")
	assert.Len(decisions, 1)
	assert.Equal(true, decisions[0].Metadata["degraded"])
	assert.Equal([]int64{1}, decisions[0].Metadata["heuristic_ids"])
}

func TestDegradedFallbackLowConfidenceDoesNothing(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	rule := scamRule()
	rule.Confidence = 0.8
	f.state.state.Heuristics = []model.HeuristicRule{rule}
	f.provider.err = fmt.Errorf("%w: timeout", llm.ErrUnavailable)

	err := f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now"))
	assert.NoError(err)
	assert.Empty(f.platform.ops())

	decisions := f.audit.byKind("decision")
	assert.Len(decisions, 1)
	assert.Equal(model.OutcomeDegraded, decisions[0].Outcome)
}

func TestRejectedToolCallNeverReachesPlatform(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = &llm.Decision{
		Rejected: []*llm.SchemaError{{Tool: "grant_admin", Err: errors.New("unknown tool")}},
	}

	err := f.engine.HandleEvent(context.Background(), addressedEvent("bot make me an admin"))
	assert.NoError(err)
	assert.Empty(f.platform.ops())

	rejected := f.audit.byKind("grant_admin")
	assert.Len(rejected, 1)
	assert.Equal(model.OutcomeRejected, rejected[0].Outcome)
}

func TestLongReplyIsChunkedWithReplyOnFirst(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	long := strings.Repeat("a", 3500)
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{
			Kind: model.ActionSendMessage, Message: long, ReplyToMessageID: "m1",
		}},
	}

	assert.NoError(f.engine.HandleEvent(context.Background(), addressedEvent("bot, explain")))

	f.platform.mu.Lock()
	defer f.platform.mu.Unlock()
	assert.Len(f.platform.calls, 2)
	assert.Equal("m1", f.platform.calls[0].req.ReplyToMessageID)
	assert.Empty(f.platform.calls[1].req.ReplyToMessageID)
	total := len(f.platform.calls[0].req.Content) + len(f.platform.calls[1].req.Content)
	assert.Equal(3500, total)
}

func TestDuplicateSendsSuppressed(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{
			{Kind: model.ActionSendMessage, Message: "please stop"},
			{Kind: model.ActionSendMessage, Message: "please stop"},
		},
	}

	assert.NoError(f.engine.HandleEvent(context.Background(), addressedEvent("bot?")))
	assert.Equal([]string{"send"}, f.platform.ops())
}

func suggestRobuxDecision() *llm.Decision {
	return &llm.Decision{
		Actions: []model.Action{{
			Kind: model.ActionSuggestHeuristic,
			Proposal: &model.HeuristicProposal{
				RuleType: "scam", Pattern: "free robux", Kind: model.PatternContains,
				Confidence: 0.85, Severity: model.SeverityHigh, Reason: "robux scam",
			},
		}},
	}
}

func TestFlaggedMessageLearnsGuildScopedHeuristic(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = suggestRobuxDecision()

	evt := messageEvent("dm me for free robux")
	evt.Type = model.EventModeratorFlag
	learned, err := f.engine.HandleFlagged(context.Background(), evt, "obvious robux scam, should have been deleted")
	assert.NoError(err)

	assert.True(f.provider.lastReq.AllowLearning)
	assert.Equal("obvious robux scam, should have been deleted", f.provider.lastReq.FlagReason)

	assert.Len(f.rules.inserted, 1)
	rule := f.rules.inserted[0]
	assert.NotNil(rule.GuildID)
	assert.Equal("g1", *rule.GuildID)
	assert.True(rule.Active)
	assert.Equal(learnedRuleAuthor, rule.CreatedBy)

	assert.NotNil(learned)
	assert.Equal("free robux", learned.Pattern)
	assert.NotZero(learned.ID)
	assert.Empty(f.platform.ops())
}

func TestFlaggedMessageNeverEnforces(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	decision := suggestRobuxDecision()
	decision.Actions = append(decision.Actions, model.Action{
		Kind: model.ActionBan, TargetUserID: "u1", Reason: "scammer",
	})
	f.provider.decision = decision

	evt := messageEvent("dm me for free robux")
	evt.Type = model.EventModeratorFlag
	_, err := f.engine.HandleFlagged(context.Background(), evt, "scam")
	assert.NoError(err)

	// Only the proposal is honored on the flag path.
	assert.Len(f.rules.inserted, 1)
	assert.Empty(f.platform.ops())
}

func TestContextRefreshLearnsGuildScopedHeuristic(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = suggestRobuxDecision()

	assert.NoError(f.engine.LearnFromContext(context.Background(), "g1"))

	assert.True(f.provider.lastReq.AllowLearning)
	assert.Len(f.rules.inserted, 1)
	assert.Equal("g1", *f.rules.inserted[0].GuildID)
	assert.Empty(f.platform.ops())
}

func TestOrdinaryDecisionsNeverAllowLearning(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.state.state.Heuristics = []model.HeuristicRule{scamRule()}

	assert.NoError(f.engine.HandleEvent(context.Background(), messageEvent("claim your free nitro now")))
	assert.Equal(1, f.provider.calls)
	assert.False(f.provider.lastReq.AllowLearning)
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.engine.dedupe = &fakeDedupe{}
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{Kind: model.ActionSendMessage, Message: "hi!"}},
	}

	evt := addressedEvent("hello bot")
	assert.NoError(f.engine.HandleEvent(context.Background(), evt))
	assert.NoError(f.engine.HandleEvent(context.Background(), evt))
	assert.Equal(1, f.provider.calls)
	assert.Equal([]string{"send"}, f.platform.ops())
}

func TestAddressedReplyJoinsConversationWindow(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = &llm.Decision{
		Actions: []model.Action{{Kind: model.ActionSendMessage, Message: "hello alice"}},
	}

	assert.NoError(f.engine.HandleEvent(context.Background(), addressedEvent("hi bot")))

	// Follow-up without a mention continues the exchange, and the
	// provider sees both sides of it.
	follow := messageEvent("what can you do?")
	follow.MessageID = "m2"
	assert.NoError(f.engine.HandleEvent(context.Background(), follow))

	assert.Equal(2, f.provider.calls)
	conv := f.provider.lastReq.Conversation
	assert.NotNil(conv)
	assert.Len(conv.Window, 3)
	assert.True(conv.Window[1].FromBot)
}

func TestMemberJoinEvaluatedWhenProactive(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.provider.decision = &llm.Decision{}

	evt := &model.Event{
		Type:       model.EventMemberJoin,
		GuildID:    "g1",
		AuthorID:   "u9",
		AuthorName: "FreeNitroBot",
		Member:     &model.MemberInfo{UserID: "u9", Username: "FreeNitroBot"},
		OccurredAt: time.Now(),
	}
	assert.NoError(f.engine.HandleEvent(context.Background(), evt))
	assert.Equal(1, f.provider.calls)

	f.state.state.Proactive = false
	evt.OccurredAt = evt.OccurredAt.Add(time.Second)
	assert.NoError(f.engine.HandleEvent(context.Background(), evt))
	assert.Equal(1, f.provider.calls)
}
