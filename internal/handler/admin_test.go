package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

type fakeLearner struct {
	evt    *model.Event
	reason string
	rule   *model.HeuristicRule
	err    error
}

func (f *fakeLearner) HandleFlagged(_ context.Context, evt *model.Event, reason string) (*model.HeuristicRule, error) {
	f.evt = evt
	f.reason = reason
	return f.rule, f.err
}

func flagRouter(t *testing.T, learner Learner) chi.Router {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatal(err)
	}
	h := NewAdminHandler(nil, nil, nil, learner, log)

	r := chi.NewRouter()
	r.Post("/guilds/{guildID}/flags", h.FlagMessage)
	return r
}

func postFlag(r chi.Router, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/guilds/123456789/flags", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestFlagMessageLearnsRule(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	guildID := "123456789"
	learner := &fakeLearner{rule: &model.HeuristicRule{
		ID: 7, GuildID: &guildID, RuleType: "scam", Pattern: "free robux",
		Kind: model.PatternContains, Confidence: 0.85, Severity: model.SeverityHigh,
	}}
	r := flagRouter(t, learner)

	rec := postFlag(r, `{
		"channel_id": "111",
		"message_id": "222",
		"author_id": "333",
		"author_name": "mallory",
		"content": "dm me for free robux",
		"reason": "robux scam the bot missed"
	}`)
	require.Equal(http.StatusOK, rec.Code)

	var resp flagResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(resp.Learned)
	require.NotNil(resp.Rule)
	assert.Equal("free robux", resp.Rule.Pattern)

	require.NotNil(learner.evt)
	assert.Equal(model.EventModeratorFlag, learner.evt.Type)
	assert.Equal(guildID, learner.evt.GuildID)
	assert.Equal("222", learner.evt.MessageID)
	assert.Equal("dm me for free robux", learner.evt.Content)
	assert.Equal("robux scam the bot missed", learner.reason)
}

func TestFlagMessageNoRuleGenerated(t *testing.T) {
	assert := assert.New(t)
	r := flagRouter(t, &fakeLearner{})

	rec := postFlag(r, `{"channel_id":"111","message_id":"222","content":"spam","reason":"spam"}`)
	assert.Equal(http.StatusOK, rec.Code)

	var resp flagResponse
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(resp.Learned)
	assert.Nil(resp.Rule)
}

func TestFlagMessageRejectsBadInput(t *testing.T) {
	assert := assert.New(t)
	learner := &fakeLearner{}
	r := flagRouter(t, learner)

	cases := []string{
		`not json`,
		`{"channel_id":"not-a-snowflake","message_id":"222","content":"x","reason":"y"}`,
		`{"channel_id":"111","message_id":"abc","content":"x","reason":"y"}`,
		`{"channel_id":"111","message_id":"222","content":"","reason":"y"}`,
		`{"channel_id":"111","message_id":"222","content":"x","reason":""}`,
		fmt.Sprintf(`{"channel_id":"111","message_id":"222","content":"x","reason":%q}`, strings.Repeat("a", 501)),
	}
	for _, body := range cases {
		rec := postFlag(r, body)
		assert.Equal(http.StatusBadRequest, rec.Code, "body %s", body)
	}
	assert.Nil(learner.evt)
}

func TestFlagMessageProviderUnavailable(t *testing.T) {
	assert := assert.New(t)
	r := flagRouter(t, &fakeLearner{err: fmt.Errorf("provider decision: %w", llm.ErrUnavailable)})

	rec := postFlag(r, `{"channel_id":"111","message_id":"222","content":"spam","reason":"spam"}`)
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
}
