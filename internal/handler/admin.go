// Package handler provides HTTP handlers for the admin API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/llm"
	"github.com/lukeocodes/mod-gpt/internal/middleware"
	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/internal/state"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
)

// AdminStore is the persistence slice the admin API reads directly.
// *store.DB satisfies it.
type AdminStore interface {
	ListHeuristics(ctx context.Context, guildID string) ([]model.HeuristicRule, error)
	DeactivateHeuristic(ctx context.Context, guildID string, id int64) (bool, error)
	ListActionRecords(ctx context.Context, guildID string, limit int) ([]model.ModerationActionRecord, error)
}

// Learner is the flag-triggered learning entry point. *engine.Engine
// satisfies it.
type Learner interface {
	HandleFlagged(ctx context.Context, evt *model.Event, reason string) (*model.HeuristicRule, error)
}

// AdminHandler serves guild administration endpoints.
type AdminHandler struct {
	state         *state.Store
	store         AdminStore
	conversations *conversation.Manager
	learner       Learner
	logger        *logger.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(st *state.Store, store AdminStore, conversations *conversation.Manager, learner Learner, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		state:         st,
		store:         store,
		conversations: conversations,
		learner:       learner,
		logger:        log,
	}
}

// guildID extracts and validates the guild route param, enforcing the
// token's guild scope. Returns "" after writing the error response.
func (h *AdminHandler) guildID(w http.ResponseWriter, r *http.Request) string {
	id := chi.URLParam(r, "guildID")
	if err := middleware.ValidateGuildID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ""
	}
	if !middleware.GuildAllowed(r.Context(), id) {
		writeError(w, http.StatusForbidden, "token not scoped to this guild")
		return ""
	}
	return id
}

// GetState handles GET /api/v1/guilds/{guildID}
func (h *AdminHandler) GetState(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	st, err := h.state.GetState(r.Context(), &guildID)
	if err != nil {
		h.logger.Error("failed to compose guild state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load guild state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetPersona handles PUT /api/v1/guilds/{guildID}/persona
func (h *AdminHandler) SetPersona(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var p model.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "persona name cannot be empty")
		return
	}

	if err := h.state.SetPersona(r.Context(), guildID, p); err != nil {
		h.logger.Error("failed to set persona", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to set persona")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetDryRun handles PUT /api/v1/guilds/{guildID}/dry-run
func (h *AdminHandler) SetDryRun(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.state.SetDryRun)
}

// SetProactive handles PUT /api/v1/guilds/{guildID}/proactive
func (h *AdminHandler) SetProactive(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.state.SetProactive)
}

func (h *AdminHandler) toggle(w http.ResponseWriter, r *http.Request, set func(context.Context, string, bool) error) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := set(r.Context(), guildID, req.Enabled); err != nil {
		h.logger.Error("failed to update setting", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update setting")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type channelRequest struct {
	ChannelID *string `json:"channel_id"`
}

// SetLogsChannel handles PUT /api/v1/guilds/{guildID}/logs-channel
func (h *AdminHandler) SetLogsChannel(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChannelID != nil {
		if err := middleware.ValidateChannelID(*req.ChannelID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.state.SetLogsChannel(r.Context(), guildID, req.ChannelID); err != nil {
		h.logger.Error("failed to set logs channel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to set logs channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type textRequest struct {
	Value *string `json:"value"`
}

// SetNickname handles PUT /api/v1/guilds/{guildID}/nickname
func (h *AdminHandler) SetNickname(w http.ResponseWriter, r *http.Request) {
	h.setText(w, r, h.state.SetNickname)
}

// SetPrompt handles PUT /api/v1/guilds/{guildID}/prompt
func (h *AdminHandler) SetPrompt(w http.ResponseWriter, r *http.Request) {
	h.setText(w, r, h.state.SetBuiltInPrompt)
}

func (h *AdminHandler) setText(w http.ResponseWriter, r *http.Request, set func(context.Context, string, *string) error) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := set(r.Context(), guildID, req.Value); err != nil {
		h.logger.Error("failed to update setting", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memoryRequest struct {
	Content string `json:"content"`
	Author  string `json:"author"`
}

// AddMemory handles POST /api/v1/guilds/{guildID}/memories
func (h *AdminHandler) AddMemory(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMemoryContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	author := req.Author
	if author == "" {
		author = middleware.GetUserID(r.Context())
	}
	mem, err := h.state.AddMemory(r.Context(), guildID, req.Content, author, middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to add memory", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add memory")
		return
	}
	writeJSON(w, http.StatusCreated, mem)
}

// DeleteMemory handles DELETE /api/v1/guilds/{guildID}/memories/{id}
func (h *AdminHandler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory ID")
		return
	}

	removed, err := h.state.RemoveMemory(r.Context(), guildID, id)
	if err != nil {
		h.logger.Error("failed to delete memory", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contextChannelRequest struct {
	ChannelID string  `json:"channel_id"`
	Label     string  `json:"label"`
	Notes     *string `json:"notes,omitempty"`
}

// AddContextChannel handles POST /api/v1/guilds/{guildID}/context-channels
func (h *AdminHandler) AddContextChannel(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req contextChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateChannelID(req.ChannelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateLabel(req.Label); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cc := model.ContextChannel{
		ChannelID: req.ChannelID,
		GuildID:   guildID,
		Label:     req.Label,
		Notes:     req.Notes,
	}
	if err := h.state.AddContextChannel(r.Context(), cc); err != nil {
		h.logger.Error("failed to add context channel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add context channel")
		return
	}
	writeJSON(w, http.StatusCreated, cc)
}

// DeleteContextChannel handles DELETE /api/v1/guilds/{guildID}/context-channels/{channelID}
func (h *AdminHandler) DeleteContextChannel(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	channelID := chi.URLParam(r, "channelID")
	removed, err := h.state.RemoveContextChannel(r.Context(), guildID, channelID)
	if err != nil {
		h.logger.Error("failed to delete context channel", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete context channel")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "context channel not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flagRequest struct {
	ChannelID  string `json:"channel_id"`
	MessageID  string `json:"message_id"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Content    string `json:"content"`
	Reason     string `json:"reason"`
}

type flagResponse struct {
	Learned bool                 `json:"learned"`
	Rule    *model.HeuristicRule `json:"rule,omitempty"`
}

// FlagMessage handles POST /api/v1/guilds/{guildID}/flags
//
// A moderator reports a message that should have been caught; the
// reasoning provider generates a detection heuristic from it, scoped to
// this guild.
func (h *AdminHandler) FlagMessage(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateChannelID(req.ChannelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(req.MessageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateFlagReason(req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	evt := &model.Event{
		Type:       model.EventModeratorFlag,
		GuildID:    guildID,
		ChannelID:  req.ChannelID,
		MessageID:  req.MessageID,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Content:    req.Content,
		OccurredAt: time.Now(),
	}
	rule, err := h.learner.HandleFlagged(r.Context(), evt, req.Reason)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "reasoning provider unavailable")
			return
		}
		h.logger.Error("failed to learn from flagged message",
			zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process flag")
		return
	}
	writeJSON(w, http.StatusOK, flagResponse{Learned: rule != nil, Rule: rule})
}

// ListHeuristics handles GET /api/v1/guilds/{guildID}/heuristics
func (h *AdminHandler) ListHeuristics(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	rules, err := h.store.ListHeuristics(r.Context(), guildID)
	if err != nil {
		h.logger.Error("failed to list heuristics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list heuristics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// DeactivateHeuristic handles DELETE /api/v1/guilds/{guildID}/heuristics/{id}
//
// Rules are soft-deleted; the row and its match history survive. Global
// rules cannot be deactivated through a guild-scoped call.
func (h *AdminHandler) DeactivateHeuristic(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	done, err := h.store.DeactivateHeuristic(r.Context(), guildID, id)
	if err != nil {
		h.logger.Error("failed to deactivate heuristic", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to deactivate heuristic")
		return
	}
	if !done {
		writeError(w, http.StatusNotFound, "rule not found in this guild")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListActions handles GET /api/v1/guilds/{guildID}/actions
func (h *AdminHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := h.store.ListActionRecords(r.Context(), guildID, limit)
	if err != nil {
		h.logger.Error("failed to list action records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": records})
}

// CloseConversation handles POST /api/v1/guilds/{guildID}/channels/{channelID}/close
func (h *AdminHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	guildID := h.guildID(w, r)
	if guildID == "" {
		return
	}

	channelID := chi.URLParam(r, "channelID")
	if err := middleware.ValidateChannelID(channelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.conversations.Close(r.Context(), guildID, channelID) {
		writeError(w, http.StatusNotFound, "no active conversation in this channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type llmSettingsRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// SetLLMSettings handles PUT /api/v1/llm. Process-wide, admin scope
// only; requires a restart to take effect on the live provider.
func (h *AdminHandler) SetLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Provider {
	case "openai", "anthropic":
	default:
		writeError(w, http.StatusBadRequest, "provider must be openai or anthropic")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key cannot be empty")
		return
	}

	settings := model.LLMSettings{
		Provider: req.Provider,
		APIKey:   req.APIKey,
		Model:    req.Model,
		BaseURL:  req.BaseURL,
	}
	if err := h.state.SetLLMSettings(r.Context(), settings); err != nil {
		h.logger.Error("failed to store llm settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
