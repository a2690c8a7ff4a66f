// Package platform abstracts the chat platform's action surface: the
// small set of enforcement and messaging operations the pipeline needs.
// The gateway transport itself lives outside this service.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MaxMessageLength is the platform's hard per-message character limit.
const MaxMessageLength = 2000

// Sentinel errors mapped from platform responses.
var (
	// ErrPermission means the requested action exceeds the bot's
	// privileges (e.g. the target outranks the bot).
	ErrPermission = errors.New("insufficient platform permissions")
	// ErrNotFound means the target no longer exists, e.g. a message
	// already deleted by a duplicate delivery.
	ErrNotFound = errors.New("platform entity not found")
)

// SendRequest describes one outbound message.
type SendRequest struct {
	ChannelID        string `json:"channel_id"`
	ThreadID         string `json:"thread_id,omitempty"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
}

// SentMessage is the platform's acknowledgement of a send.
type SentMessage struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// ChannelMessage is one entry of a channel's recent history.
type ChannelMessage struct {
	MessageID  string    `json:"message_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client is the platform action surface.
type Client interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendMessage(ctx context.Context, req SendRequest) (*SentMessage, error)
	SendDM(ctx context.Context, userID, content string) error
	TimeoutMember(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	CreateThread(ctx context.Context, channelID, messageID, name string) (string, error)
	GetRecentMessages(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error)
}

// RESTClient talks to the gateway sidecar's action API over HTTP.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient creates a platform client against the gateway API.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrPermission)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil)
}

func (c *RESTClient) SendMessage(ctx context.Context, req SendRequest) (*SentMessage, error) {
	var sent SentMessage
	channel := req.ChannelID
	if req.ThreadID != "" {
		channel = req.ThreadID
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channel), req, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

func (c *RESTClient) SendDM(ctx context.Context, userID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/messages", userID), body, nil)
}

func (c *RESTClient) TimeoutMember(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	body := map[string]any{"duration_seconds": int(duration.Seconds()), "reason": reason}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/guilds/%s/members/%s/timeout", guildID, userID), body, nil)
}

func (c *RESTClient) KickMember(ctx context.Context, guildID, userID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/members/%s/kick", guildID, userID), body, nil)
}

func (c *RESTClient) BanMember(ctx context.Context, guildID, userID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/members/%s/ban", guildID, userID), body, nil)
}

func (c *RESTClient) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	body := map[string]string{"message_id": messageID, "name": name}
	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/threads", channelID), body, &resp); err != nil {
		return "", err
	}
	return resp.ThreadID, nil
}

func (c *RESTClient) GetRecentMessages(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error) {
	var resp struct {
		Messages []ChannelMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
