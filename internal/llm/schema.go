package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// Tool names exposed to reasoning providers.
const (
	toolTakeModerationAction = "take_moderation_action"
	toolSendMessage          = "send_message"
	toolEscalateToHuman      = "escalate_to_human"
	toolSuggestHeuristic     = "suggest_heuristic"
)

// maxPatternLength bounds proposed heuristic patterns.
const maxPatternLength = 512

// SchemaError reports a tool call that failed validation. The offending
// call is dropped from the decision and recorded in the audit log.
type SchemaError struct {
	Tool string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool call %q rejected: %v", e.Tool, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Tool is a provider-neutral tool definition. Parameters holds a JSON
// Schema object in the shape both SDKs accept.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// moderationActions are the action values take_moderation_action
// accepts. send_message and escalation have dedicated tools.
var moderationActions = []string{"delete_message", "warn", "timeout", "kick", "ban", "no_action"}

// toolset returns the tool definitions for one decision. The heuristic
// proposal tool is only offered on the learning flow.
func toolset(allowLearning bool) []Tool {
	tools := []Tool{
		{
			Name:        toolTakeModerationAction,
			Description: "Take a moderation action against a user. Use no_action to explicitly decline.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": moderationActions,
					},
					"user_id": map[string]any{
						"type":        "string",
						"description": "ID of the user the action targets.",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "Short human-readable justification, shown in the audit log.",
					},
					"message_id": map[string]any{
						"type":        "string",
						"description": "Message to remove. Required for delete_message.",
					},
					"duration_minutes": map[string]any{
						"type":        "integer",
						"description": "Timeout length. Required for timeout.",
					},
				},
				"required": []string{"action", "reason"},
			},
		},
		{
			Name:        toolSendMessage,
			Description: "Send a chat message, optionally as a reply or into the active thread.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type": "string",
					},
					"channel_id": map[string]any{
						"type":        "string",
						"description": "Defaults to the channel the event arrived in.",
					},
					"reply_to_message_id": map[string]any{
						"type": "string",
					},
					"in_thread": map[string]any{
						"type":        "boolean",
						"description": "Send into the active conversation thread.",
					},
					"thread_name": map[string]any{
						"type": "string",
					},
				},
				"required": []string{"message"},
			},
		},
		{
			Name:        toolEscalateToHuman,
			Description: "Flag the situation for a human moderator instead of acting.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{
						"type": "string",
					},
					"priority": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
				},
				"required": []string{"summary", "priority"},
			},
		},
	}
	if allowLearning {
		tools = append(tools, Tool{
			Name:        toolSuggestHeuristic,
			Description: "Propose a reusable detection pattern for content like this.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rule_type": map[string]any{
						"type":        "string",
						"description": "Violation category, e.g. scam, slur, phishing.",
					},
					"pattern": map[string]any{
						"type": "string",
					},
					"pattern_type": map[string]any{
						"type": "string",
						"enum": []string{"exact", "regex", "fuzzy", "contains"},
					},
					"confidence": map[string]any{
						"type":    "number",
						"minimum": 0,
						"maximum": 1,
					},
					"severity": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high", "critical"},
					},
					"reason": map[string]any{
						"type": "string",
					},
				},
				"required": []string{"rule_type", "pattern", "pattern_type", "confidence", "severity", "reason"},
			},
		})
	}
	return tools
}

type moderationArgs struct {
	Action          string `json:"action"`
	UserID          string `json:"user_id"`
	Reason          string `json:"reason"`
	MessageID       string `json:"message_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

type sendMessageArgs struct {
	Message          string `json:"message"`
	ChannelID        string `json:"channel_id"`
	ReplyToMessageID string `json:"reply_to_message_id"`
	InThread         bool   `json:"in_thread"`
	ThreadName       string `json:"thread_name"`
}

type escalateArgs struct {
	Summary  string `json:"summary"`
	Priority string `json:"priority"`
}

type heuristicArgs struct {
	RuleType   string  `json:"rule_type"`
	Pattern    string  `json:"pattern"`
	Kind       string  `json:"pattern_type"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
	Reason     string  `json:"reason"`
}

// DecodeToolCall validates one tool invocation and converts it into a
// typed action. allowLearning mirrors the toolset offered to the
// provider; a heuristic proposal outside the learning flow is rejected
// even if the model emits one anyway.
func DecodeToolCall(name string, args []byte, allowLearning bool) (model.Action, *SchemaError) {
	reject := func(err error) (model.Action, *SchemaError) {
		return model.Action{}, &SchemaError{Tool: name, Err: err}
	}

	switch name {
	case toolTakeModerationAction:
		var a moderationArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return reject(fmt.Errorf("malformed arguments: %w", err))
		}
		kind := model.ActionKind(a.Action)
		switch kind {
		case model.ActionDeleteMessage, model.ActionWarn, model.ActionTimeout,
			model.ActionKick, model.ActionBan, model.ActionNone:
		default:
			return reject(fmt.Errorf("unknown moderation action %q", a.Action))
		}
		if kind != model.ActionNone && a.UserID == "" {
			return reject(fmt.Errorf("%s requires user_id", a.Action))
		}
		if kind == model.ActionDeleteMessage && a.MessageID == "" {
			return reject(fmt.Errorf("delete_message requires message_id"))
		}
		if kind == model.ActionTimeout && a.DurationMinutes <= 0 {
			return reject(fmt.Errorf("timeout requires a positive duration_minutes"))
		}
		return model.Action{
			Kind:            kind,
			TargetUserID:    a.UserID,
			Reason:          a.Reason,
			MessageID:       a.MessageID,
			DurationMinutes: a.DurationMinutes,
		}, nil

	case toolSendMessage:
		var a sendMessageArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return reject(fmt.Errorf("malformed arguments: %w", err))
		}
		if strings.TrimSpace(a.Message) == "" {
			return reject(fmt.Errorf("send_message requires a non-empty message"))
		}
		return model.Action{
			Kind:             model.ActionSendMessage,
			Message:          a.Message,
			ChannelID:        a.ChannelID,
			ReplyToMessageID: a.ReplyToMessageID,
			InThread:         a.InThread,
			ThreadName:       a.ThreadName,
		}, nil

	case toolEscalateToHuman:
		var a escalateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return reject(fmt.Errorf("malformed arguments: %w", err))
		}
		if a.Summary == "" {
			return reject(fmt.Errorf("escalate_to_human requires a summary"))
		}
		switch a.Priority {
		case "low", "medium", "high":
		default:
			return reject(fmt.Errorf("unknown priority %q", a.Priority))
		}
		return model.Action{
			Kind:     model.ActionEscalateToHuman,
			Summary:  a.Summary,
			Priority: a.Priority,
		}, nil

	case toolSuggestHeuristic:
		if !allowLearning {
			return reject(fmt.Errorf("heuristic proposals are not accepted on this flow"))
		}
		var a heuristicArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return reject(fmt.Errorf("malformed arguments: %w", err))
		}
		kind := model.PatternKind(a.Kind)
		if !kind.Valid() {
			return reject(fmt.Errorf("unknown pattern type %q", a.Kind))
		}
		severity := model.Severity(a.Severity)
		if !severity.Valid() {
			return reject(fmt.Errorf("unknown severity %q", a.Severity))
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			return reject(fmt.Errorf("confidence %v outside [0, 1]", a.Confidence))
		}
		if strings.TrimSpace(a.Pattern) == "" {
			return reject(fmt.Errorf("suggest_heuristic requires a pattern"))
		}
		if len(a.Pattern) > maxPatternLength {
			return reject(fmt.Errorf("pattern exceeds %d bytes", maxPatternLength))
		}
		return model.Action{
			Kind: model.ActionSuggestHeuristic,
			Proposal: &model.HeuristicProposal{
				RuleType:   a.RuleType,
				Pattern:    a.Pattern,
				Kind:       kind,
				Confidence: a.Confidence,
				Severity:   severity,
				Reason:     a.Reason,
			},
		}, nil
	}

	return reject(fmt.Errorf("unknown tool"))
}

// rawToolCall is the wire shape used by providers without native tool
// calling: a JSON array of {"tool": ..., "arguments": {...}} objects.
type rawToolCall struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseActionsJSON extracts the first JSON array from freeform model
// output and decodes each entry through the same validation path as
// native tool calls. A reply with no array at all is treated as an
// explicit no-op, not an error.
func parseActionsJSON(content string, allowLearning bool) ([]model.Action, []*SchemaError) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, nil
	}

	var calls []rawToolCall
	if err := json.Unmarshal([]byte(content[start:end+1]), &calls); err != nil {
		return nil, []*SchemaError{{Tool: "response", Err: fmt.Errorf("malformed action payload: %w", err)}}
	}

	var (
		actions []model.Action
		errs    []*SchemaError
	)
	for _, call := range calls {
		action, serr := DecodeToolCall(call.Tool, call.Arguments, allowLearning)
		if serr != nil {
			errs = append(errs, serr)
			continue
		}
		actions = append(actions, action)
	}
	return actions, errs
}
