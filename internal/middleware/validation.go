package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

// Platform snowflake ids are numeric strings.
var snowflakeRe = regexp.MustCompile(`^\d{1,20}$`)

// ValidateGuildID validates a guild identifier.
func ValidateGuildID(id string) error {
	if id == "" {
		return errors.New("guild ID cannot be empty")
	}
	if !snowflakeRe.MatchString(id) {
		return errors.New("invalid guild ID format")
	}
	return nil
}

// ValidateChannelID validates a channel identifier.
func ValidateChannelID(id string) error {
	if id == "" {
		return errors.New("channel ID cannot be empty")
	}
	if !snowflakeRe.MatchString(id) {
		return errors.New("invalid channel ID format")
	}
	return nil
}

// ValidateMessageID validates a message identifier.
func ValidateMessageID(id string) error {
	if id == "" {
		return errors.New("message ID cannot be empty")
	}
	if !snowflakeRe.MatchString(id) {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateFlagReason validates a moderator's flag explanation.
func ValidateFlagReason(reason string) error {
	if reason == "" {
		return errors.New("reason cannot be empty")
	}
	if len(reason) > 500 {
		return errors.New("reason exceeds maximum length")
	}
	if !utf8.ValidString(reason) {
		return errors.New("reason must be valid UTF-8")
	}
	return nil
}

// ValidateMemoryContent validates an administrator memory entry.
func ValidateMemoryContent(content string) error {
	if content == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > 4000 {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateLabel validates a context channel label.
func ValidateLabel(label string) error {
	if label == "" {
		return errors.New("label cannot be empty")
	}
	if len(label) > 100 {
		return errors.New("label exceeds maximum length")
	}
	if !utf8.ValidString(label) {
		return errors.New("label must be valid UTF-8")
	}
	return nil
}
