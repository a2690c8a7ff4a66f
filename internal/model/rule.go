// Package model defines data structures for the moderation pipeline.
package model

import (
	"time"
)

// PatternKind determines how a heuristic pattern is evaluated.
type PatternKind string

const (
	PatternExact    PatternKind = "exact"
	PatternRegex    PatternKind = "regex"
	PatternFuzzy    PatternKind = "fuzzy"
	PatternContains PatternKind = "contains"
)

// Valid reports whether the pattern kind is one of the four supported kinds.
func (k PatternKind) Valid() bool {
	switch k {
	case PatternExact, PatternRegex, PatternFuzzy, PatternContains:
		return true
	}
	return false
}

// Severity grades how serious a matched violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known grade.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// HeuristicRule is a fast-path pattern detector. A nil GuildID marks a
// global rule visible to every guild; a non-nil GuildID scopes the rule
// to that guild only. Rules are soft-deleted by clearing Active.
type HeuristicRule struct {
	ID         int64       `json:"id"`
	GuildID    *string     `json:"guild_id,omitempty"`
	RuleType   string      `json:"rule_type"`
	Pattern    string      `json:"pattern"`
	Kind       PatternKind `json:"pattern_type"`
	Confidence float64     `json:"confidence"`
	Severity   Severity    `json:"severity"`
	Reason     string      `json:"reason"`
	Active     bool        `json:"active"`
	CreatedBy  string      `json:"created_by"`
	MatchCount int64       `json:"match_count"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Global reports whether the rule applies to every guild.
func (r *HeuristicRule) Global() bool {
	return r.GuildID == nil
}

// HeuristicProposal is a rule candidate suggested by the reasoning
// provider. Accepted proposals are persisted scoped to the triggering
// guild; the learning path never creates a global rule.
type HeuristicProposal struct {
	RuleType   string      `json:"rule_type"`
	Pattern    string      `json:"pattern"`
	Kind       PatternKind `json:"pattern_type"`
	Confidence float64     `json:"confidence"`
	Severity   Severity    `json:"severity"`
	Reason     string      `json:"reason"`
}
