// Package heuristics implements the fast-path pattern matcher that
// screens message content against heuristic rules before any reasoning
// provider is consulted.
package heuristics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

// maxFuzzyDistance bounds the edit distance for fuzzy rules.
const maxFuzzyDistance = 2

// ValidationError reports a malformed pattern. It invalidates only the
// rule it belongs to; evaluation of other rules continues.
type ValidationError struct {
	RuleID  int64
	Pattern string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("heuristic rule %d: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Match is one rule that fired against a piece of content.
type Match struct {
	Rule model.HeuristicRule
}

// Matcher evaluates content against rulesets. It is stateless and safe
// for concurrent use.
type Matcher struct{}

// NewMatcher returns a stateless matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match evaluates content against every active rule and returns all
// matches ordered by descending confidence, ties broken by ascending
// rule id. Malformed patterns are collected as validation errors and
// skipped; they never abort evaluation of the remaining rules. Rule
// state is never mutated.
func (m *Matcher) Match(content string, rules []model.HeuristicRule) ([]Match, []*ValidationError) {
	var (
		matches []Match
		errs    []*ValidationError
	)

	lower := strings.ToLower(content)
	tokens := tokenize(lower)

	for _, rule := range rules {
		if !rule.Active {
			continue
		}

		matched, err := evalRule(rule, lower, tokens)
		if err != nil {
			errs = append(errs, &ValidationError{RuleID: rule.ID, Pattern: rule.Pattern, Err: err})
			continue
		}
		if matched {
			matches = append(matches, Match{Rule: rule})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rule.Confidence != matches[j].Rule.Confidence {
			return matches[i].Rule.Confidence > matches[j].Rule.Confidence
		}
		return matches[i].Rule.ID < matches[j].Rule.ID
	})

	return matches, errs
}

func evalRule(rule model.HeuristicRule, lower string, tokens []string) (bool, error) {
	pattern := strings.ToLower(rule.Pattern)

	switch rule.Kind {
	case model.PatternExact:
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(pattern) + `\b`)
		if err != nil {
			return false, err
		}
		return re.MatchString(lower), nil

	case model.PatternRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(lower), nil

	case model.PatternFuzzy:
		if len(pattern) < 3 {
			return false, fmt.Errorf("fuzzy pattern too short")
		}
		for _, tok := range tokens {
			if fuzzyMatch(pattern, tok) {
				return true, nil
			}
		}
		return false, nil

	case model.PatternContains:
		return strings.Contains(lower, pattern), nil

	default:
		return false, fmt.Errorf("unknown pattern kind %q", rule.Kind)
	}
}

// fuzzyMatch reports whether a token is a near-miss of the pattern:
// bounded edit distance, with the first rune anchored so that unrelated
// words of similar length ("tiger", "trigger") do not fire on
// character-substitution evasions ("n1gger", "nigg3r").
func fuzzyMatch(pattern, token string) bool {
	if token == pattern {
		return true
	}
	pr := []rune(pattern)
	tr := []rune(token)
	if len(tr) == 0 || len(pr) == 0 || tr[0] != pr[0] {
		return false
	}
	diff := len(pr) - len(tr)
	if diff < -maxFuzzyDistance || diff > maxFuzzyDistance {
		return false
	}
	return editDistance(pr, tr) <= maxFuzzyDistance
}

// editDistance is a two-row Levenshtein over runes.
func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tokenize splits content on anything that is neither a letter nor a
// digit. Digits stay inside tokens so substitution evasions survive as
// single tokens.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
