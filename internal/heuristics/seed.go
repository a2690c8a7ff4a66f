package heuristics

import (
	"github.com/lukeocodes/mod-gpt/internal/model"
)

// SeedRules is the fixed catalog of global heuristics inserted once at
// process start with no owning guild. It covers universal fraud,
// phishing, and prompt-injection patterns every community benefits
// from; guild-scoped rules are only ever created by the learning
// sub-flow.
func SeedRules() []model.HeuristicRule {
	return []model.HeuristicRule{
		{
			RuleType:   "fraud_scam",
			Pattern:    `free[\s_\-]*(discord[\s_\-]*)?nitro`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityHigh,
			Reason:     "Common Nitro scam pattern - 'free nitro' is almost always fraudulent",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    `free[\s_\-]*(steam|robux|vbucks|v-bucks)`,
			Kind:       model.PatternRegex,
			Confidence: 0.92,
			Severity:   model.SeverityHigh,
			Reason:     "Common gaming scam offering free virtual currency",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    `free[\s_\-]*(crypto|bitcoin|btc|eth|ethereum)`,
			Kind:       model.PatternRegex,
			Confidence: 0.90,
			Severity:   model.SeverityHigh,
			Reason:     "Cryptocurrency giveaway scam pattern",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    `(claim|get|win)[\s_\-]*free`,
			Kind:       model.PatternRegex,
			Confidence: 0.85,
			Severity:   model.SeverityMedium,
			Reason:     "Urgency-based scam language encouraging immediate action",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    `double[\s_\-]*your[\s_\-]*(money|crypto|bitcoin)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Classic investment scam promise",
		},
		{
			RuleType:   "fraud_link",
			Pattern:    `(?:https?://)?(?:www\.)?(bit\.ly|tinyurl\.com|is\.gd|goo\.gl|ow\.ly|buff\.ly)`,
			Kind:       model.PatternRegex,
			Confidence: 0.70,
			Severity:   model.SeverityMedium,
			Reason:     "URL shortener - often used to hide malicious links, needs context",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "click this link",
			Kind:       model.PatternContains,
			Confidence: 0.80,
			Severity:   model.SeverityMedium,
			Reason:     "Common phishing call to action",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "click here",
			Kind:       model.PatternContains,
			Confidence: 0.75,
			Severity:   model.SeverityMedium,
			Reason:     "Generic phishing language, may be legitimate, needs context",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "claim your free",
			Kind:       model.PatternContains,
			Confidence: 0.88,
			Severity:   model.SeverityHigh,
			Reason:     "Phishing/scam language offering free items",
		},
		{
			RuleType:   "fraud_urgency",
			Pattern:    "limited time offer",
			Kind:       model.PatternContains,
			Confidence: 0.70,
			Severity:   model.SeverityLow,
			Reason:     "Urgency tactic common in scams, may be legitimate marketing",
		},
		{
			RuleType:   "fraud_urgency",
			Pattern:    "act now",
			Kind:       model.PatternContains,
			Confidence: 0.72,
			Severity:   model.SeverityLow,
			Reason:     "Urgency tactic to prevent critical thinking",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "verify your account",
			Kind:       model.PatternContains,
			Confidence: 0.85,
			Severity:   model.SeverityHigh,
			Reason:     "Account verification phishing attempt - the platform never requests this",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "confirm your identity",
			Kind:       model.PatternContains,
			Confidence: 0.85,
			Severity:   model.SeverityHigh,
			Reason:     "Identity confirmation phishing - common account takeover tactic",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "suspended account",
			Kind:       model.PatternContains,
			Confidence: 0.82,
			Severity:   model.SeverityHigh,
			Reason:     "Scare tactic to trick users into clicking phishing links",
		},
		{
			RuleType:   "fraud_phishing",
			Pattern:    "unusual activity",
			Kind:       model.PatternContains,
			Confidence: 0.80,
			Severity:   model.SeverityMedium,
			Reason:     "Scare tactic commonly used in phishing attempts",
		},
		{
			RuleType:   "fraud_investment",
			Pattern:    "investment opportunity",
			Kind:       model.PatternContains,
			Confidence: 0.75,
			Severity:   model.SeverityMedium,
			Reason:     "Unsolicited investment offers are typically scams",
		},
		{
			RuleType:   "fraud_investment",
			Pattern:    "guaranteed return",
			Kind:       model.PatternContains,
			Confidence: 0.90,
			Severity:   model.SeverityHigh,
			Reason:     "No legitimate investment guarantees returns",
		},
		{
			RuleType:   "fraud_investment",
			Pattern:    "risk free",
			Kind:       model.PatternContains,
			Confidence: 0.88,
			Severity:   model.SeverityHigh,
			Reason:     "All investments have risk - 'risk free' is always fraudulent",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    "make money fast",
			Kind:       model.PatternContains,
			Confidence: 0.85,
			Severity:   model.SeverityMedium,
			Reason:     "Get-rich-quick scheme indicator",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    "work from home",
			Kind:       model.PatternContains,
			Confidence: 0.65,
			Severity:   model.SeverityLow,
			Reason:     "Often used in MLM/pyramid schemes, may be legitimate, needs context",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    `congratulations.*you.*won`,
			Kind:       model.PatternRegex,
			Confidence: 0.88,
			Severity:   model.SeverityHigh,
			Reason:     "Fake prize notification - user didn't enter any contest",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    "you have been selected",
			Kind:       model.PatternContains,
			Confidence: 0.85,
			Severity:   model.SeverityHigh,
			Reason:     "Fake selection/prize scam tactic",
		},
		{
			RuleType:   "fraud_scam",
			Pattern:    "exclusive access",
			Kind:       model.PatternContains,
			Confidence: 0.70,
			Severity:   model.SeverityLow,
			Reason:     "Used to create false sense of privilege, may be legitimate marketing",
		},
		{
			RuleType:   "fraud_crypto",
			Pattern:    `dm.*me.*for.*(crypto|bitcoin|btc|eth)`,
			Kind:       model.PatternRegex,
			Confidence: 0.92,
			Severity:   model.SeverityHigh,
			Reason:     "Soliciting crypto transactions via DM - common scam pattern",
		},
		{
			RuleType:   "fraud_crypto",
			Pattern:    `send.*(me|us).*(crypto|bitcoin|btc|eth)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Direct request for cryptocurrency - almost always a scam",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `ignore\s+.{0,20}(instruction|instructions|prompt|prompts|rules|directives)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to override bot instructions via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `disregard\s+.{0,20}(instruction|instructions|prompt|prompts|rules|directives)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to override bot instructions via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `forget\s+.{0,20}(instruction|instructions|prompt|prompts|rules|directives)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to reset bot instructions via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `(new|updated|revised)\s+(instruction|instructions|prompt|prompts|rules|directive)`,
			Kind:       model.PatternRegex,
			Confidence: 0.90,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to provide new instructions to override bot behavior",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `you\s+are\s+now\s+(a|an|programmed|instructed)`,
			Kind:       model.PatternRegex,
			Confidence: 0.92,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to redefine bot identity via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `(override|bypass)\s+(system|security|safety|moderation)`,
			Kind:       model.PatternRegex,
			Confidence: 0.93,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to bypass security controls via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `(act\s+as|pretend\s+to\s+be|roleplay\s+as)\s+(a|an|the)`,
			Kind:       model.PatternRegex,
			Confidence: 0.85,
			Severity:   model.SeverityHigh,
			Reason:     "Attempting to change bot behavior via role manipulation, may be legitimate roleplay, needs context",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `(show|display|reveal|print)\s+(me\s+)?(your\s+)?(system\s+)?(prompt|instructions|rules)`,
			Kind:       model.PatternRegex,
			Confidence: 0.94,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to extract the system prompt",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `(reveal|show|display)\s+(your\s+)?(hidden|private|internal)\s+(context|data|information)`,
			Kind:       model.PatternRegex,
			Confidence: 0.93,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to extract internal bot data",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `\b(sudo|admin|administrator|developer|debug)\s+mode\b`,
			Kind:       model.PatternRegex,
			Confidence: 0.90,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to activate elevated privileges via prompt injection",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `execute\s+(as|with)\s+(admin|root|elevated|system)`,
			Kind:       model.PatternRegex,
			Confidence: 0.95,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to execute commands with elevated privileges",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `/system\s+`,
			Kind:       model.PatternRegex,
			Confidence: 0.88,
			Severity:   model.SeverityHigh,
			Reason:     "Attempting to use system commands, may be a legitimate slash command",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `<\s*system\s*>|[\{\[][\s"']*role[\s"']*:[\s"']*system`,
			Kind:       model.PatternRegex,
			Confidence: 0.94,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to inject a system role via XML/JSON tags",
		},
		{
			RuleType:   "prompt_injection",
			Pattern:    `<\s*assistant\s*>|\{[\s"']*role[\s"']*:[\s"']*assistant[\s"']*\}`,
			Kind:       model.PatternRegex,
			Confidence: 0.92,
			Severity:   model.SeverityCritical,
			Reason:     "Attempting to inject an assistant role to control bot responses",
		},
	}
}
