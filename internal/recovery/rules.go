package recovery

import (
	"strings"
	"time"
)

// Kind names a recovery strategy.
type Kind string

const (
	KindStandard            Kind = "standard"
	KindExponentialBackoff  Kind = "exponential_backoff"
	KindExtendedTimeout     Kind = "extended_timeout"
	KindFallbackAgent       Kind = "fallback_agent"
	KindSimplified          Kind = "simplified"
	KindContentOptimization Kind = "content_optimization"
)

// MaxAttempts caps the attempt number; attempts at or beyond it are not retried.
const MaxAttempts = 3

// Matched case-insensitively as substrings, in order.
var (
	nonRetryablePhrases = []string{
		"invalid api key",
		"insufficient credits",
		"template not found",
		"resource not found",
		"invalid content type",
		"workspace not found",
	}

	retryablePhrases = []string{
		"network error",
		"timeout",
		"rate limit",
		"too many requests",
		"temporary failure",
		"service unavailable",
		"connection refused",
		"api error",
		"openai api",
		"gemini api",
		"anthropic api",
		"image generation failed",
		"template processing failed",
		"carousel generation failed",
		"content too long",
	}
)

// StrategyRule maps error phrases to a recovery strategy.
type StrategyRule struct {
	Phrases []string
	Kind    Kind
}

// DefaultStrategyRules is evaluated top to bottom; the first match wins.
var DefaultStrategyRules = []StrategyRule{
	{Phrases: []string{"rate limit", "too many requests"}, Kind: KindExponentialBackoff},
	{Phrases: []string{"timeout", "network"}, Kind: KindExtendedTimeout},
	{Phrases: []string{"openai", "gemini", "anthropic", "api"}, Kind: KindFallbackAgent},
	{Phrases: []string{"resource"}, Kind: KindSimplified},
	{Phrases: []string{"template"}, Kind: KindStandard},
	{Phrases: []string{"content too long", "character limit"}, Kind: KindContentOptimization},
}

// Policy holds the tunables of the engine.
type Policy struct {
	MaxAttempts     int
	Backoff         []time.Duration
	RateLimitBase   time.Duration
	ExtendedTimeout time.Duration
	TruncateLength  int

	NonRetryable []string
	Retryable    []string
	Strategies   []StrategyRule
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     MaxAttempts,
		Backoff:         []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
		RateLimitBase:   500 * time.Millisecond,
		ExtendedTimeout: 2 * time.Minute,
		TruncateLength:  100,
		NonRetryable:    append([]string(nil), nonRetryablePhrases...),
		Retryable:       append([]string(nil), retryablePhrases...),
		Strategies:      append([]StrategyRule(nil), DefaultStrategyRules...),
	}
}

// Decision is the outcome of classifying an error.
type Decision struct {
	Retryable bool
	Reason    string
}

// Classify decides whether an error at the given attempt may be retried.
// Unknown errors are not retryable.
func (p Policy) Classify(message string, attempt int) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{Reason: "max attempts reached"}
	}
	msg := strings.ToLower(message)
	if phrase, ok := matchAny(msg, p.NonRetryable); ok {
		return Decision{Reason: "non-retryable: " + phrase}
	}
	if phrase, ok := matchAny(msg, p.Retryable); ok {
		return Decision{Retryable: true, Reason: "retryable: " + phrase}
	}
	return Decision{Reason: "unclassified"}
}

// SelectStrategy picks the recovery strategy for an error message.
func (p Policy) SelectStrategy(message string) Kind {
	msg := strings.ToLower(message)
	for _, rule := range p.Strategies {
		if _, ok := matchAny(msg, rule.Phrases); ok {
			return rule.Kind
		}
	}
	return KindStandard
}

// BackoffFor returns the wait before the given attempt, clamped to the last entry.
func (p Policy) BackoffFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// RateLimitDelay returns the extra wait for the exponential strategy.
func (p Policy) RateLimitDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(1<<uint(attempt)) * p.RateLimitBase
}

func matchAny(msg string, phrases []string) (string, bool) {
	for _, phrase := range phrases {
		if strings.Contains(msg, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// Truncate shortens s to n runes followed by an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
