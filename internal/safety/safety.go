// Package safety implements the Safety Envelope (spec's C8): a rate
// limiter, command blocklist, prompt-injection guard, scope filter,
// circuit breaker, minimum-interval enforcement, and per-day quota checks
// that sit between the router/agent loop and any outbound LLM call.
package safety

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zapista/organizer/internal/zerr"
)

// --- Rate limiter ---

// RateLimiter is a per-(channel, chat_id) sliding window limiter.
type RateLimiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewRateLimiter builds a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{max: max, window: window, requests: make(map[string][]time.Time)}
}

// Allow reports whether key may proceed now, recording the attempt only
// when it is allowed; rejected attempts do not extend the window. Evictions
// of stale entries happen lazily on the same key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)
	kept := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.max {
		rl.requests[key] = kept
		return false
	}
	rl.requests[key] = append(kept, now)
	return true
}

// --- Command blocklist ---

// blocklistPatterns catches shell substitution, SQL mutation, path
// traversal, eval/exec, and script-tag injection attempts riding in on an
// otherwise ordinary message.
var blocklistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\([^)]*\)`),               // $(...) shell substitution
	regexp.MustCompile("(?i)`[^`]*`"),                    // backtick substitution
	regexp.MustCompile(`(?i)\b(drop|delete|truncate)\s+(table|database)\b`),
	regexp.MustCompile(`(?i)\bunion\s+select\b`),
	regexp.MustCompile(`(?i)\.\./\.\./`),
	regexp.MustCompile(`(?i)\b(eval|exec)\s*\(`),
	regexp.MustCompile(`(?i)<script[\s>]`),
}

// BlocklistMatch checks input against the command blocklist. It returns
// the matched reason tag and true, or "" and false when clean.
func BlocklistMatch(input string) (reason string, matched bool) {
	for _, p := range blocklistPatterns {
		if p.MatchString(input) {
			return p.String(), true
		}
	}
	return "", false
}

// --- Prompt-injection guard ---

// injectionPatterns is a PT/EN/ES catalogue of instruction-override
// attempts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(your\s+|previous\s+)?instructions`),
	regexp.MustCompile(`(?i)ignora[rs]?\s+(todas\s+)?(tuas\s+|suas\s+|las\s+)?instru(c|ç)(o|õ)es`),
	regexp.MustCompile(`(?i)ignora\s+(todas\s+)?las\s+instrucciones`),
	regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+are`),
	regexp.MustCompile(`(?i)a\s+partir\s+de\s+agora\s+(tu\s+)?(es|és|e)s?`),
	regexp.MustCompile(`(?i)a\s+partir\s+de\s+ahora\s+eres`),
	regexp.MustCompile(`(?i)\[system\]`),
	regexp.MustCompile(`(?i)pretend\s+(that\s+)?you\s+are`),
	regexp.MustCompile(`(?i)finge\s+que\s+(tu\s+)?(e|é)s`),
	regexp.MustCompile(`(?i)disregard\s+your\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+your\s+rules`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
}

// IsPromptInjection reports whether input matches the injection catalogue.
func IsPromptInjection(input string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// --- Scope filter ---

// scopePatterns is a fast pre-filter for in-scope content (reminders,
// lists, dates, times, event keywords) across the four supported
// languages. Anything not matching falls through to the LLM judge.
var scopePatterns = regexp.MustCompile(`(?i)(lembr|remind|recuerd|list|lista|event|evento|filme|livro|m[uú]sica|receita|today|hoje|amanh[ãa]|tomorrow|ma[ñn]ana|\d{1,2}[:h]\d{2}|\d{1,2}/\d{1,2})`)

// ScopeJudge is an LLM-backed fallback for messages the fast filter
// cannot classify. Implemented by the agent package against the parser
// profile.
type ScopeJudge func(ctx context.Context, input string) (inScope bool, err error)

// InScope reports whether input is plausibly within the organizer's
// domain. judge may be nil, in which case only the fast filter runs.
func InScope(ctx context.Context, input string, judge ScopeJudge) (bool, error) {
	if scopePatterns.MatchString(input) {
		return true, nil
	}
	if judge == nil {
		return false, nil
	}
	return judge(ctx, input)
}

// --- Circuit breaker ---

// CircuitState enumerates CircuitBreaker.State.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips after consecutive failures and holds open for a
// recovery window before allowing one trial call through.
type CircuitBreaker struct {
	threshold int
	recovery  time.Duration

	mu        sync.Mutex
	failures  int
	state     CircuitState
	openSince time.Time
}

// NewCircuitBreaker builds a breaker tripping after threshold consecutive
// failures and reopening to half-open after recovery.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if recovery <= 0 {
		recovery = 60 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, recovery: recovery}
}

// Allow reports whether a call may proceed. When the breaker is open past
// its recovery window, it transitions to half-open and allows exactly one
// trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return false // a trial call is already in flight
	default: // CircuitOpen
		if time.Since(cb.openSince) >= cb.recovery {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure (including an LLM call timeout), tripping
// the breaker once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openSince = time.Now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// --- Minimum interval enforcement ---

// DefaultMinRecurringInterval is the default floor for recurring jobs.
const DefaultMinRecurringInterval = 2 * time.Hour

// InsistenceFloor is the relaxed floor applied once insistence is
// detected ("I really need", "doctors recommended", ...); never lower.
const InsistenceFloor = 30 * time.Minute

// insistencePatterns is the fast pre-filter; the parser LLM makes the
// final call over the last few turns per spec §4.8.
var insistencePatterns = regexp.MustCompile(`(?i)(really need|i need it|doctors? recommend|m[ée]dicos? recomendar|preciso mesmo|insist[oi])`)

// LooksInsistent is a cheap heuristic hint; callers still run the parser
// LLM judgment before relaxing the floor.
func LooksInsistent(recentTurns []string) bool {
	for _, t := range recentTurns {
		if insistencePatterns.MatchString(t) {
			return true
		}
	}
	return false
}

// MinInterval returns the floor that applies given whether insistence has
// been confirmed.
func MinInterval(insistenceConfirmed bool) time.Duration {
	if insistenceConfirmed {
		return InsistenceFloor
	}
	return DefaultMinRecurringInterval
}

// CheckInterval validates a candidate recurring interval against the
// floor, returning zerr.ErrInvalidInput when it is too short.
func CheckInterval(interval time.Duration, insistenceConfirmed bool) error {
	floor := MinInterval(insistenceConfirmed)
	if interval < floor {
		return zerr.New(zerr.KindValidation, zerr.ErrInvalidInput)
	}
	return nil
}

// --- Per-day quotas ---

// QuotaKind distinguishes the three counters spec §3 invariant 5 tracks.
type QuotaKind string

const (
	QuotaReminders QuotaKind = "reminders"
	QuotaEvents    QuotaKind = "events"
	QuotaTotal     QuotaKind = "total"
)

// QuotaLimits holds the configured daily ceilings.
type QuotaLimits struct {
	Reminders    int
	Events       int
	Total        int
	WarnFraction float64 // e.g. 0.7
}

// QuotaResult reports whether an addition is allowed and whether a
// warning sentence should be appended to the reply.
type QuotaResult struct {
	Allowed bool
	Warn    bool
	Kind    QuotaKind
}

// CheckQuota evaluates adding one more item of kind against the current
// counts. Counts are the pre-addition per-day totals.
func CheckQuota(kind QuotaKind, remindersToday, eventsToday int, limits QuotaLimits) QuotaResult {
	var limit, count int
	switch kind {
	case QuotaReminders:
		limit, count = limits.Reminders, remindersToday
	case QuotaEvents:
		limit, count = limits.Events, eventsToday
	default:
		limit, count = limits.Total, remindersToday+eventsToday
	}

	next := count + 1
	if next > limit {
		return QuotaResult{Allowed: false, Kind: kind}
	}
	warn := limits.WarnFraction > 0 && float64(next) >= float64(limit)*limits.WarnFraction
	return QuotaResult{Allowed: true, Warn: warn, Kind: kind}
}

// --- Input validation ---

// DefaultMaxInputLength mirrors the teacher's guardrail default.
const DefaultMaxInputLength = 4096

// ValidateLength rejects oversized input before any further processing.
func ValidateLength(input string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	if len(input) > maxLength {
		return zerr.New(zerr.KindValidation, zerr.ErrInvalidInput)
	}
	return nil
}

// --- Trivial-reply filter ---

// trivialReplies are acknowledgements that never need an LLM round trip.
var trivialReplies = map[string]bool{
	"ok": true, "okay": true, "obrigado": true, "obrigada": true,
	"thanks": true, "thank you": true, "gracias": true, "valeu": true,
	"blz": true, "beleza": true, "👍": true, "ok👍": true,
}

// IsTrivialReply reports whether input is a bare acknowledgement that
// needs no escalation.
func IsTrivialReply(input string) bool {
	return trivialReplies[strings.ToLower(strings.TrimSpace(input))]
}

// Envelope bundles every stage of C8 so the router/agent loop can run the
// whole chain with one call per stage, in the order spec §4 prescribes:
// rate limit → command blocklist → injection guard, with scope filtering
// and the circuit breaker applied later in the pipeline.
type Envelope struct {
	RateLimiter *RateLimiter
	Breaker     *CircuitBreaker
	Limits      QuotaLimits
}

// New builds an Envelope from configured limits.
func New(ratePerMin int, breakerThreshold int, breakerRecovery time.Duration, limits QuotaLimits) *Envelope {
	return &Envelope{
		RateLimiter: NewRateLimiter(ratePerMin, time.Minute),
		Breaker:     NewCircuitBreaker(breakerThreshold, breakerRecovery),
		Limits:      limits,
	}
}

// CheckInbound runs the rate limiter, command blocklist, and injection
// guard against one inbound message, in that order, short-circuiting on
// the first match.
func (e *Envelope) CheckInbound(key, input string) error {
	if !e.RateLimiter.Allow(key) {
		return zerr.New(zerr.KindRateLimited, zerr.ErrRateLimited)
	}
	if _, blocked := BlocklistMatch(input); blocked {
		return zerr.New(zerr.KindForbidden, zerr.ErrInvalidInput)
	}
	if IsPromptInjection(input) {
		return zerr.New(zerr.KindForbidden, zerr.ErrPromptInjected)
	}
	return nil
}
