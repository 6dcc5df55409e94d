// Package agent implements the Agent Loop (spec's C10): the 21-step
// per-message pipeline that sits between the message bus and everything
// else — sanitisation, the safety envelope, onboarding, the command
// router, the scope filter, and finally the assistant LLM's tool-calling
// loop.
package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/llm"
	"github.com/zapista/organizer/internal/locale"
	"github.com/zapista/organizer/internal/router"
	"github.com/zapista/organizer/internal/safety"
	"github.com/zapista/organizer/internal/scheduler"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
	"github.com/zapista/organizer/internal/tools"
)

// MaxInputLength is the hard truncation spec §4.3 step 1 names.
const MaxInputLength = 2000

// Deps bundles every collaborator the turn pipeline closes over.
type Deps struct {
	Store    store.Store
	Sessions *session.Store
	Router   *router.Router
	Safety   *safety.Envelope

	LLM *llm.Client // both ProfileParser and ProfileAssistant live on one client

	Cron     tools.CronAPI
	Outbound scheduler.Outbound

	WorkspaceRoot     string
	MemoryRoot        string
	MaxToolIterations int

	SearchAPIKey  string
	SearchBaseURL string
	HabitualJudge func(ctx context.Context, userID, listName string) ([]string, error)

	// RecapProvider renders the weekly/monthly recap text. The batch job
	// that assembles recap content is itself out of the core's scope
	// (spec §0: "the weekly/yearly recap batch jobs" are an external
	// collaborator) — the agent loop only decides *when* to deliver one
	// and records that it did.
	RecapProvider func(ctx context.Context, user *store.User, kind string) (string, error)

	Now func() time.Time
}

// Agent runs the turn pipeline for one deployment's worth of chats.
type Agent struct {
	deps   Deps
	logger *slog.Logger

	mu           sync.Mutex
	dailyCounts  map[string]dailyCounter
	staleRemoval map[string]int
	turnCounts   map[string]int
	lastInScope  map[string]bool
}

type dailyCounter struct {
	date  string
	count int
}

func New(deps Deps, logger *slog.Logger) *Agent {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.MaxToolIterations <= 0 {
		deps.MaxToolIterations = 20
	}
	return &Agent{
		deps:         deps,
		logger:       logger.With("component", "agent"),
		dailyCounts:  make(map[string]dailyCounter),
		staleRemoval: make(map[string]int),
		turnCounts:   make(map[string]int),
		lastInScope:  make(map[string]bool),
	}
}

func chatKey(channel, chatID string) string { return channel + ":" + chatID }

// MarkStaleRemoval records that a maintenance pass removed n past-due jobs
// for chatKey; the next n user turns in that chat each consume one unit
// before the apology stops (spec §4.3 step 5).
func (a *Agent) MarkStaleRemoval(channel, chatID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staleRemoval[chatKey(channel, chatID)] += n
}

// Handle runs one inbound message through the full pipeline and returns
// the reply text(s) to deliver — the caller (the bus-draining loop) owns
// actually sending them.
func (a *Agent) Handle(ctx context.Context, msg *bus.IncomingMessage) []string {
	if msg.Type == bus.MessageReaction {
		// Reactive emoji handling (spec §4.4 precedence step 2) only needs
		// the rate limiter ahead of it; sanitisation, trivial-reply and the
		// LLM-backed stages further down the pipeline have nothing to act
		// on for a bare reaction.
		key := chatKey(msg.Channel, msg.ChatID)
		if !a.deps.Safety.RateLimiter.Allow(key) {
			return nil
		}
		res := a.deps.Router.RouteReaction(ctx, msg)
		return a.resultReplies(res)
	}

	return a.handleText(ctx, msg)
}

func (a *Agent) resultReplies(res router.Result) []string {
	if !res.Handled {
		return nil
	}
	out := make([]string, 0, 1+len(res.Extra))
	if res.Reply != "" {
		out = append(out, res.Reply)
	}
	out = append(out, res.Extra...)
	return out
}

func (a *Agent) handleText(ctx context.Context, msg *bus.IncomingMessage) []string {
	key := chatKey(msg.Channel, msg.ChatID)

	// 1. Sanitize.
	text := sanitize(msg.Content)
	msg.Content = text

	user, _, err := a.deps.Store.GetOrCreateUser(ctx, msg.From, msg.From)
	if err != nil {
		a.logger.Error("get or create user failed", "error", err)
		return []string{locale.Render("degraded", locale.En)}
	}
	lang := userLang(user)
	sess := a.deps.Sessions.GetOrCreate(msg.Channel, msg.ChatID)

	// 2. Daily message counter (smart-reminder "at least two messages
	// today" policy). The count is only recorded here; nothing in this
	// repository reads it.
	a.bumpDailyCount(key)

	// 3. Trivial-reply guard.
	if safety.IsTrivialReply(text) {
		return nil
	}

	// 4. Rate limit.
	if !a.deps.Safety.RateLimiter.Allow(key) {
		return []string{locale.Render("rate_limited", lang)}
	}

	// 5. Pending stale-removal notification.
	if reply, ok := a.consumeStaleRemoval(key, lang); ok {
		return []string{reply}
	}

	// 6. Tool wiring happens per-call in runAssistantTurn (step 19), scoped by
	// deps.UserID/Channel/ChatID/Locale there.

	// 7. Pending recap.
	if reply := a.maybeRecap(ctx, user, lang); reply != "" {
		return []string{reply}
	}

	// 8. Language-switch request.
	if newLang, ok := locale.ParseLanguageSwitchRequest(text, msg.ChatID); ok {
		if string(newLang) == user.Language {
			return []string{locale.Render("language_already", newLang)}
		}
		user.Language = string(newLang)
		if err := a.deps.Store.UpdateUser(ctx, user); err != nil {
			a.logger.Warn("persist language switch failed", "error", err)
		}
		return []string{locale.Render("language_switch_confirmation", newLang)}
	}

	// 9. Calling-phrase guard.
	if isCallingPhrase(text) {
		return []string{locale.Render("calling_phrase_ack", lang)}
	}

	// 10. Command blocklist.
	if _, blocked := safety.BlocklistMatch(text); blocked {
		return []string{locale.Render("blocklist_refusal", lang)}
	}

	// 11. Prompt-injection guard.
	if safety.IsPromptInjection(text) {
		return []string{locale.Render("injection_refusal", lang)}
	}

	// 12. Onboarding. Timezone acquisition alone doesn't mark onboarding
	// done — the state machine still owes the preferred-name question —
	// so the gate also re-enters for any session mid-flow.
	if user.Timezone == "" || onboardingInFlight(sess) {
		if reply, shortCircuit := a.runOnboarding(ctx, sess, user, msg); shortCircuit {
			return []string{reply}
		}
	}

	// 13. Deterministic command router.
	if res := a.deps.Router.Route(ctx, msg, sess, user); res.Handled {
		replies := a.resultReplies(res)
		a.persistTurn(sess, text, strings.Join(replies, "\n"))
		return a.appendTimezoneNudge(replies, user, sess)
	}

	// 14. Scope filter.
	inScope, err := safety.InScope(ctx, text, a.scopeJudge())
	if err != nil {
		a.logger.Warn("scope judge failed, defaulting to the regex catalogue", "error", err)
	}
	if !inScope {
		wasInScope := a.lastInScopeFlag(key)
		a.setLastInScopeFlag(key, false)
		if !wasInScope {
			return []string{locale.Render("out_of_scope", lang)}
		}
		// A follow-up admission to a previously in-scope turn; let it fall
		// through to the assistant rather than refusing twice in a row.
	} else {
		a.setLastInScopeFlag(key, true)
	}

	// 15. Analytic routing.
	if reply, handled := a.tryAnalyticRouting(ctx, text, user); handled {
		a.persistTurn(sess, text, reply)
		return []string{reply}
	}

	// 16. Circuit breaker.
	if !a.deps.Safety.Breaker.Allow() {
		return []string{locale.Render("degraded", lang)}
	}

	// 17. Session compression.
	if sess.NeedsCompression() {
		if _, err := sess.Compress(a.summarizer(ctx, sess)); err != nil {
			a.logger.Warn("session compression failed", "error", err)
		}
	}

	// 18-20. Build context, run the assistant loop, fall back on failure.
	reply := a.runAssistantTurn(ctx, msg, sess, user, lang)

	// 21. Persist and periodic painpoint detection.
	a.persistTurn(sess, text, reply)
	a.maybeDetectPainpoint(ctx, key, user, sess)

	return a.appendTimezoneNudge([]string{reply}, user, sess)
}

// InvokeSynthetic implements scheduler.AgentInvoker: a deliver=false
// agent_turn job wants the agent to decide/act on its own, without a real
// inbound message. It is routed through the same text pipeline as an
// ordinary message, sourced from the system rather than the user.
func (a *Agent) InvokeSynthetic(ctx context.Context, channel, chatID, text string) error {
	msg := &bus.IncomingMessage{
		Channel:   channel,
		From:      chatID,
		ChatID:    chatID,
		Type:      bus.MessageText,
		Content:   text,
		Timestamp: a.deps.Now(),
	}
	replies := a.handleText(ctx, msg)
	if a.deps.Outbound == nil {
		return nil
	}
	for _, r := range replies {
		if err := a.deps.Outbound.Publish(ctx, channel, chatID, r); err != nil {
			return err
		}
	}
	return nil
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

func sanitize(input string) string {
	cleaned := controlChars.ReplaceAllString(input, "")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > MaxInputLength {
		cleaned = cleaned[:MaxInputLength]
	}
	return cleaned
}

var callingPhrases = regexp.MustCompile(`(?i)^(tu\s+(estás|estas)\s+(aí|ahi)|(t[aá]s?\s+a[íi])|are\s+you\s+there|you\s+there|¿?estás\s+ah[íi]\??|esta\s+aí)\??$`)

// isCallingPhrase recognises a bare "are you there?" vocative. The pattern
// is anchored end-to-end, so a message that also carries a date and a time
// (a real scheduling request) never matches it.
func isCallingPhrase(text string) bool {
	return callingPhrases.MatchString(strings.TrimSpace(text))
}

func userLang(user *store.User) locale.Lang {
	if user == nil || !locale.IsSupported(user.Language) {
		return locale.En
	}
	return locale.Lang(user.Language)
}

func (a *Agent) bumpDailyCount(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	today := a.deps.Now().Format("2006-01-02")
	c := a.dailyCounts[key]
	if c.date != today {
		c = dailyCounter{date: today}
	}
	c.count++
	a.dailyCounts[key] = c
}

func (a *Agent) consumeStaleRemoval(key string, lang locale.Lang) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.staleRemoval[key]
	if !ok || n <= 0 {
		return "", false
	}
	n--
	if n <= 0 {
		delete(a.staleRemoval, key)
	} else {
		a.staleRemoval[key] = n
	}
	return locale.Render("stale_removal_apology", lang), true
}

func (a *Agent) lastInScopeFlag(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInScope[key]
}

func (a *Agent) setLastInScopeFlag(key string, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastInScope[key] = v
}

func (a *Agent) scopeJudge() safety.ScopeJudge {
	if a.deps.LLM == nil {
		return nil
	}
	return func(ctx context.Context, input string) (bool, error) {
		return a.deps.LLM.JudgeYesNo(ctx, "Is the following message in scope for a reminders, lists and personal-organizer assistant? Message: "+input)
	}
}

// maybeRecap sends the weekly/monthly recap on first contact of a new
// period, idempotent via audit-log rows keyed by period id.
func (a *Agent) maybeRecap(ctx context.Context, user *store.User, lang locale.Lang) string {
	now := a.nowInUserTZ(user)
	weekKey := "recap_weekly_delivered:" + now.Format("2006-01") + "-W" + isoWeekTag(now)
	monthKey := "recap_monthly_delivered:" + now.Format("2006-01")

	if !a.auditSeen(ctx, user.ID, weekKey) {
		a.recordAudit(ctx, user.ID, weekKey)
		return a.weeklyRecap(ctx, user, lang)
	}
	if !a.auditSeen(ctx, user.ID, monthKey) {
		a.recordAudit(ctx, user.ID, monthKey)
		return a.monthlyRecap(ctx, user, lang)
	}
	return ""
}

func isoWeekTag(t time.Time) string {
	_, week := t.ISOWeek()
	return strconv.Itoa(week)
}

func (a *Agent) auditSeen(ctx context.Context, userID, action string) bool {
	rows, err := a.deps.Store.RecentAuditLog(ctx, 200)
	if err != nil {
		return false
	}
	for _, r := range rows {
		if r.UserID == userID && r.Action == action {
			return true
		}
	}
	return false
}

func (a *Agent) recordAudit(ctx context.Context, userID, action string) {
	_ = a.deps.Store.AppendAuditLog(ctx, &store.AuditLog{UserID: userID, Action: action, At: a.deps.Now()})
}

func (a *Agent) nowInUserTZ(user *store.User) time.Time {
	now := a.deps.Now()
	if user.Timezone == "" {
		return now
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return now
	}
	return now.In(loc)
}

func (a *Agent) weeklyRecap(ctx context.Context, user *store.User, lang locale.Lang) string {
	return a.renderRecap(ctx, user, "weekly", lang)
}

func (a *Agent) monthlyRecap(ctx context.Context, user *store.User, lang locale.Lang) string {
	return a.renderRecap(ctx, user, "monthly", lang)
}

func (a *Agent) renderRecap(ctx context.Context, user *store.User, kind string, lang locale.Lang) string {
	if a.deps.RecapProvider == nil {
		return ""
	}
	text, err := a.deps.RecapProvider(ctx, user, kind)
	if err != nil {
		a.logger.Warn("recap provider failed", "kind", kind, "error", err)
		return ""
	}
	return text
}

func (a *Agent) persistTurn(sess *session.Session, userText, assistantText string) {
	sess.AddMessage(session.Message{Role: session.RoleUser, Content: userText})
	if assistantText != "" {
		sess.AddMessage(session.Message{Role: session.RoleAssistant, Content: assistantText})
	}
}

// appendTimezoneNudge appends a one-time soft nudge about a missing
// timezone once per session (spec §4.3 step 13 closing clause).
func (a *Agent) appendTimezoneNudge(replies []string, user *store.User, sess *session.Session) []string {
	if user.Timezone != "" {
		return replies
	}
	if _, done := sess.Meta("nudge_append_done"); done {
		return replies
	}
	sess.SetMeta("nudge_append_done", true)
	return append(replies, "(psst — I still don't know your timezone; tell me your city whenever you like.)")
}
