// Package router implements the Command Router & Handlers (spec's C9): the
// deterministic precedence chain that sits between the safety envelope and
// the assistant LLM loop — pending confirmations, reactive emoji, slash
// commands and their natural-language aliases, parser-recognised intents,
// flow state machines, and bare admin god-mode commands.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/locale"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
)

// SchedulerAPI is the subset of *scheduler.Scheduler the router needs —
// command handlers for /lembrete, /agenda, reactive emoji, and the
// recurring-event flow all go through it.
type SchedulerAPI interface {
	AddJob(ctx context.Context, userID, name string, schedule store.Schedule, payload store.Payload, deleteAfterRun bool, suggestedPrefix string) (*store.CronJob, error)
	ListJobs(includeDisabled bool) []*store.CronJob
	GetJob(id string) (*store.CronJob, bool)
	RemoveJob(ctx context.Context, id string) bool
	RemoveJobAndDeadlineFollowups(ctx context.Context, id string) bool
	Snooze(ctx context.Context, id string) (*store.CronJob, error)
	Complete(ctx context.Context, id string)
}

// YesNoJudge asks the parser LLM profile a closed yes/no question. The
// router carries it in Deps but does not call it: its own confirmation and
// flow paths use the regex classifiers (classifyYesNo and friends). A judge
// failure must never block the chat.
type YesNoJudge func(ctx context.Context, prompt string) (bool, error)

// ClassifierJudge is nlp.ClassifierJudge, threaded through so the router
// never imports internal/llm directly for anything but its types.
type ClassifierJudge = nlp.ClassifierJudge

// Deps bundles everything command handlers close over.
type Deps struct {
	Store     store.Store
	Scheduler SchedulerAPI
	Sessions  *session.Store

	Classifier ClassifierJudge
	YesNo      YesNoJudge

	GodModePassword string

	Now func() time.Time
}

// Result is what a precedence-chain stage returns.
type Result struct {
	Reply   string
	Extra   []string // additional messages sent after Reply
	Handled bool
}

func handled(reply string, extra ...string) Result {
	return Result{Reply: reply, Extra: extra, Handled: true}
}

func notHandled() Result { return Result{} }

// pendingConfirmation is installed by a handler that needs a yes/no from the
// next turn before acting (spec §4.4.1 / §4.4.5).
type pendingConfirmation struct {
	kind      string // "exportar" | "deletar_tudo" | "nuke_all" | "completion_confirmation" | "date_past_next_year" | "list_or_events_ambiguous"
	data      map[string]string
	expiresAt time.Time
}

// godModeSession tracks a chat's 24h admin elevation, started by "#<password>".
type godModeSession struct {
	expiresAt time.Time
}

// Router holds the cross-turn state the precedence chain depends on:
// pending confirmations and god-mode elevation, both keyed by
// channel:chat_id and bounded by TTL, plus the flow state machines which
// live in the session's own metadata bag instead.
type Router struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[string]pendingConfirmation
	godMode  map[string]godModeSession
}

func New(deps Deps, logger *slog.Logger) *Router {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Router{
		deps:    deps,
		logger:  logger.With("component", "router"),
		pending: make(map[string]pendingConfirmation),
		godMode: make(map[string]godModeSession),
	}
}

func chatKey(channel, chatID string) string { return channel + ":" + chatID }

// Route runs precedence steps 1, 3, 4, 5 and 6 of spec §4.4 against one
// inbound text message (step 2, reactive emoji, is RouteReaction below;
// onboarding — spec §4.5 — runs before Route is ever called, from
// internal/agent). A zero Result with Handled=false means "fall through to
// the assistant LLM loop".
func (r *Router) Route(ctx context.Context, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	key := chatKey(msg.Channel, msg.ChatID)
	text := strings.TrimSpace(msg.Content)

	// 1. Pending confirmation resolution.
	if res, ok := r.resolvePendingConfirmation(ctx, key, text, msg, user); ok {
		return res
	}

	// 6 is checked early relative to 3-5 only for the bare "#<password>"
	// activation phrase itself; once god-mode is active its diagnostic
	// subcommands are still ordinary bare "#foo" tokens, tried last.
	if res, ok := r.tryGodModeActivation(key, text); ok {
		return res
	}

	// 3. Slash commands and NL aliases.
	if res, ok := r.dispatchCommand(ctx, msg, sess, user); ok {
		return res
	}

	// 5. Flow state machines resume before fresh parser intents: a chat
	// mid-flow should have its next message interpreted as the flow's
	// answer, not reparsed from scratch.
	if res, ok := r.resumeFlow(ctx, msg, sess, user); ok {
		return res
	}

	// 4. Parser intents (natural-language scheduling / list / event asks
	// recognised without a slash, plus the "tenho de X, Y e Z" ambiguous
	// multi-item case).
	if res, ok := r.tryParserIntent(ctx, msg, sess, user); ok {
		return res
	}

	// 6. Bare admin diagnostic subcommands, only once god-mode is active.
	if res, ok := r.tryGodModeCommand(ctx, key, text, user); ok {
		return res
	}

	return notHandled()
}

// RouteReaction implements precedence step 2: 👍 completes the referenced
// reminder, ⏰ snoozes it +5min (capped at 3), 👎 asks reschedule-or-cancel.
// Because transports don't hand the router a stable message→job index, the
// "referenced" job is resolved heuristically as the most recently delivered
// reminder for this chat — grounded in the fact that reactions arrive
// seconds to minutes after the reminder they target.
func (r *Router) RouteReaction(ctx context.Context, msg *bus.IncomingMessage) Result {
	if msg.Reaction == nil {
		return notHandled()
	}
	job := r.mostRecentlyDelivered(msg.ChatID)
	if job == nil {
		return notHandled()
	}

	switch msg.Reaction.Emoji {
	case "👍":
		r.deps.Scheduler.Complete(ctx, job.ID)
		return handled("marked complete.")

	case "⏰":
		updated, err := r.deps.Scheduler.Snooze(ctx, job.ID)
		if err != nil {
			return notHandled()
		}
		if updated.State.SnoozeCount >= 3 {
			return handled("snoozed the maximum number of times — let me know when you're ready.")
		}
		return handled("snoozed 5 minutes.")

	case "👎":
		key := chatKey(msg.Channel, msg.ChatID)
		r.mu.Lock()
		r.pending[key] = pendingConfirmation{
			kind:      "completion_confirmation",
			data:      map[string]string{"job_id": job.ID, "action": "reschedule_or_cancel"},
			expiresAt: r.deps.Now().Add(5 * time.Minute),
		}
		r.mu.Unlock()
		return handled("reschedule or cancel? reply with one of those words.")
	}
	return notHandled()
}

// mostRecentlyDelivered scans the scheduler's job index for the job with the
// latest LastRunAtMS whose Payload.ChatID matches, within a 2h window —
// reactions arriving later than that are assumed to refer to nothing live.
func (r *Router) mostRecentlyDelivered(chatID string) *store.CronJob {
	cutoff := r.deps.Now().Add(-2 * time.Hour).UnixMilli()
	var best *store.CronJob
	for _, j := range r.deps.Scheduler.ListJobs(true) {
		if j.Payload.ChatID != chatID {
			continue
		}
		if j.State.LastRunAtMS == nil || *j.State.LastRunAtMS < cutoff {
			continue
		}
		if best == nil || *j.State.LastRunAtMS > *best.State.LastRunAtMS {
			best = j
		}
	}
	return best
}

func (r *Router) resolvePendingConfirmation(ctx context.Context, key, text string, msg *bus.IncomingMessage, user *store.User) (Result, bool) {
	r.mu.Lock()
	pc, ok := r.pending[key]
	if ok && r.deps.Now().After(pc.expiresAt) {
		delete(r.pending, key)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return Result{}, false
	}

	// list_or_events_ambiguous takes a three-way word answer, not yes/no.
	if pc.kind == "list_or_events_ambiguous" {
		choice, recognised := classifyListOrEventsChoice(text)
		if !recognised {
			return Result{}, false
		}
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		pc.data["choice"] = choice
		return r.resolveListOrEventsAmbiguous(ctx, pc, true, false, user), true
	}

	affirmative, negative, isAnswer := classifyYesNo(text)
	if !isAnswer {
		return Result{}, false
	}

	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()

	res := r.resolveConfirmation(ctx, pc, affirmative, negative, msg, user)
	return res, true
}

func classifyListOrEventsChoice(text string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "list", "lista", "listas":
		return "list", true
	case "reminders", "lembretes", "lembrete", "reminder":
		return "reminders", true
	case "both", "ambos", "ambas":
		return "both", true
	}
	return "", false
}

// classifyYesNo recognises the PT/BR/ES/EN affirmation/negation vocabulary
// spec §4.4.1 names (1/2, yes/no, sim/não).
func classifyYesNo(text string) (affirmative, negative, isAnswer bool) {
	folded := strings.ToLower(strings.TrimSpace(text))
	switch folded {
	case "1", "sim", "s", "yes", "y", "si", "claro", "correto", "correcto":
		return true, false, true
	case "2", "nao", "não", "n", "no":
		return false, true, true
	}
	return false, false, false
}

func (r *Router) resolveConfirmation(ctx context.Context, pc pendingConfirmation, yes, no bool, msg *bus.IncomingMessage, user *store.User) Result {
	lang := locale.Lang(localeOf(user))
	switch pc.kind {
	case "exportar":
		if !yes {
			return handled(locale.Render("blocklist_refusal", lang))
		}
		return handled(r.exportUserData(ctx, user))

	case "deletar_tudo", "nuke_all":
		if !yes {
			return handled("cancelled — nothing was deleted.")
		}
		return handled(r.deleteAllUserData(ctx, user, msg.ChatID))

	case "completion_confirmation":
		jobID := pc.data["job_id"]
		if yes {
			r.deps.Scheduler.Complete(ctx, jobID)
			return handled("marked complete.")
		}
		r.deps.Scheduler.RemoveJobAndDeadlineFollowups(ctx, jobID)
		return handled("cancelled.")

	case "date_past_next_year":
		if !yes {
			return handled("ok, not scheduled.")
		}
		return r.scheduleDeferredPastDate(ctx, pc, user)

	case "list_or_events_ambiguous":
		return r.resolveListOrEventsAmbiguous(ctx, pc, yes, no, user)
	}
	return notHandled()
}

func localeOf(user *store.User) string {
	if user == nil || user.Language == "" {
		return string(locale.En)
	}
	return user.Language
}

func (r *Router) tryGodModeActivation(key, text string) (Result, bool) {
	if !strings.HasPrefix(text, "#") {
		return Result{}, false
	}
	candidate := strings.TrimSpace(strings.TrimPrefix(text, "#"))
	if r.deps.GodModePassword == "" || candidate != r.deps.GodModePassword {
		return Result{}, false
	}
	r.mu.Lock()
	r.godMode[key] = godModeSession{expiresAt: r.deps.Now().Add(24 * time.Hour)}
	r.mu.Unlock()
	return handled("god mode active for 24h."), true
}

func (r *Router) isGodMode(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	gm, ok := r.godMode[key]
	if !ok {
		return false
	}
	if r.deps.Now().After(gm.expiresAt) {
		delete(r.godMode, key)
		return false
	}
	return true
}

// fmtTime is the shared "date, time" rendering used across command replies.
func fmtTime(ms int64, loc *time.Location) string {
	t := time.UnixMilli(ms).In(loc)
	return t.Format("02/01/2006 15:04")
}
