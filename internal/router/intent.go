package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
)

// reHasToDo recognises the "tenho de / preciso de / tenho que" opener spec
// §4.4.4 names for the ambiguous multi-item case.
var reHasToDo = regexp.MustCompile(`(?i)^(tenho (?:de|que)|preciso (?:de|que)|i (?:need|have) to|necesito|tengo que)\s+(.+)`)

var reItemSplit = regexp.MustCompile(`\s*,\s*|\s+e\s+|\s+and\s+|\s+y\s+`)

// tryParserIntent implements precedence step 4: natural-language scheduling,
// list, and event asks recognised without a leading slash, plus the
// "tenho de X, Y e Z" ambiguous multi-item case that installs a pending
// "list / reminders / both?" confirmation.
func (r *Router) tryParserIntent(ctx context.Context, msg *bus.IncomingMessage, sess *session.Session, user *store.User) (Result, bool) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Result{}, false
	}

	if m := reHasToDo.FindStringSubmatch(text); m != nil {
		items := reItemSplit.Split(strings.TrimSpace(m[2]), -1)
		if len(items) >= 2 {
			key := chatKey(msg.Channel, msg.ChatID)
			r.mu.Lock()
			r.pending[key] = pendingConfirmation{
				kind:      "list_or_events_ambiguous",
				data:      map[string]string{"items": strings.Join(items, "|")},
				expiresAt: r.deps.Now().Add(5 * time.Minute),
			}
			r.mu.Unlock()
			return handled("is that a list, reminders, or both? reply list / reminders / both"), true
		}
	}

	loc := userTZ(user)
	now := r.deps.Now()
	if looksLikeSchedulingRequest(text) {
		parsed := nlp.ParseReminderTime(text, now, loc)
		if parsed.Matched {
			if strings.TrimSpace(parsed.Message) == "" {
				return handled("what is it for? tell me what to remind you about."), true
			}
			if parsed.Schedule.Kind == store.ScheduleAt && parsed.Schedule.AtMS < now.UnixMilli() {
				r.installPastDateConfirmation(chatKey(msg.Channel, msg.ChatID), parsed.Schedule.AtMS, parsed.Message, user)
				return handled("that time is in the past — schedule for next year instead? (1=yes / 2=no)"), true
			}
			job, err := r.deps.Scheduler.AddJob(ctx, user.ID, parsed.Message, parsed.Schedule,
				store.Payload{Kind: store.PayloadAgentTurn, Text: parsed.Message, Channel: msg.Channel, ChatID: msg.ChatID, Locale: string(userLang(user)), Deliver: true},
				false, parsed.Message)
			if err != nil {
				return handled("couldn't schedule that: " + err.Error()), true
			}
			return handled(fmt.Sprintf("scheduled (%s).", job.ID)), true
		}
		if hasEventKeyword(text) && hasDateWord(text) && !hasTimeWord(text) {
			r.installVagueTimeFlow(sess, text)
			return handled("what time?"), true
		}
		if hasEventKeyword(text) && hasTimeWord(text) && !hasDateWord(text) {
			r.installVagueTimeFlow(sess, text)
			return handled("which day?"), true
		}
	}

	if r.deps.Classifier != nil {
		classification, err := nlp.Classify(ctx, r.deps.Classifier, text)
		if err == nil && classification.TaskType == nlp.TaskQuery {
			// Analytic routing (spec §4.3 step 15) is the agent loop's job;
			// signal "not handled" so it dispatches to the parser LLM with
			// the relevant data slice.
			return Result{}, false
		}
	}

	return Result{}, false
}

func looksLikeSchedulingRequest(text string) bool {
	return hasEventKeyword(text) || hasDateWord(text) || hasTimeWord(text)
}

var eventKeywords = []string{"lembra", "lembrar", "remind", "recorda", "avisa", "marca", "agenda", "consulta", "reuniao", "reunião", "meeting"}
var dateWords = []string{"amanha", "amanhã", "hoje", "segunda", "terca", "terça", "quarta", "quinta", "sexta", "sabado", "sábado", "domingo", "/", "tomorrow", "today", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
var timeWords = []string{"h", ":", "hora", "horas", "am", "pm"}

func hasEventKeyword(text string) bool { return containsAny(text, eventKeywords) }
func hasDateWord(text string) bool     { return containsAny(text, dateWords) }
func hasTimeWord(text string) bool     { return containsAny(text, timeWords) }

func containsAny(text string, words []string) bool {
	folded := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}
