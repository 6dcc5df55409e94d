package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
)

// vagueTimeFlow is installed by cmdLembrete and by the free-form parser
// intent path when a message names an event but the time or date half is
// missing (spec §4.4.5 "vague-time flow").
type vagueTimeFlow struct {
	Description string
	Attempts    int
}

// recurringFlow is installed once a weekly-schedule phrase parses, pending
// the "until when" answer.
type recurringFlow struct {
	CronExpr string
	TZ       string
	Name     string
}

const maxVagueTimeAttempts = 3

func (r *Router) installVagueTimeFlow(sess *session.Session, description string) {
	sess.SetMeta("pending_reminder_flow", vagueTimeFlow{Description: description})
}

func (r *Router) installRecurringUntilFlow(sess *session.Session, parsed nlp.ParseResult) {
	sess.SetMeta("pending_recurring_flow", recurringFlow{
		CronExpr: parsed.Schedule.Expr,
		TZ:       parsed.Schedule.TZ,
		Name:     parsed.Message,
	})
}

func (r *Router) installPastDateConfirmation(key string, atMS int64, name string, user *store.User) {
	r.mu.Lock()
	r.pending[key] = pendingConfirmation{
		kind: "date_past_next_year",
		data: map[string]string{"at_ms": fmt.Sprintf("%d", atMS), "name": name},
		expiresAt: r.deps.Now().Add(5 * time.Minute),
	}
	r.mu.Unlock()
}

// resumeFlow implements precedence step 5: a chat with an open flow state
// machine has its next message interpreted as the flow's answer rather than
// reparsed as a fresh command or intent.
func (r *Router) resumeFlow(ctx context.Context, msg *bus.IncomingMessage, sess *session.Session, user *store.User) (Result, bool) {
	text := strings.TrimSpace(msg.Content)

	if v, ok := sess.Meta("pending_reminder_flow"); ok {
		flow, ok := v.(vagueTimeFlow)
		if !ok {
			sess.DeleteMeta("pending_reminder_flow")
			return Result{}, false
		}
		loc := userTZ(user)
		parsed := nlp.ParseReminderTime(flow.Description+" "+text, r.deps.Now(), loc)
		if !parsed.Matched {
			flow.Attempts++
			if flow.Attempts >= maxVagueTimeAttempts {
				sess.DeleteMeta("pending_reminder_flow")
				return handled("ok, let's leave it for now."), true
			}
			sess.SetMeta("pending_reminder_flow", flow)
			return handled("still need a time or date for that — when should I remind you?"), true
		}
		sess.DeleteMeta("pending_reminder_flow")
		job, err := r.deps.Scheduler.AddJob(ctx, user.ID, parsed.Message, parsed.Schedule,
			store.Payload{Kind: store.PayloadAgentTurn, Text: parsed.Message, Channel: msg.Channel, ChatID: msg.ChatID, Locale: string(userLang(user)), Deliver: true},
			false, parsed.Message)
		if err != nil {
			return handled("couldn't schedule that: " + err.Error()), true
		}
		return handled(fmt.Sprintf("scheduled (%s).", job.ID)), true
	}

	if v, ok := sess.Meta("pending_recurring_flow"); ok {
		flow, ok := v.(recurringFlow)
		if !ok {
			sess.DeleteMeta("pending_recurring_flow")
			return Result{}, false
		}
		sess.DeleteMeta("pending_recurring_flow")
		notBefore, notAfter := recurringWindowFromAnswer(text, r.deps.Now())
		job, err := r.deps.Scheduler.AddJob(ctx, user.ID, flow.Name,
			store.Schedule{Kind: store.ScheduleCron, Expr: flow.CronExpr, TZ: flow.TZ, NotBeforeMS: notBefore, NotAfterMS: notAfter},
			store.Payload{Kind: store.PayloadAgentTurn, Text: flow.Name, Channel: msg.Channel, ChatID: msg.ChatID, Locale: string(userLang(user)), Deliver: true},
			false, flow.Name)
		if err != nil {
			return handled("couldn't schedule that: " + err.Error()), true
		}
		return handled(fmt.Sprintf("recurring reminder set (%s).", job.ID)), true
	}

	return Result{}, false
}

// recurringWindowFromAnswer resolves the fixed vocabulary spec §4.4.5
// names for a recurring job's end date, plus a fallback to an absolute
// date via internal/nlp.
func recurringWindowFromAnswer(text string, now time.Time) (notBefore, notAfter *int64) {
	folded := strings.ToLower(strings.TrimSpace(text))
	switch folded {
	case "indefinido", "indefinite":
		return nil, nil
	case "fim_semana", "fim da semana", "end of week":
		end := endOfWeek(now).UnixMilli()
		return nil, &end
	case "fim_mes", "fim do mes", "fim do mês", "end of month":
		end := endOfMonth(now).UnixMilli()
		return nil, &end
	case "fim_ano", "fim do ano", "end of year":
		end := time.Date(now.Year(), time.December, 31, 23, 59, 0, 0, now.Location()).UnixMilli()
		return nil, &end
	}
	if ms, ok := nlp.ExtractStartDate("a partir de "+text, now, now.Location()); ok {
		return nil, &ms
	}
	return nil, nil
}

func endOfWeek(now time.Time) time.Time {
	daysUntilSunday := (7 - int(now.Weekday())) % 7
	return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, now.Location()).AddDate(0, 0, daysUntilSunday)
}

func endOfMonth(now time.Time) time.Time {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	return firstOfNext.Add(-time.Second)
}

func (r *Router) scheduleDeferredPastDate(ctx context.Context, pc pendingConfirmation, user *store.User) Result {
	var atMS int64
	fmt.Sscanf(pc.data["at_ms"], "%d", &atMS)
	deferred := time.UnixMilli(atMS).AddDate(1, 0, 0)
	job, err := r.deps.Scheduler.AddJob(ctx, user.ID, pc.data["name"],
		store.Schedule{Kind: store.ScheduleAt, AtMS: deferred.UnixMilli()},
		store.Payload{Kind: store.PayloadAgentTurn, Text: pc.data["name"], Deliver: true},
		false, pc.data["name"])
	if err != nil {
		return handled("couldn't schedule that: " + err.Error())
	}
	return handled(fmt.Sprintf("scheduled for next year (%s).", job.ID))
}

// resolveListOrEventsAmbiguous answers the "list / reminders / both?"
// confirmation installed when a multi-item "tenho de X, Y e Z" message
// parses as ambiguous between a shopping list and individual reminders.
func (r *Router) resolveListOrEventsAmbiguous(ctx context.Context, pc pendingConfirmation, yes, no bool, user *store.User) Result {
	items := strings.Split(pc.data["items"], "|")
	choice := strings.ToLower(pc.data["choice"])
	switch choice {
	case "list":
		if !yes {
			return handled("ok, not added.")
		}
		l, err := r.deps.Store.GetListByName(ctx, user.ID, "geral")
		if err != nil {
			l, err = r.deps.Store.CreateList(ctx, &store.List{UserID: user.ID, Name: "geral"})
			if err != nil {
				return handled("couldn't create that list.")
			}
		}
		for _, it := range items {
			_, _ = r.deps.Store.AddListItem(ctx, &store.ListItem{ListID: l.ID, Text: strings.TrimSpace(it)})
		}
		return handled(fmt.Sprintf("added %d items to your list.", len(items)))
	case "both":
		r.resolveListOrEventsAmbiguous(ctx, pendingConfirmation{kind: "list_or_events_ambiguous", data: map[string]string{"items": pc.data["items"], "choice": "list"}}, true, false, user)
		return r.resolveListOrEventsAmbiguous(ctx, pendingConfirmation{kind: "list_or_events_ambiguous", data: map[string]string{"items": pc.data["items"], "choice": "reminders"}}, true, false, user)
	default:
		if !yes {
			return handled("ok, never mind.")
		}
		count := 0
		for _, it := range items {
			if _, err := r.deps.Scheduler.AddJob(ctx, user.ID, strings.TrimSpace(it), store.Schedule{Kind: store.ScheduleAt, AtMS: r.deps.Now().Add(time.Hour).UnixMilli()},
				store.Payload{Kind: store.PayloadAgentTurn, Text: strings.TrimSpace(it), Deliver: true}, false, strings.TrimSpace(it)); err == nil {
				count++
			}
		}
		return handled(fmt.Sprintf("scheduled %d reminders.", count))
	}
}

// exportUserData builds a plain-text export of everything the spec's /exportar
// command surfaces: lists, events, goals and notes.
func (r *Router) exportUserData(ctx context.Context, user *store.User) string {
	var b strings.Builder
	lists, _ := r.deps.Store.ListLists(ctx, user.ID)
	for _, l := range lists {
		items, _ := r.deps.Store.ListItems(ctx, l.ID, true)
		fmt.Fprintf(&b, "# %s\n", l.Name)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it.Text)
		}
	}
	events, _ := r.deps.Store.ListEvents(ctx, user.ID, "")
	if len(events) > 0 {
		b.WriteString("# events\n")
		for _, e := range events {
			nome, _ := e.Payload["nome"].(string)
			fmt.Fprintf(&b, "- %s: %s\n", e.Type, nome)
		}
	}
	goals, _ := r.deps.Store.ListGoals(ctx, user.ID)
	if len(goals) > 0 {
		b.WriteString("# goals\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s\n", g.Text)
		}
	}
	notes, _ := r.deps.Store.ListNotes(ctx, user.ID)
	if len(notes) > 0 {
		b.WriteString("# notes\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
	}
	if b.Len() == 0 {
		return "nothing to export yet."
	}
	return b.String()
}

// deleteAllUserData wipes everything "/deletar_tudo" (or its /nuke, /bomba
// aliases) names: lists, events, and every scheduled job for this chat.
func (r *Router) deleteAllUserData(ctx context.Context, user *store.User, chatID string) string {
	lists, _ := r.deps.Store.ListLists(ctx, user.ID)
	for _, l := range lists {
		_ = r.deps.Store.DeleteList(ctx, l.ID)
	}
	events, _ := r.deps.Store.ListEvents(ctx, user.ID, "")
	for _, e := range events {
		_ = r.deps.Store.RemoveEvent(ctx, e.ID)
	}
	for _, j := range r.deps.Scheduler.ListJobs(true) {
		if j.Payload.ChatID == chatID {
			r.deps.Scheduler.RemoveJobAndDeadlineFollowups(ctx, j.ID)
		}
	}
	return "everything deleted."
}
