package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/llm"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
)

// runOnboarding implements the deterministic state machine from spec §4.5.
// Timezone acquisition is non-blocking: the caller reaches here when
// user.Timezone == "" or when onboarding is still in flight for the session
// (see onboardingInFlight), and the turn may be answered entirely by this
// state machine, in which case shortCircuit is true and reply is the only
// thing sent back.
func (a *Agent) runOnboarding(ctx context.Context, sess *session.Session, user *store.User, msg *bus.IncomingMessage) (reply string, shortCircuit bool) {
	text := strings.TrimSpace(msg.Content)
	state, _ := sess.Meta("onboarding_state")
	stateStr, _ := state.(string)
	if stateStr == "" {
		stateStr = "fresh"
	}

	switch stateStr {
	case "fresh":
		sess.SetMeta("onboarding_state", "intro_sent")
		return onboardingIntro, true

	case "intro_sent":
		return a.onboardingIntroReply(ctx, sess, user, text)

	case "pending_timezone":
		return a.onboardingIntroReply(ctx, sess, user, text)

	case "pending_time_confirm":
		return a.onboardingTimeConfirmReply(ctx, sess, user, text)

	case "pending_preferred_name":
		return a.onboardingPreferredNameReply(ctx, sess, user, msg, text)
	}

	// done, or an unrecognised state: don't block the turn.
	return "", false
}

const onboardingIntro = "Hi! I'm your reminders and lists assistant. Which city are you in, or what time is it there?"

// onboardingInFlight reports whether this session has started the
// onboarding state machine but not yet reached "done" — it gates re-entry
// for chats that already have a timezone from the first half of the flow
// but still owe the preferred-name question.
func onboardingInFlight(sess *session.Session) bool {
	state, _ := sess.Meta("onboarding_state")
	s, _ := state.(string)
	return s != "" && s != "done"
}

func (a *Agent) onboardingIntroReply(ctx context.Context, sess *session.Session, user *store.User, text string) (string, bool) {
	if text == "" {
		return onboardingIntro, true
	}

	if city, tz, ok := a.resolveCityTimezone(ctx, text); ok {
		user.City = city
		user.Timezone = tz
		if err := a.deps.Store.UpdateUser(ctx, user); err != nil {
			a.logger.Warn("persist onboarding timezone failed", "error", err)
		}
		sess.SetMeta("onboarding_state", "pending_preferred_name")
		return fmt.Sprintf("got it, set you to %s (%s). And what should I call you?", city, tz), true
	}

	if localHour, _, localTime, ok := parseLocalTimeGuess(text); ok {
		utcNow := a.deps.Now().UTC()
		offsetHours := clampOffset(localHour - utcNow.Hour())
		proposedTZ := offsetToIANA(offsetHours)
		localNow := utcNow.Add(time.Duration(offsetHours) * time.Hour)
		sess.SetMeta("proposed_tz_iana", proposedTZ)
		sess.SetMeta("onboarding_state", "pending_time_confirm")
		return fmt.Sprintf("So, %s, %s. Correct?", localNow.Format("02/01/2006"), localTime), true
	}

	count, _ := sess.Meta("onboarding_nudge_count")
	n, _ := count.(int)
	n++
	sess.SetMeta("onboarding_nudge_count", n)
	sess.SetMeta("onboarding_state", "pending_timezone")
	if n >= 2 {
		return "what time is it for you right now? (e.g. 3pm)", true
	}
	return "sorry, I didn't catch that — which city are you in, or what time is it there?", true
}

// resolveCityTimezone asks the parser LLM for a canonical city name, then
// its IANA timezone, per spec §4.5's two-step resolution. A nil LLM client
// (tests, or an LLM outage) simply fails the city-interpretation branch so
// the flow falls through to the local-time guess instead.
func (a *Agent) resolveCityTimezone(ctx context.Context, text string) (city, tz string, ok bool) {
	if a.deps.LLM == nil {
		return "", "", false
	}
	looksLikeTime := reLocalTime.MatchString(text)
	if looksLikeTime {
		return "", "", false
	}
	resp, err := a.deps.LLM.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Reply with exactly two lines: the canonical city name, then its IANA timezone (e.g. Europe/Lisbon). If the input is not a recognisable place, reply exactly with NONE."},
		{Role: "user", Content: text},
	}, nil, llm.ProfileParser)
	if err != nil || resp.Content == "" || strings.TrimSpace(resp.Content) == "NONE" {
		return "", "", false
	}
	lines := strings.Split(strings.TrimSpace(resp.Content), "\n")
	if len(lines) < 2 {
		return "", "", false
	}
	city = strings.TrimSpace(lines[0])
	tz = strings.TrimSpace(lines[1])
	if city == "" || tz == "" {
		return "", "", false
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", "", false
	}
	return city, tz, true
}

var reLocalTime = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*$`)

// parseLocalTimeGuess recognises a bare local-time answer like "3pm" or
// "15:30" and returns its hour/minute in 24h form.
func parseLocalTimeGuess(text string) (hour, minute int, localTime string, ok bool) {
	m := reLocalTime.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, "", false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, "", false
	}
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, fmt.Sprintf("%02d:%02d", hour, minute), true
}

// clampOffset folds a raw hour difference into the ±12h range the spec
// names, choosing the shorter way around the clock.
func clampOffset(diff int) int {
	for diff > 12 {
		diff -= 24
	}
	for diff < -12 {
		diff += 24
	}
	return diff
}

// offsetToIANA maps a clamped UTC offset to its Etc/GMT zone. Etc/GMT zones
// use inverted sign conventions (Etc/GMT+3 is three hours *behind* UTC), so
// the spec's "east-positive" offset must be negated to get the Etc/GMT name.
func offsetToIANA(offsetHours int) string {
	etc := -offsetHours
	if etc >= 0 {
		return fmt.Sprintf("Etc/GMT+%d", etc)
	}
	return fmt.Sprintf("Etc/GMT%d", etc)
}

func (a *Agent) onboardingTimeConfirmReply(ctx context.Context, sess *session.Session, user *store.User, text string) (string, bool) {
	affirmative, negative, isAnswer := classifyYesNoLocal(text)
	tzAny, _ := sess.Meta("proposed_tz_iana")
	tz, _ := tzAny.(string)

	if !isAnswer || affirmative {
		if tz == "" {
			tz = "UTC"
		}
		user.Timezone = tz
		if err := a.deps.Store.UpdateUser(ctx, user); err != nil {
			a.logger.Warn("persist onboarding tz confirm failed", "error", err)
		}
		sess.DeleteMeta("proposed_tz_iana")
		sess.SetMeta("onboarding_state", "pending_preferred_name")
		return "great, noted. And what should I call you?", true
	}

	if negative {
		sess.DeleteMeta("proposed_tz_iana")
		sess.SetMeta("onboarding_state", "pending_timezone")
		return "ok, what time is it for you right now?", true
	}

	return "great, noted. And what should I call you?", true
}

func classifyYesNoLocal(text string) (affirmative, negative, isAnswer bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "sim", "s", "yes", "y", "si", "claro":
		return true, false, true
	case "2", "nao", "não", "n", "no":
		return false, true, true
	}
	return false, false, false
}

var reValidName = regexp.MustCompile(`^[\p{L}][\p{L} .'-]{0,39}$`)

func (a *Agent) onboardingPreferredNameReply(ctx context.Context, sess *session.Session, user *store.User, msg *bus.IncomingMessage, text string) (string, bool) {
	name := strings.TrimSpace(text)
	switch {
	case reValidName.MatchString(name):
		// keep as-is
	case strings.TrimSpace(msg.FromName) != "":
		name = strings.TrimSpace(msg.FromName)
	default:
		name = "utilizador"
	}

	user.PreferredName = name
	if err := a.deps.Store.UpdateUser(ctx, user); err != nil {
		a.logger.Warn("persist preferred name failed", "error", err)
	}
	if mem, err := a.openMemory(msg.Channel, msg.ChatID); err == nil {
		_ = mem.SetSection("profile", "preferred name: "+name)
	}

	sess.SetMeta("onboarding_state", "done")
	return fmt.Sprintf("nice to meet you, %s! You're all set — send /help any time to see what I can do.", name), true
}
