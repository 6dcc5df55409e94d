package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/locale"
	"github.com/zapista/organizer/internal/router"
	"github.com/zapista/organizer/internal/safety"
	"github.com/zapista/organizer/internal/scheduler"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
	"github.com/zapista/organizer/internal/store/sqlite"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) NowMS() int64 { return c.t.UnixMilli() }

// newTestAgent wires a real sqlite store and scheduler (matching the
// teacher's own DB-backed test style) with no LLM client, exercising every
// pipeline step that doesn't need one.
func newTestAgent(t *testing.T) (*Agent, store.Store, func() time.Time) {
	t.Helper()
	dir, err := os.MkdirTemp("", "organizer-agent-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := sqlite.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sched, err := scheduler.New(context.Background(), st, fixedClock{now()}, nil, nil, nil, nil, scheduler.Config{}, logger)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	sessions := session.NewStore()
	rt := router.New(router.Deps{
		Store:     st,
		Scheduler: sched,
		Sessions:  sessions,
		Now:       now,
	}, logger)

	a := New(Deps{
		Store:             st,
		Sessions:          sessions,
		Router:            rt,
		Safety:            safety.New(5, 3, time.Minute, safety.QuotaLimits{Reminders: 20, Events: 20, Total: 30, WarnFraction: 0.8}),
		Cron:              sched,
		MemoryRoot:        filepath.Join(dir, "memory"),
		WorkspaceRoot:     dir,
		MaxToolIterations: 5,
		Now:               now,
	}, logger)

	return a, st, now
}

func textMessage(chatID, text string) *bus.IncomingMessage {
	return &bus.IncomingMessage{
		Channel:   "whatsapp",
		From:      chatID,
		ChatID:    chatID,
		Type:      bus.MessageText,
		Content:   text,
		Timestamp: time.Now(),
	}
}

func TestHandle_FreshUserGetsOnboardingIntro(t *testing.T) {
	a, _, _ := newTestAgent(t)
	replies := a.Handle(context.Background(), textMessage("5511999990000", "oi"))
	if len(replies) != 1 || replies[0] != onboardingIntro {
		t.Fatalf("expected onboarding intro, got %v", replies)
	}
}

func TestHandle_OnboardingContinuesToPreferredNameAfterTimeConfirm(t *testing.T) {
	a, st, _ := newTestAgent(t)
	ctx := context.Background()
	chatID := "5511999990001"

	a.Handle(ctx, textMessage(chatID, "oi")) // fresh -> intro_sent

	// No LLM wired, so city resolution can't succeed; a bare local-time
	// guess still must move the flow forward into confirmation.
	replies := a.Handle(ctx, textMessage(chatID, "3pm"))
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}

	// Confirm to reach the preferred-name question.
	replies = a.Handle(ctx, textMessage(chatID, "sim"))
	if len(replies) != 1 || replies[0] == "" {
		t.Fatalf("expected preferred-name prompt, got %v", replies)
	}

	user, err := st.GetUser(ctx, chatID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Timezone == "" {
		t.Fatal("expected timezone to be set after time confirmation")
	}

	// The preferred-name question must still fire even though the
	// timezone is already set — this is the bug step 12's gate exists
	// to prevent (see onboardingInFlight).
	replies = a.Handle(ctx, textMessage(chatID, "Maria"))
	if len(replies) != 1 {
		t.Fatalf("expected confirmation reply, got %v", replies)
	}

	user, err = st.GetUser(ctx, chatID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.PreferredName != "Maria" {
		t.Fatalf("expected preferred name %q, got %q", "Maria", user.PreferredName)
	}
}

func TestHandle_RateLimitBlocksExcessMessages(t *testing.T) {
	a, _, _ := newTestAgent(t)
	ctx := context.Background()
	chatID := "5511999990002"
	want := locale.Render("rate_limited", locale.En)

	// Rate limiter allows 5 events/min (configured in newTestAgent); the
	// 6th text in the same window must be rejected before onboarding or
	// anything else downstream gets a turn.
	var hitLimit bool
	for i := 0; i < 8; i++ {
		replies := a.Handle(ctx, textMessage(chatID, "oi"))
		if len(replies) == 1 && replies[0] == want {
			hitLimit = true
			break
		}
	}
	if !hitLimit {
		t.Fatal("expected the rate limiter to reject at least one of 8 rapid messages")
	}
}

func TestHandle_TrivialReplyIsIgnored(t *testing.T) {
	a, _, _ := newTestAgent(t)
	replies := a.Handle(context.Background(), textMessage("5511999990003", "ok"))
	if replies != nil {
		t.Fatalf("expected no reply to a trivial ack, got %v", replies)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims whitespace", "  hello  ", "hello"},
		{"strips control chars", "hel\x07lo", "hello"},
		{"truncates to MaxInputLength", strings.Repeat("a", MaxInputLength+100), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitize(tt.input)
			if tt.name == "truncates to MaxInputLength" {
				if len(got) != MaxInputLength {
					t.Fatalf("expected length %d, got %d", MaxInputLength, len(got))
				}
				return
			}
			if got != tt.want {
				t.Fatalf("sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCallingPhrase(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"are you there?", true},
		{"you there", true},
		{"tu estás aí?", true},
		{"remind me tomorrow at 3pm", false},
		{"tás aí? marca reunião dia 5", false},
	}
	for _, tt := range tests {
		if got := isCallingPhrase(tt.text); got != tt.want {
			t.Errorf("isCallingPhrase(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClampOffset(t *testing.T) {
	tests := []struct {
		diff int
		want int
	}{
		{0, 0},
		{5, 5},
		{-5, -5},
		{13, -11},
		{-13, 11},
		{25, 1},
		{-25, -1},
	}
	for _, tt := range tests {
		if got := clampOffset(tt.diff); got != tt.want {
			t.Errorf("clampOffset(%d) = %d, want %d", tt.diff, got, tt.want)
		}
	}
}

func TestOffsetToIANA(t *testing.T) {
	tests := []struct {
		offset int
		want   string
	}{
		{0, "Etc/GMT+0"},
		{3, "Etc/GMT-3"},
		{-3, "Etc/GMT+3"},
		{-8, "Etc/GMT+8"},
	}
	for _, tt := range tests {
		got := offsetToIANA(tt.offset)
		if got != tt.want {
			t.Errorf("offsetToIANA(%d) = %q, want %q", tt.offset, got, tt.want)
		}
		if _, err := time.LoadLocation(got); err != nil {
			t.Errorf("offsetToIANA(%d) = %q is not a loadable zone: %v", tt.offset, got, err)
		}
	}
}

func TestParseLocalTimeGuess(t *testing.T) {
	tests := []struct {
		text       string
		wantHour   int
		wantMinute int
		wantOK     bool
	}{
		{"3pm", 15, 0, true},
		{"3:30pm", 15, 30, true},
		{"15:30", 15, 30, true},
		{"12am", 0, 0, true},
		{"12pm", 12, 0, true},
		{"not a time", 0, 0, false},
	}
	for _, tt := range tests {
		hour, minute, _, ok := parseLocalTimeGuess(tt.text)
		if ok != tt.wantOK {
			t.Errorf("parseLocalTimeGuess(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if hour != tt.wantHour || minute != tt.wantMinute {
			t.Errorf("parseLocalTimeGuess(%q) = %d:%d, want %d:%d", tt.text, hour, minute, tt.wantHour, tt.wantMinute)
		}
	}
}

func TestSplitSummaryBullets(t *testing.T) {
	content := "The user discussed weekend plans.\n- prefers mornings\n- allergic to nuts\n"
	summary, bullets := splitSummaryBullets(content)
	if summary != "The user discussed weekend plans." {
		t.Errorf("unexpected summary: %q", summary)
	}
	if len(bullets) != 2 || bullets[0] != "prefers mornings" || bullets[1] != "allergic to nuts" {
		t.Errorf("unexpected bullets: %v", bullets)
	}
}

func TestClassifyYesNoLocal(t *testing.T) {
	tests := []struct {
		text    string
		wantYes bool
		wantNo  bool
		wantAns bool
	}{
		{"sim", true, false, true},
		{"yes", true, false, true},
		{"nao", false, true, true},
		{"n", false, true, true},
		{"maybe later", false, false, false},
	}
	for _, tt := range tests {
		yes, no, ans := classifyYesNoLocal(tt.text)
		if yes != tt.wantYes || no != tt.wantNo || ans != tt.wantAns {
			t.Errorf("classifyYesNoLocal(%q) = (%v,%v,%v), want (%v,%v,%v)", tt.text, yes, no, ans, tt.wantYes, tt.wantNo, tt.wantAns)
		}
	}
}

func TestOnboardingInFlight(t *testing.T) {
	sess := session.NewStore().GetOrCreate("whatsapp", "x")
	if onboardingInFlight(sess) {
		t.Fatal("a fresh session must not be in flight")
	}
	sess.SetMeta("onboarding_state", "pending_preferred_name")
	if !onboardingInFlight(sess) {
		t.Fatal("pending_preferred_name must be in flight")
	}
	sess.SetMeta("onboarding_state", "done")
	if onboardingInFlight(sess) {
		t.Fatal("done must not be in flight")
	}
}
