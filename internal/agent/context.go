package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/llm"
	"github.com/zapista/organizer/internal/locale"
	"github.com/zapista/organizer/internal/memory"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
	"github.com/zapista/organizer/internal/tools"
)

// PainpointCheckEvery is how many user turns pass between frustration scans
// (spec §4.3 step 21).
const PainpointCheckEvery = 20

func (a *Agent) openMemory(channel, chatID string) (*memory.Store, error) {
	return memory.Open(a.deps.MemoryRoot, chatKey(channel, chatID))
}

// tryAnalyticRouting implements step 15: a clearly analytic ask (history
// summary, pattern question) is answered directly by the parser LLM against
// a relevant data slice, bypassing the full assistant tool loop.
func (a *Agent) tryAnalyticRouting(ctx context.Context, text string, user *store.User) (string, bool) {
	if a.deps.LLM == nil {
		return "", false
	}
	classification, err := nlp.Classify(ctx, a.classifierJudge(ctx), text)
	if err != nil || classification.TaskType != nlp.TaskQuery {
		return "", false
	}

	jobs := a.deps.Cron.ListJobs(false)
	var b strings.Builder
	for _, j := range jobs {
		if j.Payload.ChatID != user.ID {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", j.ID, j.Name)
	}

	resp, err := a.deps.LLM.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Answer the user's analytic question about their own reminders/lists/events using only the data below. Be concise."},
		{Role: "user", Content: "Data:\n" + b.String() + "\n\nQuestion: " + text},
	}, nil, llm.ProfileParser)
	if err != nil {
		return "", false
	}
	return resp.Content, true
}

func (a *Agent) classifierJudge(ctx context.Context) nlp.ClassifierJudge {
	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := a.deps.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, llm.ProfileParser)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

// summarizer builds a session.Summarizer bound to one user, grounded on the
// teacher's compactMessages idea but expressed as a single parser-LLM call
// instead of a token-budget shrink loop, since the organizer's sessions are
// small enough that one summarisation pass always fits.
func (a *Agent) summarizer(ctx context.Context, sess *session.Session) session.Summarizer {
	return func(oldest []session.Message) (string, []string, error) {
		if a.deps.LLM == nil {
			return "(unsummarised history omitted)", nil, nil
		}
		var transcript strings.Builder
		for _, m := range oldest {
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		}
		resp, err := a.deps.LLM.Chat(ctx, []llm.Message{
			{Role: "system", Content: "Summarise this conversation excerpt in 2-3 sentences for the assistant's own future reference. Then, on new lines prefixed with \"- \", list any durable facts worth remembering long-term (preferences, recurring context). If none, omit the bullets."},
			{Role: "user", Content: transcript.String()},
		}, nil, llm.ProfileParser)
		if err != nil {
			return "(summary unavailable)", nil, nil
		}
		summary, bullets := splitSummaryBullets(resp.Content)
		if mem, merr := a.openMemory(sess.Channel, sess.ChatID); merr == nil {
			for _, b := range bullets {
				_ = mem.AppendToSection("notes", b)
			}
		}
		return summary, bullets, nil
	}
}

func splitSummaryBullets(content string) (summary string, bullets []string) {
	var summaryLines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			bullets = append(bullets, strings.TrimPrefix(trimmed, "- "))
			continue
		}
		if trimmed != "" {
			summaryLines = append(summaryLines, trimmed)
		}
	}
	return strings.Join(summaryLines, " "), bullets
}

// runAssistantTurn implements steps 18-20: build the system prompt, run the
// assistant tool-calling loop, and fall back to the parser provider once on
// failure before giving up with the degraded template.
func (a *Agent) runAssistantTurn(ctx context.Context, msg *bus.IncomingMessage, sess *session.Session, user *store.User, lang locale.Lang) string {
	if a.deps.LLM == nil {
		return locale.Render("degraded", lang)
	}

	reg := tools.NewRegistry(a.logger)
	tools.Register(reg, tools.Deps{
		Store:         a.deps.Store,
		Cron:          a.deps.Cron,
		MemoryRoot:    a.deps.MemoryRoot,
		WorkspaceRoot: a.deps.WorkspaceRoot,
		Outbound:      a.deps.Outbound,
		HabitualJudge: a.deps.HabitualJudge,
		SearchAPIKey:  a.deps.SearchAPIKey,
		SearchBaseURL: a.deps.SearchBaseURL,
		SessionKey:    sess.ID,
		UserID:        user.ID,
		Channel:       msg.Channel,
		ChatID:        msg.ChatID,
		Locale:        string(lang),
		Timezone:      user.Timezone,
		Now:           a.deps.Now,
	})

	messages := a.buildPromptMessages(sess, user, lang, msg.Content)

	content, err := a.runToolLoop(ctx, messages, reg, llm.ProfileAssistant)
	if err != nil {
		a.deps.Safety.Breaker.RecordFailure()
		a.logger.Warn("assistant call failed, retrying with parser fallback", "error", err)
		content, err = a.runToolLoop(ctx, messages, reg, llm.ProfileParser)
		if err != nil {
			a.deps.Safety.Breaker.RecordFailure()
			a.logger.Error("assistant fallback also failed", "error", err)
			return locale.Render("degraded", lang)
		}
	}
	a.deps.Safety.Breaker.RecordSuccess()
	return content
}

// runToolLoop calls profile up to MaxToolIterations times, feeding tool
// results back in, stopping as soon as a response carries no tool calls.
func (a *Agent) runToolLoop(ctx context.Context, messages []llm.Message, reg *tools.Registry, profile llm.Profile) (string, error) {
	defs := reg.Definitions()
	max := a.deps.MaxToolIterations
	if max <= 0 {
		max = 20
	}

	working := make([]llm.Message, len(messages))
	copy(working, messages)

	for i := 0; i < max; i++ {
		resp, err := a.deps.LLM.Chat(ctx, working, defs, profile)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		working = append(working, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		working = append(working, reg.Execute(ctx, resp.ToolCalls)...)
	}
	return "", fmt.Errorf("agent: exceeded %d tool iterations without a final answer", max)
}

// buildPromptMessages assembles the system prompt (identity + current time
// in the user's timezone + reference-file list + workspace path + scoped
// memory + skills summary + language hint) plus the session history and the
// latest user turn, per spec §4.3 step 18. The current turn isn't in sess's
// history yet — persistTurn only appends it once the reply is known — so
// text is threaded through explicitly and appended as the final message.
func (a *Agent) buildPromptMessages(sess *session.Session, user *store.User, lang locale.Lang, text string) []llm.Message {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := a.deps.Now().In(loc)

	var memoryText string
	if mem, err := a.openMemory(sess.Channel, sess.ChatID); err == nil {
		memoryText, _ = mem.Render()
	}

	var sys strings.Builder
	sys.WriteString("You are a focused reminders, lists and personal-calendar assistant. ")
	sys.WriteString("You only help with reminders, lists, events and related small talk; refuse anything else politely.\n\n")
	fmt.Fprintf(&sys, "Current time for this user: %s (%s).\n", now.Format("Mon 02/01/2006 15:04"), user.Timezone)
	sys.WriteString("Reference documents available via read_file: identity, rules, memory.\n")
	fmt.Fprintf(&sys, "Workspace path: %s\n", a.deps.WorkspaceRoot)
	sys.WriteString("Tools available: cron, list, event, read_file, search, message.\n")
	fmt.Fprintf(&sys, "Reply in %s.\n", lang)
	if memoryText != "" {
		sys.WriteString("\nWhat you remember about this user:\n")
		sys.WriteString(memoryText)
	}

	out := []llm.Message{{Role: "system", Content: sys.String()}}
	for _, m := range sess.History() {
		role := string(m.Role)
		if role == "system" {
			role = "assistant" // summary messages ride along as assistant context, not a second system prompt
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	out = append(out, llm.Message{Role: "user", Content: text})
	return out
}

// maybeDetectPainpoint implements step 21's periodic frustration scan.
func (a *Agent) maybeDetectPainpoint(ctx context.Context, key string, user *store.User, sess *session.Session) {
	a.mu.Lock()
	a.turnCounts[key]++
	n := a.turnCounts[key]
	a.mu.Unlock()

	if n%PainpointCheckEvery != 0 || a.deps.LLM == nil {
		return
	}

	recent := sess.Recent(25)
	var transcript strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := a.deps.LLM.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Answer with exactly one word: YES or NO. Does this conversation excerpt show the user frustrated or complaining?"},
		{Role: "user", Content: transcript.String()},
	}, nil, llm.ProfileParser)
	if err != nil {
		return
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp.Content)), "YES") {
		return
	}

	excerpt := transcript.String()
	if len(excerpt) > 500 {
		excerpt = excerpt[len(excerpt)-500:]
	}
	_ = a.deps.Store.AddPainpoint(ctx, &store.Painpoint{
		UserID:    user.ID,
		ChatID:    sess.ChatID,
		Excerpt:   excerpt,
		CreatedAt: a.deps.Now(),
	})
}
