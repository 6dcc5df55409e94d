package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/llm"
	"github.com/zapista/organizer/internal/memory"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/scheduler"
	"github.com/zapista/organizer/internal/store"
)

// CronAPI is the subset of *scheduler.Scheduler the cron tool needs.
type CronAPI interface {
	AddJob(ctx context.Context, userID, name string, schedule store.Schedule, payload store.Payload, deleteAfterRun bool, suggestedPrefix string) (*store.CronJob, error)
	ListJobs(includeDisabled bool) []*store.CronJob
	RemoveJobAndDeadlineFollowups(ctx context.Context, id string) bool
}

// Deps bundles everything the six tool handlers close over for one turn.
// SessionKey/UserID/Channel/ChatID/Locale/Now/TZ scope every call to the
// caller's own data; Outbound.Publish is only reachable via the `message`
// tool, never used to answer the current chat.
type Deps struct {
	Store         store.Store
	Cron          CronAPI
	MemoryRoot    string
	WorkspaceRoot string
	Outbound      scheduler.Outbound
	HabitualJudge func(ctx context.Context, userID, listName string) ([]string, error)
	SearchAPIKey  string
	SearchBaseURL string // defaults to a Bing-compatible /v7.0/search endpoint

	SessionKey string
	UserID     string
	Channel    string
	ChatID     string
	Locale     string
	Timezone   string
	Now        func() time.Time
}

// Register wires the six spec tools into reg against deps. Each handler
// closes over the deps value given at registration, so per-turn scoping
// means building a fresh *Registry and calling Register with that turn's
// Deps, as internal/agent's runAssistantTurn does.
func Register(reg *Registry, deps Deps) {
	reg.register(cronDefinition(), cronHandler(deps))
	reg.register(listDefinition(), listHandler(deps))
	reg.register(eventDefinition(), eventHandler(deps))
	reg.register(readFileDefinition(), readFileHandler(deps))
	reg.register(searchDefinition(), searchHandler(deps))
	reg.register(messageDefinition(), messageHandler(deps))
}

func schemaJSON(v map[string]any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ---------- cron ----------

func cronDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "cron",
			Description: "Create, list or remove a scheduled reminder/event job.",
			Parameters: schemaJSON(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":                              map[string]any{"type": "string", "enum": []string{"add", "list", "remove"}},
					"message":                              map[string]any{"type": "string", "description": "what the reminder is for, never the word 'reminder' itself"},
					"in_seconds":                           map[string]any{"type": "integer"},
					"every_seconds":                        map[string]any{"type": "integer"},
					"cron_expr":                            map[string]any{"type": "string"},
					"start_date":                           map[string]any{"type": "string"},
					"end_date":                             map[string]any{"type": "string"},
					"job_id":                               map[string]any{"type": "string"},
					"remind_again_if_unconfirmed_seconds":  map[string]any{"type": "integer"},
					"depends_on_job_id":                    map[string]any{"type": "string"},
					"has_deadline":                         map[string]any{"type": "boolean"},
				},
				"required": []string{"action"},
			}),
		},
	}
}

func cronHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		action := strArg(args, "action")
		switch action {
		case "add":
			msg := strings.TrimSpace(strArg(args, "message"))
			if msg == "" {
				return "what is it for? tell me what to remind you about.", nil
			}
			sch, err := cronScheduleFromArgs(args, deps)
			if err != nil {
				return "", err
			}
			payload := store.Payload{
				Kind:    store.PayloadAgentTurn,
				Text:    msg,
				Channel: deps.Channel,
				ChatID:  deps.ChatID,
				Locale:  deps.Locale,
				Deliver: true,
			}
			if s, ok := intArg(args, "remind_again_if_unconfirmed_seconds"); ok {
				payload.RemindAgainIfUnconfirmedSeconds = s
				payload.RemindAgainMaxCount = 10
			}
			payload.DependsOnJobID = strArg(args, "depends_on_job_id")
			payload.HasDeadline = boolArg(args, "has_deadline")

			job, err := deps.Cron.AddJob(ctx, deps.UserID, msg, sch, payload, false, msg)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("scheduled as %s", job.ID), nil

		case "list":
			jobs := deps.Cron.ListJobs(false)
			if len(jobs) == 0 {
				return "no reminders scheduled.", nil
			}
			var b strings.Builder
			for _, j := range jobs {
				if j.Payload.ChatID != deps.ChatID {
					continue
				}
				fmt.Fprintf(&b, "%s: %s\n", j.ID, j.Name)
			}
			if b.Len() == 0 {
				return "no reminders scheduled.", nil
			}
			return b.String(), nil

		case "remove":
			id := strArg(args, "job_id")
			if id == "" {
				return "", fmt.Errorf("job_id is required")
			}
			if deps.Cron.RemoveJobAndDeadlineFollowups(ctx, id) {
				return "removed.", nil
			}
			return "no such reminder.", nil
		}
		return "", fmt.Errorf("unknown cron action %q", action)
	}
}

func cronScheduleFromArgs(args map[string]any, deps Deps) (store.Schedule, error) {
	now := deps.Now()
	loc, err := time.LoadLocation(deps.Timezone)
	if err != nil {
		loc = time.UTC
	}

	if expr := strArg(args, "cron_expr"); expr != "" {
		sch := store.Schedule{Kind: store.ScheduleCron, Expr: expr, TZ: deps.Timezone}
		applyWindow(&sch, args, now, loc)
		return sch, nil
	}
	if every, ok := intArg(args, "every_seconds"); ok && every > 0 {
		sch := store.Schedule{Kind: store.ScheduleEvery, EveryMS: every * 1000}
		applyWindow(&sch, args, now, loc)
		return sch, nil
	}
	if in, ok := intArg(args, "in_seconds"); ok && in > 0 {
		return store.Schedule{Kind: store.ScheduleAt, AtMS: now.Add(time.Duration(in) * time.Second).UnixMilli()}, nil
	}
	// Fall back to natural-language parsing of the message text itself.
	parsed := nlp.ParseReminderTime(strArg(args, "message"), now, loc)
	if parsed.Matched {
		return parsed.Schedule, nil
	}
	return store.Schedule{}, fmt.Errorf("could not determine a schedule")
}

func applyWindow(sch *store.Schedule, args map[string]any, now time.Time, loc *time.Location) {
	if sd := strArg(args, "start_date"); sd != "" {
		if ms, ok := nlp.ExtractStartDate(sd, now, loc); ok {
			sch.NotBeforeMS = &ms
		}
	}
	if ed := strArg(args, "end_date"); ed != "" {
		if ms, ok := nlp.ExtractStartDate(ed, now, loc); ok {
			sch.NotAfterMS = &ms
		}
	}
}

// ---------- list ----------

func listDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "list",
			Description: "Manage a named shopping/todo list and its items.",
			Parameters: schemaJSON(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":    map[string]any{"type": "string", "enum": []string{"add", "list", "remove", "feito", "habitual", "shuffle"}},
					"list_name": map[string]any{"type": "string"},
					"item_text": map[string]any{"type": "string"},
					"item_id":   map[string]any{"type": "integer"},
				},
				"required": []string{"action", "list_name"},
			}),
		},
	}
}

func listHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		name := strings.ToLower(strings.TrimSpace(strArg(args, "list_name")))
		if name == "" {
			return "", fmt.Errorf("list_name is required")
		}
		l, err := deps.Store.GetListByName(ctx, deps.UserID, name)
		if errors.Is(err, store.ErrNotFound) {
			l, err = deps.Store.CreateList(ctx, &store.List{UserID: deps.UserID, Name: name})
		}
		if err != nil {
			return "", err
		}

		switch strArg(args, "action") {
		case "add":
			text := strArg(args, "item_text")
			if text == "" {
				return "", fmt.Errorf("item_text is required")
			}
			if _, err := deps.Store.AddListItem(ctx, &store.ListItem{ListID: l.ID, Text: text}); err != nil {
				return "", err
			}
			return fmt.Sprintf("added %q to %s.", text, name), nil

		case "list":
			items, err := deps.Store.ListItems(ctx, l.ID, false)
			if err != nil {
				return "", err
			}
			if len(items) == 0 {
				return fmt.Sprintf("%s is empty.", name), nil
			}
			var b strings.Builder
			for _, it := range items {
				fmt.Fprintf(&b, "[%d] %s\n", it.ID, it.Text)
			}
			return b.String(), nil

		case "remove":
			id, ok := intArg(args, "item_id")
			if !ok {
				return "", fmt.Errorf("item_id is required")
			}
			if err := deps.Store.RemoveListItem(ctx, id); err != nil {
				return "", err
			}
			return "removed.", nil

		case "feito":
			id, ok := intArg(args, "item_id")
			if !ok {
				return "", fmt.Errorf("item_id is required")
			}
			if err := deps.Store.MarkItemDone(ctx, id); err != nil {
				return "", err
			}
			return "marked done.", nil

		case "habitual":
			if deps.HabitualJudge == nil {
				return "no habitual-item suggestions configured.", nil
			}
			suggestions, err := deps.HabitualJudge(ctx, deps.UserID, name)
			if err != nil {
				return "", err
			}
			if len(suggestions) == 0 {
				return "no suggestions for now.", nil
			}
			return "you usually add: " + strings.Join(suggestions, ", "), nil

		case "shuffle":
			items, err := deps.Store.ListItems(ctx, l.ID, false)
			if err != nil {
				return "", err
			}
			if len(items) == 0 {
				return fmt.Sprintf("%s is empty.", name), nil
			}
			shuffled := shuffleItems(items, deps.Now())
			var b strings.Builder
			for _, it := range shuffled {
				fmt.Fprintf(&b, "- %s\n", it.Text)
			}
			return b.String(), nil
		}
		return "", fmt.Errorf("unknown list action")
	}
}

// shuffleItems is a deterministic Fisher-Yates keyed off the call time,
// not crypto/math-random quality but good enough to vary suggestion order.
func shuffleItems(items []*store.ListItem, seedAt time.Time) []*store.ListItem {
	out := make([]*store.ListItem, len(items))
	copy(out, items)
	seed := uint64(seedAt.UnixNano())
	for i := len(out) - 1; i > 0; i-- {
		seed = seed*6364136223846793005 + 1442695040888963407
		j := int(seed % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ---------- event ----------

func eventDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "event",
			Description: "Track an event, movie, book, song or recipe reference.",
			Parameters: schemaJSON(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":  map[string]any{"type": "string", "enum": []string{"add", "list", "remove"}},
					"tipo":    map[string]any{"type": "string", "enum": []string{"evento", "filme", "livro", "musica", "receita"}},
					"nome":    map[string]any{"type": "string"},
					"payload": map[string]any{"type": "object"},
					"data":    map[string]any{"type": "string", "description": "required for tipo=evento"},
					"id":      map[string]any{"type": "integer"},
				},
				"required": []string{"action"},
			}),
		},
	}
}

func eventHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		switch strArg(args, "action") {
		case "add":
			tipo := store.EventType(strArg(args, "tipo"))
			if tipo == "" {
				return "", fmt.Errorf("tipo is required")
			}
			nome := strArg(args, "nome")
			payload := map[string]any{"nome": nome}
			if extra, ok := args["payload"].(map[string]any); ok {
				for k, v := range extra {
					payload[k] = v
				}
			}
			e := &store.Event{UserID: deps.UserID, Type: tipo, Payload: payload}
			if tipo == store.EventTypeEvento {
				raw := strArg(args, "data")
				if raw == "" {
					return "an 'evento' needs an absolute date — when is it?", nil
				}
				loc, err := time.LoadLocation(deps.Timezone)
				if err != nil {
					loc = time.UTC
				}
				ms, ok := nlp.ExtractStartDate(raw, deps.Now(), loc)
				if !ok {
					return "couldn't understand that date — try DD/MM or DD/MM/YYYY.", nil
				}
				at := time.UnixMilli(ms)
				e.At = &at
			}
			created, err := deps.Store.AddEvent(ctx, e)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("saved %s #%d.", tipo, created.ID), nil

		case "list":
			tipo := store.EventType(strArg(args, "tipo"))
			events, err := deps.Store.ListEvents(ctx, deps.UserID, tipo)
			if err != nil {
				return "", err
			}
			if len(events) == 0 {
				return "nothing saved yet.", nil
			}
			var b strings.Builder
			for _, e := range events {
				nome, _ := e.Payload["nome"].(string)
				fmt.Fprintf(&b, "[%d] %s: %s\n", e.ID, e.Type, nome)
			}
			return b.String(), nil

		case "remove":
			id, ok := intArg(args, "id")
			if !ok {
				return "", fmt.Errorf("id is required")
			}
			if err := deps.Store.RemoveEvent(ctx, id); err != nil {
				return "", err
			}
			return "removed.", nil
		}
		return "", fmt.Errorf("unknown event action")
	}
}

// ---------- read_file ----------

// readableDocs whitelists the reference documents the assistant may read;
// "memory" is special-cased to the caller's own per-session memory file.
var readableDocs = map[string]string{
	"identity": "docs/identity.md",
	"rules":    "docs/rules.md",
}

func readFileDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "read_file",
			Description: "Read a named reference document: identity, rules, or memory (the caller's own notes).",
			Parameters: schemaJSON(map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			}),
		},
	}
}

func readFileHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path := strArg(args, "path")
		if path == "memory" {
			mem, err := memory.Open(deps.MemoryRoot, deps.SessionKey)
			if err != nil {
				return "", err
			}
			return mem.Render()
		}
		rel, ok := readableDocs[path]
		if !ok {
			return "", fmt.Errorf("unknown reference document %q", path)
		}
		full := filepath.Join(deps.WorkspaceRoot, rel)
		data, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// ---------- search ----------

func searchDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "search",
			Description: "External web search, available only when a search API key is configured.",
			Parameters: schemaJSON(map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			}),
		},
	}
}

func searchHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		if deps.SearchAPIKey == "" {
			return "search is not configured for this deployment.", nil
		}
		query := strArg(args, "query")
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		base := deps.SearchBaseURL
		if base == "" {
			base = "https://api.bing.microsoft.com/v7.0/search"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?q="+url.QueryEscape(query), nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", deps.SearchAPIKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("search provider returned %d", resp.StatusCode)
		}

		var parsed struct {
			WebPages struct {
				Value []struct {
					Name    string `json:"name"`
					URL     string `json:"url"`
					Snippet string `json:"snippet"`
				} `json:"value"`
			} `json:"webPages"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", err
		}
		if len(parsed.WebPages.Value) == 0 {
			return "no results.", nil
		}
		var b strings.Builder
		for i, r := range parsed.WebPages.Value {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%s — %s\n%s\n\n", r.Name, r.URL, r.Snippet)
		}
		return b.String(), nil
	}
}

// ---------- message ----------

func messageDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "message",
			Description: "Deliver a message to a different chat than the one currently being answered. Never use this to answer the current user.",
			Parameters: schemaJSON(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{"type": "string"},
					"chat_id": map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"channel", "chat_id", "content"},
			}),
		},
	}
}

func messageHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		channel := strArg(args, "channel")
		chatID := strArg(args, "chat_id")
		content := strArg(args, "content")
		if channel == "" || chatID == "" || content == "" {
			return "", fmt.Errorf("channel, chat_id and content are all required")
		}
		if channel == deps.Channel && chatID == deps.ChatID {
			return "", fmt.Errorf("message cannot target the chat currently being answered; just reply normally")
		}
		if deps.Outbound == nil {
			return "", fmt.Errorf("cross-chat delivery is not wired")
		}
		if err := deps.Outbound.Publish(ctx, channel, chatID, content); err != nil {
			return "", err
		}
		return "delivered.", nil
	}
}
