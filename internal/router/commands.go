package router

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/bus"
	"github.com/zapista/organizer/internal/locale"
	"github.com/zapista/organizer/internal/nlp"
	"github.com/zapista/organizer/internal/session"
	"github.com/zapista/organizer/internal/store"
)

// commandHandler runs one canonical command against its arguments.
type commandHandler func(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result

// commandTable maps a canonical command name (no leading slash) to its
// handler. aliasTable folds every slash spelling, plural form, and
// natural-language alias spec §4.4.3 names down to one of these keys.
var commandTable = map[string]commandHandler{
	"lembrete":     cmdLembrete,
	"list":         cmdList,
	"feito":        cmdFeito,
	"add":          cmdAdd,
	"done":         cmdFeito,
	"recorrente":   cmdRecorrente,
	"hoje":         cmdHoje,
	"agenda":       cmdAgenda,
	"semana":       cmdSemana,
	"mes":          cmdMes,
	"timeline":     cmdAgenda,
	"stats":        cmdStats,
	"resumo":       cmdResumo,
	"produtividade": cmdProdutividade,
	"revisao":      cmdRevisao,
	"habito":       cmdHabito,
	"meta":         cmdMeta,
	"nota":         cmdNota,
	"projeto":      cmdProjeto,
	"template":     cmdTemplate,
	"save":         cmdBookmark,
	"bookmark":     cmdBookmark,
	"find":         cmdFind,
	"pomodoro":     cmdPomodoro,
	"tz":           cmdTZ,
	"lang":         cmdLang,
	"reset":        cmdReset,
	"quiet":        cmdQuiet,
	"nuke":         cmdNuke,
	"exportar":     cmdExportar,
	"deletar_tudo": cmdDeletarTudo,
	"help":         cmdHelp,
	"start":        cmdStart,
	"stop":         cmdStop,
	"pendente":     cmdPendente,
}

// aliasTable maps every recognised normalised token (after stripping a
// leading slash, lowercasing, and folding diacritics) to its canonical
// commandTable key.
var aliasTable = map[string]string{
	"lembrete": "lembrete", "lembra-me": "lembrete", "lembrame": "lembrete", "remind": "lembrete", "reminder": "lembrete",
	"list": "list", "lista": "list", "listas": "list",
	"feito": "feito", "done": "done",
	"add": "add", "adicionar": "add",
	"recorrente": "recorrente", "recurring": "recorrente",
	"hoje": "hoje", "today": "hoje",
	"agenda": "agenda", "schedule": "agenda",
	"semana": "semana", "week": "semana",
	"mes": "mes", "mês": "mes", "month": "mes",
	"timeline": "timeline",
	"stats": "stats", "estatisticas": "stats",
	"resumo": "resumo", "summary": "resumo",
	"produtividade": "produtividade", "productivity": "produtividade",
	"revisao": "revisao", "revisão": "revisao", "review": "revisao",
	"habito": "habito", "habitos": "habito", "hábito": "habito", "hábitos": "habito", "habit": "habito", "habits": "habito",
	"meta": "meta", "metas": "meta", "goal": "meta", "goals": "meta",
	"nota": "nota", "notas": "nota", "note": "nota", "notes": "nota",
	"projeto": "projeto", "projetos": "projeto", "project": "projeto", "projects": "projeto",
	"template": "template", "templates": "template",
	"save": "save",
	"bookmark": "bookmark", "bookmarks": "bookmark",
	"find": "find", "procurar": "find", "buscar": "find",
	"pomodoro": "pomodoro",
	"tz": "tz", "timezone": "tz",
	"lang": "lang", "idioma": "lang", "language": "lang",
	"reset": "reset",
	"quiet": "quiet", "silencio": "quiet", "silêncio": "quiet",
	"nuke": "nuke", "bomba": "nuke", "bomb": "nuke",
	"exportar": "exportar", "export": "exportar",
	"deletar_tudo": "deletar_tudo", "deletartudo": "deletar_tudo",
	"help": "help", "ajuda": "help",
	"start": "start",
	"stop": "stop",
	"pendente": "pendente", "pending": "pendente",
}

// dispatchCommand implements precedence step 3: slash commands and their
// natural-language aliases, normalised (lowercased, diacritics stripped)
// before matching.
func (r *Router) dispatchCommand(ctx context.Context, msg *bus.IncomingMessage, sess *session.Session, user *store.User) (Result, bool) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Result{}, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")
	normalized := foldToken(head)

	canonical, ok := aliasTable[normalized]
	if !ok {
		return Result{}, false
	}
	handler, ok := commandTable[canonical]
	if !ok {
		return Result{}, false
	}
	res := handler(ctx, r, fields[1:], msg, sess, user)
	return res, true
}

func foldToken(s string) string {
	folder := strings.NewReplacer(
		"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"í", "i", "ì", "i", "î", "i", "ï", "i",
		"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
		"ú", "u", "ù", "u", "û", "u", "ü", "u",
		"ç", "c", "ñ", "n",
	)
	return folder.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func userTZ(user *store.User) *time.Location {
	if user == nil || user.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func userLang(user *store.User) locale.Lang {
	return locale.Lang(localeOf(user))
}

// ---------- reminders ----------

func cmdLembrete(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return handled("usage: /lembrete <what> <when>")
	}
	loc := userTZ(user)
	now := r.deps.Now()
	parsed := nlp.ParseReminderTime(text, now, loc)
	if !parsed.Matched {
		r.installVagueTimeFlow(sess, text)
		return handled("when should I remind you?")
	}
	if what := strings.TrimSpace(parsed.Message); what == "" {
		return handled("what is it for? tell me what to remind you about.")
	}
	if parsed.Schedule.Kind == store.ScheduleAt && parsed.Schedule.AtMS < now.UnixMilli() {
		r.installPastDateConfirmation(chatKey(msg.Channel, msg.ChatID), parsed.Schedule.AtMS, parsed.Message, user)
		return handled("that time is in the past — schedule for next year instead? (1=yes / 2=no)")
	}
	job, err := r.deps.Scheduler.AddJob(ctx, user.ID, parsed.Message, parsed.Schedule,
		store.Payload{Kind: store.PayloadAgentTurn, Text: parsed.Message, Channel: msg.Channel, ChatID: msg.ChatID, Locale: string(userLang(user)), Deliver: true},
		false, parsed.Message)
	if err != nil {
		return handled("couldn't schedule that: " + err.Error())
	}
	return handled(fmt.Sprintf("scheduled (%s).", job.ID))
}

// ---------- lists ----------

func cmdList(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		lists, err := r.deps.Store.ListLists(ctx, user.ID)
		if err != nil || len(lists) == 0 {
			return handled("no lists yet.")
		}
		var b strings.Builder
		for _, l := range lists {
			fmt.Fprintf(&b, "- %s\n", l.Name)
		}
		return handled(b.String())
	}
	name := strings.ToLower(args[0])
	rest := args[1:]

	l, err := r.deps.Store.GetListByName(ctx, user.ID, name)
	if err != nil {
		l, err = r.deps.Store.CreateList(ctx, &store.List{UserID: user.ID, Name: name})
		if err != nil {
			return handled("couldn't create that list.")
		}
	}

	if len(rest) == 0 {
		items, _ := r.deps.Store.ListItems(ctx, l.ID, false)
		if len(items) == 0 {
			return handled(fmt.Sprintf("%s is empty.", name))
		}
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "[%d] %s\n", it.ID, it.Text)
		}
		return handled(b.String())
	}

	switch strings.ToLower(rest[0]) {
	case "add", "adicionar":
		item := strings.Join(rest[1:], " ")
		if item == "" {
			return handled("usage: /list <name> add <item>")
		}
		if _, err := r.deps.Store.AddListItem(ctx, &store.ListItem{ListID: l.ID, Text: item}); err != nil {
			return handled("couldn't add that item.")
		}
		_ = r.deps.Store.AppendAuditLog(ctx, &store.AuditLog{UserID: user.ID, Action: "list_add", At: r.deps.Now()})
		return handled(fmt.Sprintf("added %q to %s.", item, name))

	case "remove":
		id, err := strconv.ParseInt(strings.Join(rest[1:], ""), 10, 64)
		if err != nil {
			return handled("usage: /list <name> remove <item_id>")
		}
		_ = r.deps.Store.RemoveListItem(ctx, id)
		return handled("removed.")

	default:
		item := strings.Join(rest, " ")
		if _, err := r.deps.Store.AddListItem(ctx, &store.ListItem{ListID: l.ID, Text: item}); err != nil {
			return handled("couldn't add that item.")
		}
		return handled(fmt.Sprintf("added %q to %s.", item, name))
	}
}

func cmdAdd(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) < 2 {
		return handled("usage: /add <list> <item>")
	}
	return cmdList(ctx, r, append([]string{args[0], "add"}, args[1:]...), msg, sess, user)
}

func cmdFeito(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		return handled("usage: /feito <item_id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return handled("that's not a valid id.")
	}
	if err := r.deps.Store.MarkItemDone(ctx, id); err != nil {
		return handled("couldn't find that item.")
	}
	return handled("marked done.")
}

// ---------- recurring flow ----------

func cmdRecorrente(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	text := strings.Join(args, " ")
	loc := userTZ(user)
	parsed := nlp.ParseReminderTime(text, r.deps.Now(), loc)
	if !parsed.Matched || parsed.Schedule.Kind != store.ScheduleCron {
		return handled("describe it like: academia segunda e quarta 19h")
	}
	r.installRecurringUntilFlow(sess, parsed)
	return handled("got it — until when? (indefinido / fim_semana / fim_mes / fim_ano / a date)")
}

// ---------- agenda views ----------

func cmdHoje(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return agendaWindow(r, user, 24*time.Hour, "nothing scheduled for today.")
}

func cmdSemana(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return agendaWindow(r, user, 7*24*time.Hour, "nothing scheduled this week.")
}

func cmdMes(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return agendaWindow(r, user, 30*24*time.Hour, "nothing scheduled this month.")
}

func cmdAgenda(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return agendaWindow(r, user, 365*24*time.Hour, "nothing scheduled.")
}

func agendaWindow(r *Router, user *store.User, window time.Duration, emptyMsg string) Result {
	now := r.deps.Now()
	cutoff := now.Add(window).UnixMilli()
	type row struct {
		at   int64
		name string
	}
	var rows []row
	for _, j := range r.deps.Scheduler.ListJobs(false) {
		if j.Payload.ChatID == "" || j.State.NextRunAtMS == nil {
			continue
		}
		if *j.State.NextRunAtMS > cutoff {
			continue
		}
		rows = append(rows, row{*j.State.NextRunAtMS, j.Name})
	}
	if len(rows) == 0 {
		return handled(emptyMsg)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at < rows[j].at })
	loc := userTZ(user)
	var b strings.Builder
	for _, rr := range rows {
		fmt.Fprintf(&b, "%s — %s\n", fmtTime(rr.at, loc), rr.name)
	}
	return handled(b.String())
}

// ---------- stats / recap ----------

func cmdStats(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	jobs := r.deps.Scheduler.ListJobs(true)
	own := 0
	for _, j := range jobs {
		if j.Payload.ChatID == msg.ChatID {
			own++
		}
	}
	lists, _ := r.deps.Store.ListLists(ctx, user.ID)
	return handled(fmt.Sprintf("reminders: %d | lists: %d", own, len(lists)))
}

func cmdResumo(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	entries, _ := r.deps.Store.RecentAuditLog(ctx, 10)
	if len(entries) == 0 {
		return handled("nothing to summarise yet.")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s\n", e.Action)
	}
	return handled(b.String())
}

func cmdProdutividade(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	habits, _ := r.deps.Store.ListHabits(ctx, user.ID)
	if len(habits) == 0 {
		return handled("no habits tracked yet.")
	}
	var b strings.Builder
	for _, h := range habits {
		fmt.Fprintf(&b, "%s: streak %d\n", h.Name, h.Streak)
	}
	return handled(b.String())
}

func cmdRevisao(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	goals, _ := r.deps.Store.ListGoals(ctx, user.ID)
	var b strings.Builder
	pending := 0
	for _, g := range goals {
		if !g.Done {
			pending++
			fmt.Fprintf(&b, "- %s\n", g.Text)
		}
	}
	if pending == 0 {
		return handled("no pending goals.")
	}
	return handled(b.String())
}

// ---------- habits / goals / notes / projects / templates / bookmarks ----------

func cmdHabito(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		habits, _ := r.deps.Store.ListHabits(ctx, user.ID)
		if len(habits) == 0 {
			return handled("no habits yet.")
		}
		var b strings.Builder
		for _, h := range habits {
			fmt.Fprintf(&b, "- %s (streak %d)\n", h.Name, h.Streak)
		}
		return handled(b.String())
	}
	if strings.ToLower(args[0]) == "check" && len(args) > 1 {
		habits, _ := r.deps.Store.ListHabits(ctx, user.ID)
		for _, h := range habits {
			if strings.EqualFold(h.Name, strings.Join(args[1:], " ")) {
				if _, err := r.deps.Store.CheckHabit(ctx, h.ID); err == nil {
					return handled("checked in.")
				}
			}
		}
		return handled("habit not found.")
	}
	name := strings.Join(args, " ")
	if _, err := r.deps.Store.CreateHabit(ctx, &store.Habit{UserID: user.ID, Name: name}); err != nil {
		return handled("couldn't create that habit.")
	}
	return handled(fmt.Sprintf("tracking habit %q.", name))
}

func cmdMeta(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		goals, _ := r.deps.Store.ListGoals(ctx, user.ID)
		if len(goals) == 0 {
			return handled("no goals yet.")
		}
		var b strings.Builder
		for _, g := range goals {
			status := " "
			if g.Done {
				status = "x"
			}
			fmt.Fprintf(&b, "[%s] %s\n", status, g.Text)
		}
		return handled(b.String())
	}
	text := strings.Join(args, " ")
	if _, err := r.deps.Store.CreateGoal(ctx, &store.Goal{UserID: user.ID, Text: text}); err != nil {
		return handled("couldn't save that goal.")
	}
	return handled("goal saved.")
}

func cmdNota(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		notes, _ := r.deps.Store.ListNotes(ctx, user.ID)
		if len(notes) == 0 {
			return handled("no notes yet.")
		}
		var b strings.Builder
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
		return handled(b.String())
	}
	text := strings.Join(args, " ")
	if _, err := r.deps.Store.CreateNote(ctx, &store.Note{UserID: user.ID, Text: text}); err != nil {
		return handled("couldn't save that note.")
	}
	return handled("note saved.")
}

func cmdProjeto(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		projects, _ := r.deps.Store.ListProjects(ctx, user.ID)
		if len(projects) == 0 {
			return handled("no projects yet.")
		}
		var b strings.Builder
		for _, p := range projects {
			fmt.Fprintf(&b, "- %s\n", p.Name)
		}
		return handled(b.String())
	}
	name := strings.Join(args, " ")
	if _, err := r.deps.Store.CreateProject(ctx, &store.Project{UserID: user.ID, Name: name}); err != nil {
		return handled("couldn't create that project.")
	}
	return handled("project created.")
}

func cmdTemplate(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		templates, _ := r.deps.Store.ListListTemplates(ctx, user.ID)
		if len(templates) == 0 {
			return handled("no templates yet.")
		}
		var b strings.Builder
		for _, t := range templates {
			fmt.Fprintf(&b, "- %s (%d items)\n", t.Name, len(t.Items))
		}
		return handled(b.String())
	}
	name := args[0]
	items := args[1:]
	if _, err := r.deps.Store.CreateListTemplate(ctx, &store.ListTemplate{UserID: user.ID, Name: name, Items: items}); err != nil {
		return handled("couldn't save that template.")
	}
	return handled(fmt.Sprintf("template %q saved.", name))
}

func cmdBookmark(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		bookmarks, _ := r.deps.Store.ListBookmarks(ctx, user.ID)
		if len(bookmarks) == 0 {
			return handled("no bookmarks yet.")
		}
		var b strings.Builder
		for _, bk := range bookmarks {
			fmt.Fprintf(&b, "- %s %s\n", bk.Text, bk.URL)
		}
		return handled(b.String())
	}
	url := ""
	text := strings.Join(args, " ")
	if last := args[len(args)-1]; strings.HasPrefix(last, "http://") || strings.HasPrefix(last, "https://") {
		url = last
		text = strings.Join(args[:len(args)-1], " ")
	}
	if _, err := r.deps.Store.CreateBookmark(ctx, &store.Bookmark{UserID: user.ID, Text: text, URL: url}); err != nil {
		return handled("couldn't save that bookmark.")
	}
	return handled("saved.")
}

func cmdFind(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	query := strings.ToLower(strings.Join(args, " "))
	if query == "" {
		return handled("usage: /find <text>")
	}
	var b strings.Builder
	notes, _ := r.deps.Store.ListNotes(ctx, user.ID)
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.Text), query) {
			fmt.Fprintf(&b, "note: %s\n", n.Text)
		}
	}
	bookmarks, _ := r.deps.Store.ListBookmarks(ctx, user.ID)
	for _, bk := range bookmarks {
		if strings.Contains(strings.ToLower(bk.Text), query) {
			fmt.Fprintf(&b, "bookmark: %s %s\n", bk.Text, bk.URL)
		}
	}
	if b.Len() == 0 {
		return handled("no matches.")
	}
	return handled(b.String())
}

// ---------- pomodoro ----------

func cmdPomodoro(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	sub := "status"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "start":
		sess.SetMeta("pomodoro_started_at", r.deps.Now())
		return handled("pomodoro started — 25 minutes.")
	case "stop":
		sess.DeleteMeta("pomodoro_started_at")
		return handled("pomodoro stopped.")
	default:
		v, ok := sess.Meta("pomodoro_started_at")
		if !ok {
			return handled("no pomodoro running.")
		}
		started, ok := v.(time.Time)
		if !ok {
			return handled("no pomodoro running.")
		}
		elapsed := r.deps.Now().Sub(started)
		remaining := 25*time.Minute - elapsed
		if remaining <= 0 {
			sess.DeleteMeta("pomodoro_started_at")
			return handled("pomodoro finished!")
		}
		return handled(fmt.Sprintf("%d minutes left.", int(remaining.Minutes())))
	}
}

// ---------- settings ----------

func cmdTZ(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		return handled("your timezone: " + user.Timezone)
	}
	tz := args[0]
	if _, err := time.LoadLocation(tz); err != nil {
		return handled("unknown timezone — use an IANA name like Europe/Lisbon.")
	}
	user.Timezone = tz
	if err := r.deps.Store.UpdateUser(ctx, user); err != nil {
		return handled("couldn't save that.")
	}
	return handled("timezone set to " + tz)
}

func cmdLang(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 {
		return handled("your language: " + user.Language)
	}
	lang := args[0]
	if !locale.IsSupported(lang) {
		return handled("supported languages: pt-PT, pt-BR, es, en")
	}
	user.Language = lang
	if err := r.deps.Store.UpdateUser(ctx, user); err != nil {
		return handled("couldn't save that.")
	}
	return handled(locale.Render("language_switch_confirmation", locale.Lang(lang)))
}

func cmdReset(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	sess.DeleteMeta("pending_reminder_flow")
	sess.DeleteMeta("pending_recurring_flow")
	key := chatKey(msg.Channel, msg.ChatID)
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
	return handled("session reset.")
}

func cmdQuiet(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	if len(args) == 0 || strings.EqualFold(args[0], "off") {
		user.QuietStart, user.QuietEnd = "", ""
		_ = r.deps.Store.UpdateUser(ctx, user)
		return handled("quiet hours off.")
	}
	parts := strings.SplitN(args[0], "-", 2)
	if len(parts) != 2 {
		return handled("usage: /quiet HH:MM-HH:MM or /quiet off")
	}
	user.QuietStart, user.QuietEnd = parts[0], parts[1]
	if err := r.deps.Store.UpdateUser(ctx, user); err != nil {
		return handled("couldn't save that.")
	}
	return handled(fmt.Sprintf("quiet hours set: %s-%s.", parts[0], parts[1]))
}

// ---------- destructive, confirmation-gated ----------

func cmdNuke(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	r.mu.Lock()
	r.pending[chatKey(msg.Channel, msg.ChatID)] = pendingConfirmation{kind: "nuke_all", expiresAt: r.deps.Now().Add(5 * time.Minute)}
	r.mu.Unlock()
	return handled("this deletes everything — lists, events, reminders. Are you sure? (1=yes / 2=no)")
}

func cmdExportar(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	r.mu.Lock()
	r.pending[chatKey(msg.Channel, msg.ChatID)] = pendingConfirmation{kind: "exportar", expiresAt: r.deps.Now().Add(5 * time.Minute)}
	r.mu.Unlock()
	return handled("export everything to a text summary? (1=yes / 2=no)")
}

func cmdDeletarTudo(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return cmdNuke(ctx, r, args, msg, sess, user)
}

// ---------- misc ----------

func cmdHelp(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	var b strings.Builder
	b.WriteString("/lembrete <o que> <quando> — schedule a reminder\n")
	b.WriteString("/list <name> [add|remove] — manage a list\n")
	b.WriteString("/hoje /semana /mes /agenda — upcoming schedule\n")
	b.WriteString("/habito /meta /nota /projeto /template /bookmark — tracked extras\n")
	b.WriteString("/tz <timezone> /lang <lang> /quiet <HH:MM-HH:MM|off>\n")
	b.WriteString("/exportar /deletar_tudo — export or wipe your data\n")
	b.WriteString("/reset /pendente /stop — session controls\n")
	return handled(b.String())
}

func cmdStart(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	return handled(locale.Render("calling_phrase_ack", userLang(user)))
}

func cmdStop(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	key := chatKey(msg.Channel, msg.ChatID)
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
	sess.DeleteMeta("pending_reminder_flow")
	sess.DeleteMeta("pending_recurring_flow")
	return handled("ok, cancelled.")
}

func cmdPendente(ctx context.Context, r *Router, args []string, msg *bus.IncomingMessage, sess *session.Session, user *store.User) Result {
	key := chatKey(msg.Channel, msg.ChatID)
	r.mu.Lock()
	pc, ok := r.pending[key]
	r.mu.Unlock()
	if !ok {
		return handled("nothing pending.")
	}
	return handled("pending: " + pc.kind)
}
