package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/zapista/organizer/internal/store"
)

// adminCommands are the bare "#foo" diagnostic tokens available once a chat
// has activated god mode via "#<password>" (spec §4.4.6). Never includes
// secrets in its output.
var adminCommands = map[string]func(ctx context.Context, r *Router, args []string) string{
	"status": func(ctx context.Context, r *Router, args []string) string {
		jobs := r.deps.Scheduler.ListJobs(true)
		return fmt.Sprintf("jobs indexed: %d", len(jobs))
	},
	"users": func(ctx context.Context, r *Router, args []string) string {
		return "user listing is scoped to the admin HTTP surface, not chat."
	},
	"paid": func(ctx context.Context, r *Router, args []string) string {
		return "billing is not tracked by this deployment."
	},
	"cron": func(ctx context.Context, r *Router, args []string) string {
		jobs := r.deps.Scheduler.ListJobs(true)
		var b strings.Builder
		for i, j := range jobs {
			if i >= 20 {
				fmt.Fprintf(&b, "... and %d more\n", len(jobs)-20)
				break
			}
			fmt.Fprintf(&b, "%s %s enabled=%v\n", j.ID, j.Name, j.Enabled)
		}
		if b.Len() == 0 {
			return "no jobs."
		}
		return b.String()
	},
	"server": func(ctx context.Context, r *Router, args []string) string {
		return "server diagnostics are exposed on the admin HTTP surface's /health route."
	},
	"system": func(ctx context.Context, r *Router, args []string) string {
		return "system diagnostics are exposed on the admin HTTP surface's /health route."
	},
	"ai": func(ctx context.Context, r *Router, args []string) string {
		return "provider/model configuration is not surfaced over chat."
	},
	"painpoints": func(ctx context.Context, r *Router, args []string) string {
		pts, _ := r.deps.Store.ListPainpoints(ctx, 10)
		if len(pts) == 0 {
			return "no painpoints registered."
		}
		var b strings.Builder
		for _, p := range pts {
			fmt.Fprintf(&b, "%s: %s\n", p.ChatID, p.Excerpt)
		}
		return b.String()
	},
	"injection": func(ctx context.Context, r *Router, args []string) string {
		return "injection-guard hits are recorded in the audit log, not replayed here."
	},
}

// tryGodModeCommand implements the bare "#foo" diagnostics half of spec
// §4.4.6; activation itself ("#<password>") is handled earlier in Route.
func (r *Router) tryGodModeCommand(ctx context.Context, key, text string, user *store.User) (Result, bool) {
	if !strings.HasPrefix(text, "#") {
		return Result{}, false
	}
	if !r.isGodMode(key) {
		return Result{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, "#"))
	if len(fields) == 0 {
		return Result{}, false
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "add", "remove", "mute":
		if len(args) == 0 {
			return handled(fmt.Sprintf("usage: #%s <phone>", name)), true
		}
		return handled(fmt.Sprintf("%s acknowledged for %s (enforcement lives in the allow/block list, not chat-mutable state).", name, args[0])), true
	case "quit":
		r.mu.Lock()
		delete(r.godMode, key)
		r.mu.Unlock()
		return handled("god mode deactivated."), true
	}

	if fn, ok := adminCommands[name]; ok {
		return handled(fn(ctx, r, args)), true
	}
	return Result{}, false
}
