// Package scheduler implements the Scheduler (spec's C5): durable cron
// jobs with dependent-job chaining, deadline follow-ups, pre-event
// reminders, snooze, duplicate suppression, and per-day quota
// enforcement. Job persistence is backed by internal/store, the same
// relational store holding the rest of the data model; the quota check and
// the job save are separate store calls, not one transaction.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zapista/organizer/internal/store"
	"github.com/zapista/organizer/internal/zerr"
)

// EffectiveClock supplies the scheduler's notion of "now" (internal/clock.Service).
type EffectiveClock interface {
	NowMS() int64
}

// Outbound delivers one message to a chat. Implemented by internal/bus.
type Outbound interface {
	Publish(ctx context.Context, channel, chatID, text string) error
}

// AgentInvoker runs a synthetic user turn (for agent_turn jobs with
// deliver=false). Implemented by internal/agent.
type AgentInvoker interface {
	InvokeSynthetic(ctx context.Context, channel, chatID, text string) error
}

// DuplicateJudge asks whether two reminder messages describe the same
// underlying task (C6 parser profile). A judge failure must let creation
// proceed per spec §4.2.
type DuplicateJudge func(ctx context.Context, existing, candidate string) (same bool, err error)

// UserWindows resolves a chat's quiet-hours window, in the user's
// timezone, as "HH:MM" strings (empty = no quiet window).
type UserWindows interface {
	QuietWindow(ctx context.Context, userID string) (start, end, timezone string, err error)
}

// Config carries the operator-tunable knobs for the scheduler.
type Config struct {
	TickInterval          time.Duration
	DeadlineFollowupAfter time.Duration // the "N" in +0, +N, +2N minute post-deadline reminders
	MinRecurringInterval  time.Duration
	QuotaLimits           QuotaLimits
}

// QuotaLimits mirrors internal/safety.QuotaLimits without importing it,
// so the scheduler has no dependency on the safety package; the two are
// kept in sync by shared configuration at wiring time.
type QuotaLimits struct {
	Reminders    int
	Events       int
	Total        int
	WarnFraction float64
}

// Scheduler owns the in-memory job index backed by store.Store, plus the
// background executor loop.
type Scheduler struct {
	store  store.Store
	clock  EffectiveClock
	out    Outbound
	agent  AgentInvoker
	judge  DuplicateJudge
	users  UserWindows
	logger *slog.Logger
	cfg    Config

	mu   sync.RWMutex
	jobs map[string]*store.CronJob

	cronParser cron.Parser
}

// New builds a Scheduler and loads persisted jobs.
func New(ctx context.Context, st store.Store, clk EffectiveClock, out Outbound, agent AgentInvoker, judge DuplicateJudge, users UserWindows, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DeadlineFollowupAfter <= 0 {
		cfg.DeadlineFollowupAfter = 30 * time.Minute
	}
	if cfg.MinRecurringInterval <= 0 {
		cfg.MinRecurringInterval = 2 * time.Hour
	}

	s := &Scheduler{
		store:      st,
		clock:      clk,
		out:        out,
		agent:      agent,
		judge:      judge,
		users:      users,
		logger:     logger.With("component", "scheduler"),
		cfg:        cfg,
		jobs:       make(map[string]*store.CronJob),
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}

	all, err := st.AllJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load jobs: %w", err)
	}
	for _, j := range all {
		s.jobs[j.ID] = j
	}
	return s, nil
}

// AddJob validates, assigns an id, persists, and indexes a new job.
func (s *Scheduler) AddJob(ctx context.Context, userID, name string, schedule store.Schedule, payload store.Payload, deleteAfterRun bool, suggestedPrefix string) (*store.CronJob, error) {
	if schedule.Kind == store.ScheduleEvery {
		if time.Duration(schedule.EveryMS)*time.Millisecond < s.cfg.MinRecurringInterval {
			return nil, zerr.New(zerr.KindValidation, zerr.ErrInvalidInput)
		}
	}

	if dup, existing := s.findDuplicate(ctx, schedule, payload); dup {
		return nil, zerr.Newf(zerr.KindValidation, "scheduler: duplicate of job %s", existing.ID)
	}

	if err := s.checkQuota(ctx, userID, payload); err != nil {
		return nil, err
	}

	now := s.clock.NowMS()
	nextRun := NextRun(schedule, now)

	prefix := suggestedPrefix
	if prefix == "" {
		prefix = derivePrefix(payload.Text)
	} else {
		prefix = strings.ToUpper(prefix)
	}

	s.mu.Lock()
	taken := make(map[string]bool, len(s.jobs))
	for id := range s.jobs {
		taken[id] = true
	}
	id := nextID(prefix, taken)

	job := &store.CronJob{
		ID:             id,
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		DeleteAfterRun: deleteAfterRun,
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		State: store.JobState{
			NextRunAtMS: nextRun,
		},
	}
	s.jobs[id] = job
	s.mu.Unlock()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("scheduler: save job: %w", err)
	}
	if err := s.store.AppendReminderHistory(ctx, &store.ReminderHistory{
		UserID: userID, JobID: id, Event: store.ReminderScheduled,
	}); err != nil {
		s.logger.Warn("append reminder history failed", "job", id, "error", err)
	}

	if nextRun != nil && schedule.Kind != store.ScheduleEvery {
		s.maybeAddPreEventReminders(ctx, userID, job)
	}

	return job, nil
}

// findDuplicate scans enabled jobs for the same destination with a
// matching schedule and a message the duplicate judge treats as the same
// underlying task.
func (s *Scheduler) findDuplicate(ctx context.Context, schedule store.Schedule, payload store.Payload) (bool, *store.CronJob) {
	normalized := normalizeMessage(payload.Text)

	s.mu.RLock()
	candidates := make([]*store.CronJob, 0)
	for _, j := range s.jobs {
		if !j.Enabled || j.Payload.Channel != payload.Channel || j.Payload.ChatID != payload.ChatID {
			continue
		}
		js := j.Schedule
		if js.Kind != schedule.Kind || js.AtMS != schedule.AtMS || js.EveryMS != schedule.EveryMS || js.Expr != schedule.Expr || js.TZ != schedule.TZ {
			continue
		}
		candidates = append(candidates, j)
	}
	s.mu.RUnlock()

	for _, j := range candidates {
		if normalizeMessage(j.Payload.Text) == normalized {
			return true, j
		}
	}
	if s.judge == nil {
		return false, nil
	}
	for _, j := range candidates {
		same, err := s.judge(ctx, j.Payload.Text, payload.Text)
		if err != nil {
			continue // judge failure: creation proceeds
		}
		if same {
			return true, j
		}
	}
	return false, nil
}

func normalizeMessage(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// checkQuota enforces the per-day reminder/event/total ceilings (spec §3
// invariant 5), counting against the user's local day.
func (s *Scheduler) checkQuota(ctx context.Context, userID string, payload store.Payload) error {
	if s.cfg.QuotaLimits.Reminders == 0 && s.cfg.QuotaLimits.Events == 0 && s.cfg.QuotaLimits.Total == 0 {
		return nil
	}
	loc := time.UTC
	if s.users != nil {
		if _, _, tz, err := s.users.QuietWindow(ctx, userID); err == nil && tz != "" {
			if l, err := time.LoadLocation(tz); err == nil {
				loc = l
			}
		}
	}
	dayStart, dayEnd := dayBoundsMS(s.clock.NowMS(), loc)

	reminders, err := s.store.CountRemindersOnDate(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("scheduler: count reminders: %w", err)
	}
	events, err := s.store.CountEventsOnDate(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("scheduler: count events: %w", err)
	}

	limit := s.cfg.QuotaLimits.Reminders
	if reminders+1 > limit && limit > 0 {
		return zerr.New(zerr.KindQuotaExceeded, fmt.Errorf("MAX_REMINDERS_EXCEEDED"))
	}
	if total := s.cfg.QuotaLimits.Total; total > 0 && reminders+events+1 > total {
		return zerr.New(zerr.KindQuotaExceeded, fmt.Errorf("MAX_REMINDERS_EXCEEDED"))
	}
	return nil
}

func dayBoundsMS(nowMS int64, loc *time.Location) (int64, int64) {
	t := time.UnixMilli(nowMS).In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli()
}

// ListJobs returns all jobs, optionally including disabled ones.
func (s *Scheduler) ListJobs(includeDisabled bool) []*store.CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !includeDisabled && !j.Enabled {
			continue
		}
		out = append(out, j)
	}
	return out
}

// GetJob returns one job by id.
func (s *Scheduler) GetJob(id string) (*store.CronJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// RemoveJob deletes a job from the index and the store.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		s.logger.Warn("delete job failed", "id", id, "error", err)
	}
	return true
}

// RemoveJobAndDeadlineFollowups removes a job plus any deadline_check pair
// and its three post-deadline siblings.
func (s *Scheduler) RemoveJobAndDeadlineFollowups(ctx context.Context, id string) bool {
	removed := s.RemoveJob(ctx, id)

	s.mu.RLock()
	var toRemove []string
	for jid, j := range s.jobs {
		if j.Payload.Kind == store.PayloadDeadlineCheck && j.Payload.DeadlineMainJobID == id {
			toRemove = append(toRemove, jid)
		}
		if j.Payload.HasDeadline && j.Payload.DeadlineMainJobID == id {
			toRemove = append(toRemove, jid)
		}
	}
	s.mu.RUnlock()

	for _, jid := range toRemove {
		s.RemoveJob(ctx, jid)
	}
	return removed
}

// TriggerDependents fires every job whose depends_on_job_id matches
// completedJobID, one-shot, then applies its delete_after_run rule.
func (s *Scheduler) TriggerDependents(ctx context.Context, completedJobID string) {
	now := s.clock.NowMS()

	s.mu.RLock()
	var dependents []*store.CronJob
	for _, j := range s.jobs {
		if j.Payload.DependsOnJobID == completedJobID {
			dependents = append(dependents, j)
		}
	}
	s.mu.RUnlock()

	for _, j := range dependents {
		next := now + 1000
		s.mu.Lock()
		j.State.NextRunAtMS = &next
		s.mu.Unlock()
		if err := s.store.SaveJob(ctx, j); err != nil {
			s.logger.Warn("save dependent job failed", "id", j.ID, "error", err)
		}
	}
}

// maybeAddPreEventReminders adds the 24h-before alert for an "at" job whose
// event is more than 5 days away. It creates no other lead reminders;
// extra leads are created only by calling AddPreEventReminder directly.
func (s *Scheduler) maybeAddPreEventReminders(ctx context.Context, userID string, main *store.CronJob) {
	if main.Schedule.Kind != store.ScheduleAt {
		return
	}
	eventMS := main.Schedule.AtMS
	now := s.clock.NowMS()
	if eventMS-now < int64(5*24*time.Hour/time.Millisecond) {
		return
	}
	leadMS := eventMS - int64(24*time.Hour/time.Millisecond)
	if leadMS <= now {
		return
	}
	s.AddPreEventReminder(ctx, userID, main, leadMS)
}

// AddPreEventReminder creates one "(antes)" one-shot tied to main, at the
// given absolute instant.
func (s *Scheduler) AddPreEventReminder(ctx context.Context, userID string, main *store.CronJob, atMS int64) (*store.CronJob, error) {
	payload := main.Payload
	schedule := store.Schedule{Kind: store.ScheduleAt, AtMS: atMS}
	return s.AddJob(ctx, userID, main.Name+" (antes)", schedule, payload, true, "")
}

// NextRun computes the next instant a schedule should fire at or after
// now, or nil if the schedule has no future instant.
func NextRun(sch store.Schedule, nowMS int64) *int64 {
	switch sch.Kind {
	case store.ScheduleAt:
		if sch.AtMS > nowMS {
			v := sch.AtMS
			return &v
		}
		return nil

	case store.ScheduleEvery:
		candidate := nowMS
		return clampWindow(candidate, sch.NotBeforeMS, sch.NotAfterMS, sch.EveryMS)

	case store.ScheduleCron:
		loc, err := time.LoadLocation(sch.TZ)
		if err != nil {
			loc = time.UTC
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err := parser.Parse(sch.Expr)
		if err != nil {
			return nil
		}
		next := schedule.Next(time.UnixMilli(nowMS).In(loc))
		ms := next.UnixMilli()
		return clampWindow(ms, sch.NotBeforeMS, sch.NotAfterMS, 0)
	}
	return nil
}

// clampWindow clamps a candidate instant into [notBefore, notAfter],
// advancing by step (if > 0) to find the first in-window instant at or
// after candidate. Returns nil when the window excludes all future
// instants.
func clampWindow(candidate int64, notBefore, notAfter *int64, step int64) *int64 {
	if notBefore != nil && candidate < *notBefore {
		if step > 0 {
			diff := *notBefore - candidate
			steps := diff / step
			if diff%step != 0 {
				steps++
			}
			candidate += steps * step
		} else {
			candidate = *notBefore
		}
	}
	if notAfter != nil && candidate > *notAfter {
		return nil
	}
	return &candidate
}

// Run starts the executor tick loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick collects due jobs and dispatches each, per spec §4.2's three-step
// executor algorithm.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.NowMS()

	s.mu.RLock()
	var due []*store.CronJob
	for _, j := range s.jobs {
		if j.Enabled && j.State.NextRunAtMS != nil && *j.State.NextRunAtMS <= now {
			due = append(due, j)
		}
	}
	s.mu.RUnlock()

	for _, j := range due {
		if s.inQuietWindow(ctx, j, now) {
			s.advancePastQuietWindow(ctx, j)
			continue
		}
		s.dispatch(ctx, j)
		s.reschedule(ctx, j)
	}
}

func (s *Scheduler) inQuietWindow(ctx context.Context, j *store.CronJob, nowMS int64) bool {
	if s.users == nil {
		return false
	}
	start, end, tz, err := s.users.QuietWindow(ctx, j.Payload.ChatID)
	if err != nil || start == "" || end == "" {
		return false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := time.UnixMilli(nowMS).In(loc)
	return withinClock(local, start, end)
}

func withinClock(t time.Time, startHHMM, endHHMM string) bool {
	sh, sm, ok1 := parseHHMM(startHHMM)
	eh, em, ok2 := parseHHMM(endHHMM)
	if !ok1 || !ok2 {
		return false
	}
	start := sh*60 + sm
	end := eh*60 + em
	cur := t.Hour()*60 + t.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end // window spans midnight
}

func parseHHMM(s string) (int, int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, false
	}
	return h, m, true
}

func (s *Scheduler) advancePastQuietWindow(ctx context.Context, j *store.CronJob) {
	start, _, tz, err := s.users.QuietWindow(ctx, j.Payload.ChatID)
	if err != nil || start == "" {
		return
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	sh, sm, ok := parseHHMM(start)
	if !ok {
		return
	}
	now := time.UnixMilli(s.clock.NowMS()).In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), sh, sm, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	ms := next.UnixMilli()
	s.mu.Lock()
	j.State.NextRunAtMS = &ms
	s.mu.Unlock()
	_ = s.store.SaveJob(ctx, j)
}

// dispatch delivers one due job per its payload kind.
func (s *Scheduler) dispatch(ctx context.Context, j *store.CronJob) {
	switch j.Payload.Kind {
	case store.PayloadAgentTurn:
		s.dispatchAgentTurn(ctx, j)
	case store.PayloadDeadlineCheck:
		s.dispatchDeadlineCheck(ctx, j)
	case store.PayloadSystemEvent:
		if s.out != nil {
			_ = s.out.Publish(ctx, j.Payload.Channel, j.Payload.ChatID, j.Payload.Text)
		}
	}

	now := s.clock.NowMS()
	s.mu.Lock()
	j.State.LastRunAtMS = &now
	j.State.LastStatus = store.StatusOK
	s.mu.Unlock()
}

func (s *Scheduler) dispatchAgentTurn(ctx context.Context, j *store.CronJob) {
	p := j.Payload
	if p.Deliver {
		if s.out != nil {
			if err := s.out.Publish(ctx, p.Channel, p.ChatID, p.Text); err != nil {
				s.logger.Warn("publish reminder failed", "job", j.ID, "error", err)
				return
			}
		}
		_ = s.store.AppendReminderHistory(ctx, &store.ReminderHistory{
			UserID: p.ChatID, JobID: j.ID, Event: store.ReminderDelivered,
		})
		if p.RemindAgainIfUnconfirmedSeconds > 0 && j.State.SnoozeCount < maxInt(p.RemindAgainMaxCount, 1) {
			followUpMS := s.clock.NowMS() + p.RemindAgainIfUnconfirmedSeconds*1000
			followPayload := p
			followPayload.ParentJobID = j.ID
			_, err := s.AddJob(ctx, p.ChatID, j.Name+" (follow-up)",
				store.Schedule{Kind: store.ScheduleAt, AtMS: followUpMS}, followPayload, true, "")
			if err != nil {
				s.logger.Warn("schedule follow-up failed", "job", j.ID, "error", err)
			}
		}
		return
	}

	if s.agent != nil {
		if err := s.agent.InvokeSynthetic(ctx, p.Channel, p.ChatID, p.Text); err != nil {
			s.logger.Warn("synthetic agent turn failed", "job", j.ID, "error", err)
		}
	}
}

func (s *Scheduler) dispatchDeadlineCheck(ctx context.Context, j *store.CronJob) {
	main, ok := s.GetJob(j.Payload.DeadlineMainJobID)
	defer s.RemoveJob(ctx, j.ID)

	if !ok || main.State.LastStatus == store.StatusOK && main.State.NextRunAtMS == nil {
		return // main already completed or gone
	}

	n := int64(s.cfg.DeadlineFollowupAfter / time.Millisecond)
	now := s.clock.NowMS()
	for i, offset := range []int64{0, n, 2 * n} {
		payload := main.Payload
		payload.HasDeadline = true
		payload.DeadlineMainJobID = main.ID
		payload.DeadlinePostIndex = i + 1
		sched := store.Schedule{Kind: store.ScheduleAt, AtMS: now + offset}
		if _, err := s.AddJob(ctx, j.Payload.ChatID, main.Name+" (deadline)", sched, payload, true, ""); err != nil {
			s.logger.Warn("add post-deadline reminder failed", "main_job", main.ID, "error", err)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// reschedule recomputes next_run_at_ms after a dispatch, disabling (and,
// when eligible, removing) jobs whose schedule has no future instant.
func (s *Scheduler) reschedule(ctx context.Context, j *store.CronJob) {
	from := s.clock.NowMS()
	if j.Schedule.Kind == store.ScheduleEvery && j.State.LastRunAtMS != nil {
		if after := *j.State.LastRunAtMS + j.Schedule.EveryMS; after > from {
			from = after
		}
	}
	next := NextRun(j.Schedule, from)

	s.mu.Lock()
	j.State.NextRunAtMS = next
	shouldRemove := next == nil && j.DeleteAfterRun && !j.Payload.HasDeadline
	if next == nil {
		j.Enabled = false
	}
	s.mu.Unlock()

	if shouldRemove {
		s.RemoveJob(ctx, j.ID)
		return
	}
	if err := s.store.SaveJob(ctx, j); err != nil {
		s.logger.Warn("reschedule save failed", "id", j.ID, "error", err)
	}
}

// Snooze reschedules a job +5 minutes and increments its snooze counter,
// capped at 3 (spec §4.4.2: reactive ⏰).
func (s *Scheduler) Snooze(ctx context.Context, id string) (*store.CronJob, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, zerr.New(zerr.KindNotFound, zerr.ErrNotFound)
	}
	if j.State.SnoozeCount >= 3 {
		s.mu.Unlock()
		return j, nil
	}
	j.State.SnoozeCount++
	next := s.clock.NowMS() + int64(5*time.Minute/time.Millisecond)
	j.State.NextRunAtMS = &next
	j.Enabled = true
	s.mu.Unlock()

	if err := s.store.SaveJob(ctx, j); err != nil {
		return nil, err
	}
	_ = s.store.AppendReminderHistory(ctx, &store.ReminderHistory{JobID: id, Event: store.ReminderSnoozed})
	return j, nil
}

// Complete marks a job done: removes it plus any deadline follow-ups and
// triggers dependents (spec §4.4.2: reactive 👍).
func (s *Scheduler) Complete(ctx context.Context, id string) {
	s.RemoveJobAndDeadlineFollowups(ctx, id)
	s.TriggerDependents(ctx, id)
}
