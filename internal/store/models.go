// Package store defines the relational persistence contract for the
// organizer core (spec's "Persistence Layer", C2) and its data model.
package store

import "time"

// User is identified by the sender ID the caller passes to the store (the
// agent passes the inbound message's From value). The store does not hash
// the ID and does not truncate DisplayPhone; both are persisted as given.
type User struct {
	ID             string // sender ID as passed by the caller, unhashed
	DisplayPhone   string // display copy as passed by the caller
	PreferredName  string
	Language       string // one of pt-PT, pt-BR, es, en
	Timezone       string // IANA
	City           string
	QuietStart     string // "HH:MM", empty = no quiet window
	QuietEnd       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// List belongs to one user.
type List struct {
	ID        int64
	UserID    string
	Name      string // lowercased for matching
	ProjectID *int64
	CreatedAt time.Time
}

// ListItem belongs to one list. Text is immutable after creation.
type ListItem struct {
	ID        int64
	ListID    int64
	Text      string
	Done      bool
	Position  int
	CreatedAt time.Time
}

// EventType enumerates the Event.Type tag.
type EventType string

const (
	EventTypeEvento EventType = "evento"
	EventTypeFilme  EventType = "filme"
	EventTypeLivro  EventType = "livro"
	EventTypeMusica EventType = "musica"
	EventTypeReceita EventType = "receita"
)

// Event belongs to one user. An "evento" type must carry an absolute
// instant.
type Event struct {
	ID       int64
	UserID   string
	Type     EventType
	Payload  map[string]any // at least "nome"
	At       *time.Time
	Deleted  bool
	CreatedAt time.Time
}

// ScheduleKind tags the CronJob.Schedule union.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is a tagged union of the three schedule shapes spec §3 defines.
// Only the fields relevant to Kind are populated.
type Schedule struct {
	Kind ScheduleKind

	AtMS int64 // ScheduleAt

	EveryMS int64 // ScheduleEvery

	Expr string // ScheduleCron
	TZ   string // ScheduleCron

	NotBeforeMS *int64 // ScheduleEvery, ScheduleCron
	NotAfterMS  *int64 // ScheduleEvery, ScheduleCron
}

// PayloadKind tags the CronJob.Payload.Kind.
type PayloadKind string

const (
	PayloadAgentTurn    PayloadKind = "agent_turn"
	PayloadSystemEvent  PayloadKind = "system_event"
	PayloadDeadlineCheck PayloadKind = "deadline_check"
)

// Payload carries everything the dispatcher needs to deliver a job.
type Payload struct {
	Kind    PayloadKind
	Text    string
	Channel string
	ChatID  string
	Locale  string
	Deliver bool

	RemindAgainIfUnconfirmedSeconds int64
	RemindAgainMaxCount             int // default 10

	DependsOnJobID string
	ParentJobID    string

	HasDeadline        bool
	DeadlineMainJobID  string
	DeadlinePostIndex  int // 1..3
}

// LastStatus enumerates CronJob.State.LastStatus.
type LastStatus string

const (
	StatusOK      LastStatus = "ok"
	StatusError   LastStatus = "error"
	StatusSkipped LastStatus = "skipped"
)

// JobState carries run bookkeeping.
type JobState struct {
	NextRunAtMS *int64
	LastRunAtMS *int64
	LastStatus  LastStatus
	LastError   string
	SnoozeCount int // 0..3
}

// CronJob is the scheduler's central entity.
type CronJob struct {
	ID             string // 2-4 uppercase letters + optional collision suffix
	Name           string
	Enabled        bool
	Schedule       Schedule
	Payload        Payload
	State          JobState
	DeleteAfterRun bool
	CreatedAtMS    int64
	UpdatedAtMS    int64
}

// ReminderHistoryEvent enumerates ReminderHistory.Event.
type ReminderHistoryEvent string

const (
	ReminderScheduled ReminderHistoryEvent = "scheduled"
	ReminderDelivered ReminderHistoryEvent = "delivered"
	ReminderSnoozed   ReminderHistoryEvent = "snoozed"
	ReminderCompleted ReminderHistoryEvent = "completed"
	ReminderCancelled ReminderHistoryEvent = "cancelled"
)

// ReminderHistory is an append-only log of scheduling/delivery events.
type ReminderHistory struct {
	ID        int64
	UserID    string
	JobID     string
	Event     ReminderHistoryEvent
	At        time.Time
}

// AuditLog is an append-only record of mutating actions.
type AuditLog struct {
	ID        int64
	UserID    string
	Action    string // "list_add", "list_remove", "list_feito", "event_add", ...
	Payload   map[string]any
	At        time.Time
}

// Habit, Goal, Note, Project, ListTemplate, Bookmark supplement the spec's
// command surface (spec.md §4.4 names /habito, /meta, /nota, /projeto,
// /template, /bookmark without a backing table; SPEC_FULL §5 adds them).

type Habit struct {
	ID        int64
	UserID    string
	Name      string
	Streak    int
	LastCheck *time.Time
	CreatedAt time.Time
}

type HabitCheck struct {
	ID      int64
	HabitID int64
	At      time.Time
}

type Goal struct {
	ID        int64
	UserID    string
	Text      string
	Done      bool
	CreatedAt time.Time
}

type Note struct {
	ID        int64
	UserID    string
	Text      string
	CreatedAt time.Time
}

type Project struct {
	ID        int64
	UserID    string
	Name      string
	CreatedAt time.Time
}

type ListTemplate struct {
	ID        int64
	UserID    string
	Name      string
	Items     []string
	CreatedAt time.Time
}

type Bookmark struct {
	ID        int64
	UserID    string
	Text      string
	URL       string
	CreatedAt time.Time
}

// TokenUsageEntry is one provider/day row in token_usage.json.
type TokenUsageEntry struct {
	Date             string // YYYY-MM-DD
	Provider         string
	PromptTokens     int64
	CompletionTokens int64
}

// Painpoint is a frustration-detection hit surfaced via #painpoints.
type Painpoint struct {
	ID        int64
	UserID    string
	ChatID    string
	Excerpt   string
	CreatedAt time.Time
}
