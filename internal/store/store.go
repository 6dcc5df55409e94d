package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookup methods that found no matching row,
// independent of the underlying driver's own not-found sentinel
// (sql.ErrNoRows for sqlite, pgx.ErrNoRows for postgres).
var ErrNotFound = errors.New("store: not found")

// Store is the relational persistence contract. Spec §1 treats persistence
// as an abstract capability ("any relational store satisfying the data
// model"); this interface is that contract, with sqlite and postgres
// implementations behind it.
type Store interface {
	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	GetOrCreateUser(ctx context.Context, id, displayPhone string) (*User, bool, error)
	UpdateUser(ctx context.Context, u *User) error

	// Lists
	CreateList(ctx context.Context, l *List) (*List, error)
	GetListByName(ctx context.Context, userID, name string) (*List, error)
	ListLists(ctx context.Context, userID string) ([]*List, error)
	DeleteList(ctx context.Context, id int64) error

	// ListItems
	AddListItem(ctx context.Context, it *ListItem) (*ListItem, error)
	ListItems(ctx context.Context, listID int64, includeDone bool) ([]*ListItem, error)
	MarkItemDone(ctx context.Context, itemID int64) error
	RemoveListItem(ctx context.Context, itemID int64) error

	// Events
	AddEvent(ctx context.Context, e *Event) (*Event, error)
	ListEvents(ctx context.Context, userID string, typ EventType) ([]*Event, error)
	RemoveEvent(ctx context.Context, id int64) error

	// CronJob quota helpers (spec §3 invariant 5)
	CountRemindersOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error)
	CountEventsOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error)

	// ReminderHistory / AuditLog
	AppendReminderHistory(ctx context.Context, h *ReminderHistory) error
	AppendAuditLog(ctx context.Context, a *AuditLog) error
	RecentAuditLog(ctx context.Context, limit int) ([]*AuditLog, error)
	PruneAuditLog(ctx context.Context, olderThanDays int) (int64, error)

	// Habits
	CreateHabit(ctx context.Context, h *Habit) (*Habit, error)
	ListHabits(ctx context.Context, userID string) ([]*Habit, error)
	CheckHabit(ctx context.Context, habitID int64) (*Habit, error)

	// Goals / Notes / Projects / ListTemplates / Bookmarks
	CreateGoal(ctx context.Context, g *Goal) (*Goal, error)
	ListGoals(ctx context.Context, userID string) ([]*Goal, error)
	CreateNote(ctx context.Context, n *Note) (*Note, error)
	ListNotes(ctx context.Context, userID string) ([]*Note, error)
	CreateProject(ctx context.Context, p *Project) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)
	CreateListTemplate(ctx context.Context, t *ListTemplate) (*ListTemplate, error)
	ListListTemplates(ctx context.Context, userID string) ([]*ListTemplate, error)
	CreateBookmark(ctx context.Context, b *Bookmark) (*Bookmark, error)
	ListBookmarks(ctx context.Context, userID string) ([]*Bookmark, error)

	// Painpoints
	AddPainpoint(ctx context.Context, p *Painpoint) error
	ListPainpoints(ctx context.Context, limit int) ([]*Painpoint, error)

	// CronJob persistence (backs internal/scheduler.JobStorage)
	SaveJob(ctx context.Context, j *CronJob) error
	DeleteJob(ctx context.Context, id string) error
	LoadJob(ctx context.Context, id string) (*CronJob, error)
	AllJobs(ctx context.Context) ([]*CronJob, error)

	Close() error
}
