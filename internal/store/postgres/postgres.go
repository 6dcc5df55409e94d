// Package postgres is the alternate internal/store.Store backend, wired
// in because spec.md §1 treats "SQL persistence" as an abstract capability
// ("any relational store satisfying the data model") rather than a fixed
// choice. It implements the same contract as internal/store/sqlite against
// a Postgres instance reached through jackc/pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zapista/organizer/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT PRIMARY KEY,
    display_phone  TEXT DEFAULT '',
    preferred_name TEXT DEFAULT '',
    language       TEXT DEFAULT '',
    timezone       TEXT DEFAULT '',
    city           TEXT DEFAULT '',
    quiet_start    TEXT DEFAULT '',
    quiet_end      TEXT DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS lists (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    project_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS list_items (
    id         BIGSERIAL PRIMARY KEY,
    list_id    BIGINT NOT NULL,
    text       TEXT NOT NULL,
    done       BOOLEAN DEFAULT FALSE,
    position   INTEGER DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    payload    JSONB DEFAULT '{}',
    at_ms      BIGINT,
    deleted    BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    enabled          BOOLEAN DEFAULT TRUE,
    schedule_json    JSONB NOT NULL,
    payload_json     JSONB NOT NULL,
    state_json       JSONB NOT NULL,
    delete_after_run BOOLEAN DEFAULT FALSE,
    next_run_at_ms   BIGINT,
    created_at_ms    BIGINT NOT NULL,
    updated_at_ms    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reminder_history (
    id      BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    job_id  TEXT NOT NULL,
    event   TEXT NOT NULL,
    at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id      BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    action  TEXT NOT NULL,
    payload JSONB DEFAULT '{}',
    at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS habits (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    streak     INTEGER DEFAULT 0,
    last_check TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS habit_checks (
    id       BIGSERIAL PRIMARY KEY,
    habit_id BIGINT NOT NULL,
    at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS goals (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    done       BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS list_templates (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    items_json JSONB DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bookmarks (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    url        TEXT DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS painpoints (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    chat_id    TEXT NOT NULL,
    excerpt    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

// Store implements store.Store over jackc/pgx/v5.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, display_phone, preferred_name, language, timezone, city, quiet_start, quiet_end, created_at, updated_at FROM users WHERE id=$1`, id)
	var u store.User
	if err := row.Scan(&u.ID, &u.DisplayPhone, &u.PreferredName, &u.Language, &u.Timezone, &u.City, &u.QuietStart, &u.QuietEnd, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetOrCreateUser(ctx context.Context, id, displayPhone string) (*store.User, bool, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		return u, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `INSERT INTO users (id, display_phone, created_at, updated_at) VALUES ($1,$2,$3,$3)`, id, displayPhone, now); err != nil {
		return nil, false, err
	}
	u, err = s.GetUser(ctx, id)
	return u, true, err
}

func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET display_phone=$1, preferred_name=$2, language=$3, timezone=$4, city=$5, quiet_start=$6, quiet_end=$7, updated_at=$8 WHERE id=$9`,
		u.DisplayPhone, u.PreferredName, u.Language, u.Timezone, u.City, u.QuietStart, u.QuietEnd, time.Now().UTC(), u.ID)
	return err
}

func (s *Store) CreateList(ctx context.Context, l *store.List) (*store.List, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO lists (user_id, name, project_id, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		l.UserID, l.Name, l.ProjectID, time.Now().UTC()).Scan(&l.ID)
	return l, err
}

func (s *Store) GetListByName(ctx context.Context, userID, name string) (*store.List, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, name, project_id, created_at FROM lists WHERE user_id=$1 AND name=$2`, userID, name)
	var l store.List
	if err := row.Scan(&l.ID, &l.UserID, &l.Name, &l.ProjectID, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLists(ctx context.Context, userID string) ([]*store.List, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, name, project_id, created_at FROM lists WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.List
	for rows.Next() {
		var l store.List
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.ProjectID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *Store) DeleteList(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM lists WHERE id=$1`, id)
	return err
}

func (s *Store) AddListItem(ctx context.Context, it *store.ListItem) (*store.ListItem, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO list_items (list_id, text, position, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		it.ListID, it.Text, it.Position, time.Now().UTC()).Scan(&it.ID)
	return it, err
}

func (s *Store) ListItems(ctx context.Context, listID int64, includeDone bool) ([]*store.ListItem, error) {
	q := `SELECT id, list_id, text, done, position, created_at FROM list_items WHERE list_id=$1`
	if !includeDone {
		q += ` AND done=false`
	}
	q += ` ORDER BY position, created_at`
	rows, err := s.pool.Query(ctx, q, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.ListItem
	for rows.Next() {
		var it store.ListItem
		if err := rows.Scan(&it.ID, &it.ListID, &it.Text, &it.Done, &it.Position, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (s *Store) MarkItemDone(ctx context.Context, itemID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE list_items SET done=true WHERE id=$1`, itemID)
	return err
}

func (s *Store) RemoveListItem(ctx context.Context, itemID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM list_items WHERE id=$1`, itemID)
	return err
}

func (s *Store) AddEvent(ctx context.Context, e *store.Event) (*store.Event, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var atMS *int64
	if e.At != nil {
		ms := e.At.UnixMilli()
		atMS = &ms
	}
	err = s.pool.QueryRow(ctx, `INSERT INTO events (user_id, type, payload, at_ms, created_at) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		e.UserID, string(e.Type), payload, atMS, time.Now().UTC()).Scan(&e.ID)
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, userID string, typ store.EventType) ([]*store.Event, error) {
	q := `SELECT id, user_id, type, payload, at_ms, deleted, created_at FROM events WHERE user_id=$1 AND deleted=false`
	args := []any{userID}
	if typ != "" {
		q += ` AND type=$2`
		args = append(args, string(typ))
	}
	q += ` ORDER BY at_ms`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Event
	for rows.Next() {
		var e store.Event
		var payload []byte
		var atMS *int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &payload, &atMS, &e.Deleted, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &e.Payload)
		if atMS != nil {
			t := time.UnixMilli(*atMS).UTC()
			e.At = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) RemoveEvent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE events SET deleted=true WHERE id=$1`, id)
	return err
}

func (s *Store) CountRemindersOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE payload_json->>'kind'='agent_turn' AND payload_json->>'chat_id'=$1 AND created_at_ms >= $2 AND created_at_ms < $3`,
		userID, dayStartMS, dayEndMS).Scan(&n)
	return n, err
}

func (s *Store) CountEventsOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE user_id=$1 AND deleted=false AND at_ms >= $2 AND at_ms < $3`,
		userID, dayStartMS, dayEndMS).Scan(&n)
	return n, err
}

func (s *Store) AppendReminderHistory(ctx context.Context, h *store.ReminderHistory) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO reminder_history (user_id, job_id, event, at) VALUES ($1,$2,$3,$4)`, h.UserID, h.JobID, string(h.Event), time.Now().UTC())
	return err
}

func (s *Store) AppendAuditLog(ctx context.Context, a *store.AuditLog) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_log (user_id, action, payload, at) VALUES ($1,$2,$3,$4)`, a.UserID, a.Action, payload, time.Now().UTC())
	return err
}

func (s *Store) RecentAuditLog(ctx context.Context, limit int) ([]*store.AuditLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, action, payload, at FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.AuditLog
	for rows.Next() {
		var a store.AuditLog
		var payload []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &payload, &a.At); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &a.Payload)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) PruneAuditLog(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CreateHabit(ctx context.Context, h *store.Habit) (*store.Habit, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO habits (user_id, name, created_at) VALUES ($1,$2,$3) RETURNING id`, h.UserID, h.Name, time.Now().UTC()).Scan(&h.ID)
	return h, err
}

func (s *Store) ListHabits(ctx context.Context, userID string) ([]*store.Habit, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, name, streak, last_check, created_at FROM habits WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Habit
	for rows.Next() {
		var h store.Habit
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &h.Streak, &h.LastCheck, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *Store) CheckHabit(ctx context.Context, habitID int64) (*store.Habit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var streak int
	var lastCheck *time.Time
	if err := tx.QueryRow(ctx, `SELECT streak, last_check FROM habits WHERE id=$1`, habitID).Scan(&streak, &lastCheck); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if lastCheck != nil && now.Sub(*lastCheck) <= 48*time.Hour {
		streak++
	} else {
		streak = 1
	}
	if _, err := tx.Exec(ctx, `UPDATE habits SET streak=$1, last_check=$2 WHERE id=$3`, streak, now, habitID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO habit_checks (habit_id, at) VALUES ($1,$2)`, habitID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	var h store.Habit
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, name, streak, last_check, created_at FROM habits WHERE id=$1`, habitID)
	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.Streak, &h.LastCheck, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) CreateGoal(ctx context.Context, g *store.Goal) (*store.Goal, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO goals (user_id, text, created_at) VALUES ($1,$2,$3) RETURNING id`, g.UserID, g.Text, time.Now().UTC()).Scan(&g.ID)
	return g, err
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]*store.Goal, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, text, done, created_at FROM goals WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Goal
	for rows.Next() {
		var g store.Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Text, &g.Done, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *Store) CreateNote(ctx context.Context, n *store.Note) (*store.Note, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO notes (user_id, text, created_at) VALUES ($1,$2,$3) RETURNING id`, n.UserID, n.Text, time.Now().UTC()).Scan(&n.ID)
	return n, err
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]*store.Note, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, text, created_at FROM notes WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Note
	for rows.Next() {
		var n store.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) (*store.Project, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO projects (user_id, name, created_at) VALUES ($1,$2,$3) RETURNING id`, p.UserID, p.Name, time.Now().UTC()).Scan(&p.ID)
	return p, err
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, name, created_at FROM projects WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Project
	for rows.Next() {
		var p store.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) CreateListTemplate(ctx context.Context, t *store.ListTemplate) (*store.ListTemplate, error) {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return nil, err
	}
	err = s.pool.QueryRow(ctx, `INSERT INTO list_templates (user_id, name, items_json, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		t.UserID, t.Name, items, time.Now().UTC()).Scan(&t.ID)
	return t, err
}

func (s *Store) ListListTemplates(ctx context.Context, userID string) ([]*store.ListTemplate, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, name, items_json, created_at FROM list_templates WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.ListTemplate
	for rows.Next() {
		var t store.ListTemplate
		var items []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &items, &t.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(items, &t.Items)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) CreateBookmark(ctx context.Context, b *store.Bookmark) (*store.Bookmark, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO bookmarks (user_id, text, url, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		b.UserID, b.Text, b.URL, time.Now().UTC()).Scan(&b.ID)
	return b, err
}

func (s *Store) ListBookmarks(ctx context.Context, userID string) ([]*store.Bookmark, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, text, url, created_at FROM bookmarks WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Bookmark
	for rows.Next() {
		var b store.Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.Text, &b.URL, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) AddPainpoint(ctx context.Context, p *store.Painpoint) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO painpoints (user_id, chat_id, excerpt, created_at) VALUES ($1,$2,$3,$4)`, p.UserID, p.ChatID, p.Excerpt, time.Now().UTC())
	return err
}

func (s *Store) ListPainpoints(ctx context.Context, limit int) ([]*store.Painpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, chat_id, excerpt, created_at FROM painpoints ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Painpoint
	for rows.Next() {
		var p store.Painpoint
		if err := rows.Scan(&p.ID, &p.UserID, &p.ChatID, &p.Excerpt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) SaveJob(ctx context.Context, j *store.CronJob) error {
	sched, err := json.Marshal(j.Schedule)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}
	state, err := json.Marshal(j.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, enabled, schedule_json, payload_json, state_json, delete_after_run, next_run_at_ms, created_at_ms, updated_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name=excluded.name, enabled=excluded.enabled, schedule_json=excluded.schedule_json,
			payload_json=excluded.payload_json, state_json=excluded.state_json,
			delete_after_run=excluded.delete_after_run, next_run_at_ms=excluded.next_run_at_ms,
			updated_at_ms=excluded.updated_at_ms`,
		j.ID, j.Name, j.Enabled, sched, payload, state, j.DeleteAfterRun, j.State.NextRunAtMS, j.CreatedAtMS, j.UpdatedAtMS)
	return err
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	return err
}

func (s *Store) LoadJob(ctx context.Context, id string) (*store.CronJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, enabled, schedule_json, payload_json, state_json, delete_after_run, created_at_ms, updated_at_ms FROM jobs WHERE id=$1`, id)
	return scanJob(row)
}

func (s *Store) AllJobs(ctx context.Context) ([]*store.CronJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, enabled, schedule_json, payload_json, state_json, delete_after_run, created_at_ms, updated_at_ms FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.CronJob
	for rows.Next() {
		var j store.CronJob
		var sched, payload, state []byte
		if err := rows.Scan(&j.ID, &j.Name, &j.Enabled, &sched, &payload, &state, &j.DeleteAfterRun, &j.CreatedAtMS, &j.UpdatedAtMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sched, &j.Schedule); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(state, &j.State); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.CronJob, error) {
	var j store.CronJob
	var sched, payload, state []byte
	if err := row.Scan(&j.ID, &j.Name, &j.Enabled, &sched, &payload, &state, &j.DeleteAfterRun, &j.CreatedAtMS, &j.UpdatedAtMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sched, &j.Schedule); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &j.State); err != nil {
		return nil, err
	}
	return &j, nil
}

var _ store.Store = (*Store)(nil)
