// Package sqlite is the default internal/store.Store backend, a single
// organizer.db file holding the whole data model from spec.md §3.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/zapista/organizer/internal/store"
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
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
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lists (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    project_id INTEGER,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lists_user ON lists(user_id);

CREATE TABLE IF NOT EXISTS list_items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    list_id    INTEGER NOT NULL,
    text       TEXT NOT NULL,
    done       INTEGER DEFAULT 0,
    position   INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items(list_id);

CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    payload    TEXT DEFAULT '{}',
    at_ms      INTEGER,
    deleted    INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at_ms);

CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    enabled          INTEGER DEFAULT 1,
    schedule_kind    TEXT NOT NULL,
    schedule_json    TEXT NOT NULL,
    payload_json     TEXT NOT NULL,
    state_json       TEXT NOT NULL,
    delete_after_run INTEGER DEFAULT 0,
    user_id          TEXT DEFAULT '',
    next_run_at_ms   INTEGER,
    created_at_ms    INTEGER NOT NULL,
    updated_at_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(next_run_at_ms);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);

CREATE TABLE IF NOT EXISTS reminder_history (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    job_id  TEXT NOT NULL,
    event   TEXT NOT NULL,
    at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminder_history_user ON reminder_history(user_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    action     TEXT NOT NULL,
    payload    TEXT DEFAULT '{}',
    at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at);

CREATE TABLE IF NOT EXISTS habits (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    streak     INTEGER DEFAULT 0,
    last_check TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS habit_checks (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    habit_id INTEGER NOT NULL,
    at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS goals (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    done       INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS list_templates (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    items_json TEXT DEFAULT '[]',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bookmarks (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    text       TEXT NOT NULL,
    url        TEXT DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS painpoints (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL,
    chat_id    TEXT NOT NULL,
    excerpt    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

// Store implements store.Store over mattn/go-sqlite3.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) organizer.db at path, enabling WAL mode.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/organizer.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func nowStr() string { return time.Now().UTC().Format(time.RFC3339) }

// ---------- Users ----------

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, display_phone, preferred_name, language, timezone, city, quiet_start, quiet_end, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetOrCreateUser(ctx context.Context, id, displayPhone string) (*store.User, bool, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		return u, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}
	now := nowStr()
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, display_phone, created_at, updated_at) VALUES (?, ?, ?, ?)`, id, displayPhone, now, now)
	if err != nil {
		return nil, false, err
	}
	u, err = s.GetUser(ctx, id)
	return u, true, err
}

func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET display_phone=?, preferred_name=?, language=?, timezone=?, city=?, quiet_start=?, quiet_end=?, updated_at=? WHERE id=?`,
		u.DisplayPhone, u.PreferredName, u.Language, u.Timezone, u.City, u.QuietStart, u.QuietEnd, nowStr(), u.ID)
	return err
}

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	var created, updated string
	if err := row.Scan(&u.ID, &u.DisplayPhone, &u.PreferredName, &u.Language, &u.Timezone, &u.City, &u.QuietStart, &u.QuietEnd, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &u, nil
}

// ---------- Lists / ListItems ----------

func (s *Store) CreateList(ctx context.Context, l *store.List) (*store.List, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO lists (user_id, name, project_id, created_at) VALUES (?, ?, ?, ?)`, l.UserID, l.Name, l.ProjectID, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	l.ID = id
	return l, nil
}

func (s *Store) GetListByName(ctx context.Context, userID, name string) (*store.List, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, name, project_id, created_at FROM lists WHERE user_id=? AND name=?`, userID, name)
	var l store.List
	var created string
	if err := row.Scan(&l.ID, &l.UserID, &l.Name, &l.ProjectID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &l, nil
}

func (s *Store) ListLists(ctx context.Context, userID string) ([]*store.List, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, project_id, created_at FROM lists WHERE user_id=? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.List
	for rows.Next() {
		var l store.List
		var created string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.ProjectID, &created); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *Store) DeleteList(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id=?`, id)
	return err
}

func (s *Store) AddListItem(ctx context.Context, it *store.ListItem) (*store.ListItem, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO list_items (list_id, text, position, created_at) VALUES (?, ?, ?, ?)`, it.ListID, it.Text, it.Position, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	it.ID = id
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, listID int64, includeDone bool) ([]*store.ListItem, error) {
	q := `SELECT id, list_id, text, done, position, created_at FROM list_items WHERE list_id=?`
	if !includeDone {
		q += ` AND done=0`
	}
	q += ` ORDER BY position, created_at`
	rows, err := s.db.QueryContext(ctx, q, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.ListItem
	for rows.Next() {
		var it store.ListItem
		var created string
		if err := rows.Scan(&it.ID, &it.ListID, &it.Text, &it.Done, &it.Position, &created); err != nil {
			return nil, err
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (s *Store) MarkItemDone(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE list_items SET done=1 WHERE id=?`, itemID)
	return err
}

func (s *Store) RemoveListItem(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM list_items WHERE id=?`, itemID)
	return err
}

// ---------- Events ----------

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
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (user_id, type, payload, at_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.UserID, string(e.Type), string(payload), atMS, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, userID string, typ store.EventType) ([]*store.Event, error) {
	q := `SELECT id, user_id, type, payload, at_ms, deleted, created_at FROM events WHERE user_id=? AND deleted=0`
	args := []any{userID}
	if typ != "" {
		q += ` AND type=?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY at_ms`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Event
	for rows.Next() {
		var e store.Event
		var payload string
		var atMS sql.NullInt64
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &payload, &atMS, &e.Deleted, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		if atMS.Valid {
			t := time.UnixMilli(atMS.Int64).UTC()
			e.At = &t
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) RemoveEvent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET deleted=1 WHERE id=?`, id)
	return err
}

// ---------- Quota helpers ----------

func (s *Store) CountRemindersOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id=? AND payload_json LIKE '%"kind":"agent_turn"%' AND created_at_ms >= ? AND created_at_ms < ?`,
		userID, dayStartMS, dayEndMS).Scan(&n)
	return n, err
}

func (s *Store) CountEventsOnDate(ctx context.Context, userID string, dayStartMS, dayEndMS int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE user_id=? AND deleted=0 AND at_ms >= ? AND at_ms < ?`,
		userID, dayStartMS, dayEndMS).Scan(&n)
	return n, err
}

// ---------- History / Audit ----------

func (s *Store) AppendReminderHistory(ctx context.Context, h *store.ReminderHistory) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reminder_history (user_id, job_id, event, at) VALUES (?, ?, ?, ?)`,
		h.UserID, h.JobID, string(h.Event), nowStr())
	return err
}

func (s *Store) AppendAuditLog(ctx context.Context, a *store.AuditLog) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (user_id, action, payload, at) VALUES (?, ?, ?, ?)`,
		a.UserID, a.Action, string(payload), nowStr())
	return err
}

func (s *Store) RecentAuditLog(ctx context.Context, limit int) ([]*store.AuditLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, action, payload, at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.AuditLog
	for rows.Next() {
		var a store.AuditLog
		var payload, at string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &payload, &at); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &a.Payload)
		a.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) PruneAuditLog(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------- Habits / Goals / Notes / Projects / Templates / Bookmarks ----------

func (s *Store) CreateHabit(ctx context.Context, h *store.Habit) (*store.Habit, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO habits (user_id, name, created_at) VALUES (?, ?, ?)`, h.UserID, h.Name, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	h.ID = id
	return h, nil
}

func (s *Store) ListHabits(ctx context.Context, userID string) ([]*store.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, streak, last_check, created_at FROM habits WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Habit
	for rows.Next() {
		var h store.Habit
		var lastCheck sql.NullString
		var created string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &h.Streak, &lastCheck, &created); err != nil {
			return nil, err
		}
		if lastCheck.Valid {
			t, _ := time.Parse(time.RFC3339, lastCheck.String)
			h.LastCheck = &t
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *Store) CheckHabit(ctx context.Context, habitID int64) (*store.Habit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var streak int
	var lastCheck sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT streak, last_check FROM habits WHERE id=?`, habitID).Scan(&streak, &lastCheck); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if lastCheck.Valid {
		prev, _ := time.Parse(time.RFC3339, lastCheck.String)
		if now.Sub(prev) <= 48*time.Hour {
			streak++
		} else {
			streak = 1
		}
	} else {
		streak = 1
	}

	if _, err := tx.ExecContext(ctx, `UPDATE habits SET streak=?, last_check=? WHERE id=?`, streak, now.Format(time.RFC3339), habitID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO habit_checks (habit_id, at) VALUES (?, ?)`, habitID, now.Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var h store.Habit
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, name, streak, last_check, created_at FROM habits WHERE id=?`, habitID)
	var lc sql.NullString
	var created string
	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.Streak, &lc, &created); err != nil {
		return nil, err
	}
	if lc.Valid {
		t, _ := time.Parse(time.RFC3339, lc.String)
		h.LastCheck = &t
	}
	h.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &h, nil
}

func (s *Store) CreateGoal(ctx context.Context, g *store.Goal) (*store.Goal, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO goals (user_id, text, created_at) VALUES (?, ?, ?)`, g.UserID, g.Text, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	g.ID = id
	return g, nil
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]*store.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, text, done, created_at FROM goals WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Goal
	for rows.Next() {
		var g store.Goal
		var created string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Text, &g.Done, &created); err != nil {
			return nil, err
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *Store) CreateNote(ctx context.Context, n *store.Note) (*store.Note, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO notes (user_id, text, created_at) VALUES (?, ?, ?)`, n.UserID, n.Text, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	n.ID = id
	return n, nil
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]*store.Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, text, created_at FROM notes WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Note
	for rows.Next() {
		var n store.Note
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &created); err != nil {
			return nil, err
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) (*store.Project, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects (user_id, name, created_at) VALUES (?, ?, ?)`, p.UserID, p.Name, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	p.ID = id
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, created_at FROM projects WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Project
	for rows.Next() {
		var p store.Project
		var created string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) CreateListTemplate(ctx context.Context, t *store.ListTemplate) (*store.ListTemplate, error) {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO list_templates (user_id, name, items_json, created_at) VALUES (?, ?, ?, ?)`,
		t.UserID, t.Name, string(items), nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return t, nil
}

func (s *Store) ListListTemplates(ctx context.Context, userID string) ([]*store.ListTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, items_json, created_at FROM list_templates WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.ListTemplate
	for rows.Next() {
		var t store.ListTemplate
		var items, created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &items, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(items), &t.Items)
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) CreateBookmark(ctx context.Context, b *store.Bookmark) (*store.Bookmark, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO bookmarks (user_id, text, url, created_at) VALUES (?, ?, ?, ?)`, b.UserID, b.Text, b.URL, nowStr())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	b.ID = id
	return b, nil
}

func (s *Store) ListBookmarks(ctx context.Context, userID string) ([]*store.Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, text, url, created_at FROM bookmarks WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Bookmark
	for rows.Next() {
		var b store.Bookmark
		var created string
		if err := rows.Scan(&b.ID, &b.UserID, &b.Text, &b.URL, &created); err != nil {
			return nil, err
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) AddPainpoint(ctx context.Context, p *store.Painpoint) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO painpoints (user_id, chat_id, excerpt, created_at) VALUES (?, ?, ?, ?)`,
		p.UserID, p.ChatID, p.Excerpt, nowStr())
	return err
}

func (s *Store) ListPainpoints(ctx context.Context, limit int) ([]*store.Painpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, chat_id, excerpt, created_at FROM painpoints ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Painpoint
	for rows.Next() {
		var p store.Painpoint
		var created string
		if err := rows.Scan(&p.ID, &p.UserID, &p.ChatID, &p.Excerpt, &created); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---------- CronJob ----------

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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, enabled, schedule_kind, schedule_json, payload_json, state_json, delete_after_run, user_id, next_run_at_ms, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, enabled=excluded.enabled, schedule_kind=excluded.schedule_kind,
			schedule_json=excluded.schedule_json, payload_json=excluded.payload_json,
			state_json=excluded.state_json, delete_after_run=excluded.delete_after_run,
			next_run_at_ms=excluded.next_run_at_ms, updated_at_ms=excluded.updated_at_ms`,
		j.ID, j.Name, j.Enabled, string(j.Schedule.Kind), string(sched), string(payload), string(state),
		j.DeleteAfterRun, j.Payload.ChatID, j.State.NextRunAtMS, j.CreatedAtMS, j.UpdatedAtMS)
	return err
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	return err
}

func (s *Store) LoadJob(ctx context.Context, id string) (*store.CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, enabled, schedule_json, payload_json, state_json, delete_after_run, created_at_ms, updated_at_ms FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

func (s *Store) AllJobs(ctx context.Context) ([]*store.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, enabled, schedule_json, payload_json, state_json, delete_after_run, created_at_ms, updated_at_ms FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.CronJob
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*store.CronJob, error) {
	return scanJobAny(row)
}

func scanJobRows(rows *sql.Rows) (*store.CronJob, error) {
	return scanJobAny(rows)
}

func scanJobAny(sc scanner) (*store.CronJob, error) {
	var j store.CronJob
	var sched, payload, state string
	if err := sc.Scan(&j.ID, &j.Name, &j.Enabled, &sched, &payload, &state, &j.DeleteAfterRun, &j.CreatedAtMS, &j.UpdatedAtMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sched), &j.Schedule); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &j.State); err != nil {
		return nil, err
	}
	return &j, nil
}

var _ store.Store = (*Store)(nil)
