// Package sqlstore implements store.Store on database/sql. It speaks two
// dialects: SQLite through modernc.org/sqlite (the default, embedded store)
// and PostgreSQL through the pgx stdlib driver. Schema DDL is applied on
// open.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // register the sqlite driver

	"github.com/leaseline-dev/leaseline/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

// Dialect selects placeholder style and schema DDL.
type Dialect int

const (
	// DialectSQLite uses ? placeholders and the embedded sqlite driver.
	DialectSQLite Dialect = iota
	// DialectPostgres uses $1-style placeholders via pgx.
	DialectPostgres
)

// Store is a SQL-backed store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite store at dsn and applies the
// schema. SQLite serializes writers, so the pool is capped at a single
// connection; this also keeps in-memory databases on one connection.
func OpenSQLite(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db, dialect: DialectSQLite, logger: logger}
	if err := s.applySchema(context.Background(), sqliteDDL); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a PostgreSQL store at dsn and applies the schema.
func OpenPostgres(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, dialect: DialectPostgres, logger: logger}
	if err := s.applySchema(context.Background(), postgresDDL); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS statuses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_statuses_sort ON statuses(sort_order);
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status_id INTEGER NOT NULL REFERENCES statuses(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL DEFAULT 0,
	sort_order INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_status_sort ON tasks(status_id, sort_order);
`

const postgresDDL = `
CREATE TABLE IF NOT EXISTS statuses (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_statuses_sort ON statuses(sort_order);
CREATE TABLE IF NOT EXISTS tasks (
	id BIGSERIAL PRIMARY KEY,
	status_id BIGINT NOT NULL REFERENCES statuses(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	sort_order INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_status_sort ON tasks(status_id, sort_order);
`

func (s *Store) applySchema(ctx context.Context, ddl string) error {
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's native style.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- statuses ---

// CreateStatus appends a status at the end of the global order.
func (s *Store) CreateStatus(ctx context.Context, name, color string) (store.Status, error) {
	now := time.Now().UTC()
	q := s.rebind(`INSERT INTO statuses (name, color, sort_order, created_at, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM statuses), ?, ?)
		RETURNING id`)
	var id int64
	if err := s.db.QueryRowContext(ctx, q, name, color, now, now).Scan(&id); err != nil {
		return store.Status{}, fmt.Errorf("create status: %w", err)
	}
	return s.GetStatus(ctx, id)
}

// GetStatus fetches one status by id.
func (s *Store) GetStatus(ctx context.Context, id int64) (store.Status, error) {
	q := s.rebind(`SELECT id, name, color, sort_order, created_at, updated_at
		FROM statuses WHERE id = ?`)
	var st store.Status
	err := s.db.QueryRowContext(ctx, q, id).Scan(&st.ID, &st.Name, &st.Color, &st.Order, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Status{}, store.ErrNotFound
	}
	if err != nil {
		return store.Status{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

// ListStatuses returns every status in persisted order.
func (s *Store) ListStatuses(ctx context.Context) ([]store.Status, error) {
	q := `SELECT id, name, color, sort_order, created_at, updated_at
		FROM statuses ORDER BY sort_order`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	statuses := []store.Status{}
	for rows.Next() {
		var st store.Status
		if err := rows.Scan(&st.ID, &st.Name, &st.Color, &st.Order, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// UpdateStatus applies a partial update and returns the stored row.
func (s *Store) UpdateStatus(ctx context.Context, id int64, patch store.StatusPatch) (store.Status, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *patch.Color)
	}
	args = append(args, id)

	q := s.rebind(fmt.Sprintf("UPDATE statuses SET %s WHERE id = ?", strings.Join(sets, ", ")))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return store.Status{}, fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Status{}, store.ErrNotFound
	}
	return s.GetStatus(ctx, id)
}

// DeleteStatus removes a status and, via cascade, its tasks.
func (s *Store) DeleteStatus(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM statuses WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReorderStatuses persists a new global status order in one transaction
// using the two-phase plan.
func (s *Store) ReorderStatuses(ctx context.Context, ids []int64) error {
	return s.reorder(ctx, ids,
		"SELECT COUNT(*) FROM statuses",
		"UPDATE statuses SET sort_order = ?, updated_at = ? WHERE id = ?",
		nil,
	)
}

// --- tasks ---

// CreateTask appends a task at the end of its status's order.
func (s *Store) CreateTask(ctx context.Context, statusID int64, title, notes string) (store.Task, error) {
	if _, err := s.GetStatus(ctx, statusID); err != nil {
		return store.Task{}, err
	}
	now := time.Now().UTC()
	q := s.rebind(`INSERT INTO tasks (status_id, title, notes, completed, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM tasks WHERE status_id = ?), ?, ?)
		RETURNING id`)
	var id int64
	if err := s.db.QueryRowContext(ctx, q, statusID, title, notes, false, statusID, now, now).Scan(&id); err != nil {
		return store.Task{}, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (store.Task, error) {
	q := s.rebind(`SELECT id, status_id, title, notes, completed, sort_order, created_at, updated_at
		FROM tasks WHERE id = ?`)
	var t store.Task
	err := s.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.StatusID, &t.Title, &t.Notes, &t.Completed, &t.Order, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, store.ErrNotFound
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns the tasks of one status in persisted order.
func (s *Store) ListTasks(ctx context.Context, statusID int64) ([]store.Task, error) {
	q := s.rebind(`SELECT id, status_id, title, notes, completed, sort_order, created_at, updated_at
		FROM tasks WHERE status_id = ? ORDER BY sort_order`)
	rows, err := s.db.QueryContext(ctx, q, statusID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []store.Task{}
	for rows.Next() {
		var t store.Task
		if err := rows.Scan(&t.ID, &t.StatusID, &t.Title, &t.Notes, &t.Completed, &t.Order, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a partial update and returns the stored row. Moving a
// task to another status places it at the end of the target's order so the
// sibling uniqueness constraint cannot collide.
func (s *Store) UpdateTask(ctx context.Context, id int64, patch store.TaskPatch) (store.Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	if patch.StatusID != nil {
		if _, err := s.GetStatus(ctx, *patch.StatusID); err != nil {
			return store.Task{}, err
		}
		sets = append(sets, "status_id = ?",
			"sort_order = (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM tasks WHERE status_id = ?)")
		args = append(args, *patch.StatusID, *patch.StatusID)
	}
	args = append(args, id)

	q := s.rebind(fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(sets, ", ")))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return store.Task{}, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Task{}, store.ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes one task.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReorderTasks persists a new order for the tasks of one status in one
// transaction using the two-phase plan.
func (s *Store) ReorderTasks(ctx context.Context, statusID int64, ids []int64) error {
	return s.reorder(ctx, ids,
		"SELECT COUNT(*) FROM tasks WHERE status_id = ?",
		"UPDATE tasks SET sort_order = ?, updated_at = ? WHERE id = ? AND status_id = ?",
		[]any{statusID},
	)
}

// reorder runs the two-phase plan inside a single transaction. countQuery
// takes scope as arguments; updateQuery takes (position, now, id, scope...).
// Every write must hit exactly one row, otherwise the submitted ids do not
// match the collection and the whole reorder rolls back.
func (s *Store) reorder(ctx context.Context, ids []int64, countQuery, updateQuery string, scope []any) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return store.ErrOrderMismatch
		}
		seen[id] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, s.rebind(countQuery), scope...).Scan(&n); err != nil {
		return fmt.Errorf("count collection: %w", err)
	}
	if n != len(ids) {
		return store.ErrOrderMismatch
	}

	q := s.rebind(updateQuery)
	now := time.Now().UTC()
	for _, w := range store.TwoPhasePlan(ids) {
		args := append([]any{w.Position, now, w.ID}, scope...)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("write position: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows != 1 {
			return store.ErrOrderMismatch
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("reorder committed", "rows", len(ids))
	}
	return nil
}
