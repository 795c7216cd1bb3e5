package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/sopflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/sopflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *Session) error {
	if err := prepareSession(sess); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, intent, status, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Intent, string(sess.Status), nullRaw(sess.State),
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
	)
	if err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE") {
		return storeConflict(sess.ID)
	}
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, intent, status, state, created_at, updated_at FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM session_messages WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		sess.Messages = append(sess.Messages, m)
	}
	return sess, rows.Err()
}

func (s *LibSQLStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, nullRaw(update.State))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().UnixMilli(), id)

	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if update.FromStatus != "" {
		query += " AND status = ?"
		args = append(args, string(update.FromStatus))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return storeNotFound("session", id)
	}
	if err != nil {
		return err
	}
	return statusConflict(id, SessionStatus(current), update.FromStatus)
}

// ListSessions does not load messages.
func (s *LibSQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, filter.UpdatedBefore.UnixMilli())
	}

	query := "SELECT id, intent, status, state, created_at, updated_at FROM sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *LibSQLStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now.UnixMilli(), id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "session", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, msg.Role, msg.Content, msg.CreatedAt.UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var (
		status           string
		state            sql.NullString
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &sess.Intent, &status, &state, &created, &updated); err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	sess.State = rawOrNil(state)
	sess.CreatedAt = time.UnixMilli(created).UTC()
	sess.UpdatedAt = time.UnixMilli(updated).UTC()
	return sess, nil
}

// prepareSession validates a new session and fills defaults.
func prepareSession(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return schema.InvalidArgument("session id is required")
	}
	if sess.Status == "" {
		sess.Status = SessionRunning
	}
	sess.CreatedAt = timeOrNow(sess.CreatedAt)
	sess.UpdatedAt = timeOrNow(sess.UpdatedAt)
	return nil
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeConflict(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeConflict, "session %q already exists", id)
}

func statusConflict(id string, current, want SessionStatus) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeConflict, "session %q is %s, not %s", id, current, want)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
