// Package sqlite provides a SQLite-backed game store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists game state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent drivers
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applyMigrations(db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, in store.NewSession) (store.Session, error) {
	turnState, err := json.Marshal(in.TurnState)
	if err != nil {
		return store.Session{}, fmt.Errorf("encode turn state: %w", err)
	}
	now := time.Now().UTC()
	sess := store.Session{
		ID:              uuid.NewString(),
		Topic:           in.Topic,
		Status:          engine.StatusLobby,
		TurnsPerSpeaker: in.TurnsPerSpeaker,
		MaxChars:        in.MaxChars,
		Difficulty:      in.Difficulty,
		TurnState:       in.TurnState.Clone(),
		CreatedAt:       now.Truncate(time.Millisecond),
		UpdatedAt:       now.Truncate(time.Millisecond),
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return store.Session{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, topic, status, turns_per_speaker, max_chars, difficulty, turn_state_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Topic, string(sess.Status), sess.TurnsPerSpeaker, sess.MaxChars, sess.Difficulty,
		string(turnState), toMillis(now), toMillis(now),
	)
	if err != nil {
		return store.Session{}, fmt.Errorf("insert session: %w", err)
	}
	for _, p := range in.Participants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO participants (session_id, seat, type, persona) VALUES (?, ?, ?, ?)`,
			sess.ID, string(p.Seat), string(p.Type), p.Persona,
		)
		if err != nil {
			return store.Session{}, fmt.Errorf("insert participant %s: %w", p.Seat, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Session{}, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, topic, status, turns_per_speaker, max_chars, difficulty, turn_state_json, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	var (
		sess              store.Session
		status, turnState string
		created, updated  int64
	)
	err := row.Scan(&sess.ID, &sess.Topic, &status, &sess.TurnsPerSpeaker, &sess.MaxChars, &sess.Difficulty,
		&turnState, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(turnState), &sess.TurnState); err != nil {
		return store.Session{}, fmt.Errorf("decode turn state: %w", err)
	}
	sess.Status = engine.Status(status)
	sess.CreatedAt = fromMillis(created)
	sess.UpdatedAt = fromMillis(updated)
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd store.SessionUpdate) error {
	if upd.Status == nil && upd.TurnState == nil {
		return nil
	}
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.TurnState != nil {
		b, err := json.Marshal(upd.TurnState)
		if err != nil {
			return fmt.Errorf("encode turn state: %w", err)
		}
		sets = append(sets, "turn_state_json = ?")
		args = append(args, string(b))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(time.Now()), id)

	res, err := s.sqlDB.ExecContext(ctx, "UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status <> ? ORDER BY created_at`, string(engine.StatusFinished))
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]store.Participant, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id, seat, type, persona FROM participants WHERE session_id = ? ORDER BY seat`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []store.Participant
	for rows.Next() {
		var p store.Participant
		var seat, typ string
		if err := rows.Scan(&p.SessionID, &seat, &typ, &p.Persona); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Seat = engine.Seat(seat)
		p.Type = engine.ParticipantType(typ)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, seat engine.Seat, text string, ts engine.TurnState) (store.Message, error) {
	turnState, err := json.Marshal(ts)
	if err != nil {
		return store.Message{}, fmt.Errorf("encode turn state: %w", err)
	}
	now := time.Now().UTC()
	msg := store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seat:      seat,
		TurnIndex: ts.TurnIndex,
		Text:      text,
		CreatedAt: now.Truncate(time.Millisecond),
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return store.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET turn_state_json = ?, updated_at = ? WHERE id = ?`,
		string(turnState), toMillis(now), sessionID,
	)
	if err != nil {
		return store.Message{}, fmt.Errorf("update turn state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Message{}, store.ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, seat, turn_index, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(seat), msg.TurnIndex, text, toMillis(now),
	)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, session_id, seat, turn_index, text, created_at
		 FROM messages WHERE session_id = ? ORDER BY turn_index ASC, created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var seat string
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &seat, &m.TurnIndex, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Seat = engine.Seat(seat)
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MessageTurnIndex(ctx context.Context, sessionID, messageID string) (int, error) {
	var idx int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT turn_index FROM messages WHERE session_id = ? AND id = ?`, sessionID, messageID).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("message turn index: %w", err)
	}
	return idx, nil
}

func (s *Store) SaveResult(ctx context.Context, r store.Result) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO results (session_id, pick_seat, confidence, why) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		r.SessionID, string(r.PickSeat), r.Confidence, r.Why,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrResultExists
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, sessionID string) (store.Result, error) {
	var r store.Result
	var seat string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT session_id, pick_seat, confidence, why FROM results WHERE session_id = ?`, sessionID).
		Scan(&r.SessionID, &seat, &r.Confidence, &r.Why)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Result{}, store.ErrNotFound
	}
	if err != nil {
		return store.Result{}, fmt.Errorf("get result: %w", err)
	}
	r.PickSeat = engine.Seat(seat)
	return r, nil
}
