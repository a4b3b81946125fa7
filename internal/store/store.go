package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tveshas/quizagent/internal/solver"
)

// Store archives quiz sessions in Postgres. It satisfies
// solver.SessionStore, so deployments that want durable history can use it
// as the primary store; others pair it with Redis and archive only
// terminal sessions.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection pool.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Save upserts a session snapshot.
func (s *Store) Save(ctx context.Context, sess *solver.QuizSession) error {
	rounds, err := json.Marshal(sess.Rounds)
	if err != nil {
		return fmt.Errorf("encode rounds: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO quiz_sessions (id, email, start_url, current_url, outcome, error, rounds, elapsed_ms, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			current_url = EXCLUDED.current_url,
			outcome     = EXCLUDED.outcome,
			error       = EXCLUDED.error,
			rounds      = EXCLUDED.rounds,
			elapsed_ms  = EXCLUDED.elapsed_ms,
			updated_at  = EXCLUDED.updated_at`,
		sess.ID, sess.Email, sess.StartURL, sess.CurrentURL,
		string(sess.Outcome), nullable(sess.Error), rounds,
		sess.Elapsed.Milliseconds(), sess.StartedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// Get loads one session by id.
func (s *Store) Get(ctx context.Context, id string) (*solver.QuizSession, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, email, start_url, current_url, outcome, COALESCE(error, ''), rounds, elapsed_ms, started_at, updated_at
		FROM quiz_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

// List returns the most recently updated sessions.
func (s *Store) List(ctx context.Context, limit int) ([]*solver.QuizSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, email, start_url, current_url, outcome, COALESCE(error, ''), rounds, elapsed_ms, started_at, updated_at
		FROM quiz_sessions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*solver.QuizSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*solver.QuizSession, error) {
	var (
		sess      solver.QuizSession
		outcome   string
		rounds    []byte
		elapsedMS int64
	)
	err := row.Scan(&sess.ID, &sess.Email, &sess.StartURL, &sess.CurrentURL,
		&outcome, &sess.Error, &rounds, &elapsedMS, &sess.StartedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Outcome = solver.Outcome(outcome)
	sess.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if len(rounds) > 0 {
		if err := json.Unmarshal(rounds, &sess.Rounds); err != nil {
			return nil, fmt.Errorf("decode rounds: %w", err)
		}
	}
	return &sess, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
