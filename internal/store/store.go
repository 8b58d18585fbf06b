package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// Run statuses persisted for pipeline runs.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the relational database holding users and derived artifacts.
// Uploaded source files are never persisted, only what the pipeline produced.
type Store struct {
	DB *sql.DB
}

// RunRecord is one persisted pipeline run with its derived artifacts.
type RunRecord struct {
	ID          string                `json:"id"`
	UserID      string                `json:"user_id"`
	Source      string                `json:"source"`
	Status      string                `json:"status"`
	FailedStage string                `json:"failed_stage,omitempty"`
	Error       string                `json:"error,omitempty"`
	Incomplete  bool                  `json:"incomplete"`
	Bundle      *pipeline.StudyBundle `json:"bundle,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, now())`,
		uuid.NewString(), email, passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash for an email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, hash, err
}

// CreateRun inserts a new run in running state and returns its id.
func (s *Store) CreateRun(ctx context.Context, userID, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, source, status, created_at) VALUES ($1, $2, $3, $4, now())`,
		id, userID, source, RunStatusRunning)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun records the terminal state of a run together with whatever
// bundle (possibly partial) the pipeline produced.
func (s *Store) FinishRun(ctx context.Context, id, status, failedStage, errMsg string, bundle *pipeline.StudyBundle) error {
	var bundleJSON []byte
	incomplete := false
	if bundle != nil {
		incomplete = bundle.Incomplete
		var err error
		bundleJSON, err = json.Marshal(bundle)
		if err != nil {
			return fmt.Errorf("marshal bundle: %w", err)
		}
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status = $2, failed_stage = NULLIF($3, ''), error = NULLIF($4, ''),
		        incomplete = $5, bundle = $6, finished_at = now()
		 WHERE id = $1`,
		id, status, failedStage, errMsg, incomplete, nullableJSON(bundleJSON))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun loads one run with its bundle.
func (s *Store) GetRun(ctx context.Context, id, userID string) (*RunRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, source, status, COALESCE(failed_stage, ''), COALESCE(error, ''),
		        incomplete, bundle, created_at, finished_at
		 FROM runs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanRun(row)
}

// ListRuns returns the caller's runs, newest first, without bundles.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, source, status, COALESCE(failed_stage, ''), COALESCE(error, ''),
		        incomplete, created_at, finished_at
		 FROM runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Source, &r.Status, &r.FailedStage, &r.Error,
			&r.Incomplete, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs older than the cutoff and reports how many
// rows went away. Used by the retention cleaner.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(row *sql.Row) (*RunRecord, error) {
	var (
		r          RunRecord
		bundleJSON []byte
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Source, &r.Status, &r.FailedStage, &r.Error,
		&r.Incomplete, &bundleJSON, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(bundleJSON) > 0 {
		var bundle pipeline.StudyBundle
		if err := json.Unmarshal(bundleJSON, &bundle); err != nil {
			return nil, fmt.Errorf("unmarshal bundle: %w", err)
		}
		r.Bundle = &bundle
	}
	return &r, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
