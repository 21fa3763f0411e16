package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subtitleworks/core/internal/store"
	"github.com/subtitleworks/core/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed job table, holding a single connection
// pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store, establishes a connection pool to dsn, and runs
// migrate to ensure the jobs table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// UpsertJob implements store.Store.
func (s *Store) UpsertJob(ctx context.Context, job *types.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("postgres store: marshal job: %w", err)
	}

	const q = `
		INSERT INTO jobs (job_id, user_id, payload_json, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			user_id       = excluded.user_id,
			payload_json  = excluded.payload_json,
			updated_at_ms = excluded.updated_at_ms`

	_, err = s.pool.Exec(ctx, q,
		job.JobID, job.UserID, string(payload),
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert job: %w", err)
	}
	return nil
}

// GetJob implements store.Store.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	const q = `SELECT payload_json FROM jobs WHERE job_id = $1`

	var payload string
	err := s.pool.QueryRow(ctx, q, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get job: %w", err)
	}
	return decodeJob(payload)
}

// ListJobsByUser implements store.Store.
func (s *Store) ListJobsByUser(ctx context.Context, userID string, limit int) ([]*types.Job, error) {
	q := `
		SELECT payload_json FROM jobs
		WHERE user_id = $1
		ORDER BY updated_at_ms DESC`
	args := []any{userID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres store: scan job: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list jobs: %w", err)
	}
	return jobs, nil
}

// ListAll implements store.Store.
func (s *Store) ListAll(ctx context.Context) ([]*types.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload_json FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list all: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres store: scan job: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list all: %w", err)
	}
	return jobs, nil
}

// DeleteJob implements store.Store.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("postgres store: delete job: %w", err)
	}
	return nil
}

// SweepOlderThan implements store.Store.
func (s *Store) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE updated_at_ms < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("postgres store: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close implements store.Store.
func (s *Store) Close() { s.pool.Close() }

func decodeJob(payload string) (*types.Job, error) {
	var job types.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal job: %w", err)
	}
	return &job, nil
}
