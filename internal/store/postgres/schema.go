// Package postgres is the pgx/v5-backed implementation of store.Store,
// holding every job as a self-describing JSON payload in a single table.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id        TEXT    PRIMARY KEY,
    user_id       TEXT    NOT NULL,
    payload_json  TEXT    NOT NULL,
    created_at_ms BIGINT  NOT NULL,
    updated_at_ms BIGINT  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_updated
    ON jobs (user_id, updated_at_ms DESC);

CREATE INDEX IF NOT EXISTS idx_jobs_updated_at
    ON jobs (updated_at_ms);
`

// migrate ensures the jobs table and its indexes exist. Idempotent; safe to
// call on every startup.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlJobs); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}
