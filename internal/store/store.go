// Package store defines the job persistence interface (Component J) and its
// concrete implementations: a pgx/v5-backed Postgres store for production
// and an in-memory store for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/subtitleworks/core/pkg/types"
)

// ErrJobNotFound is returned by GetJob when job_id has no row.
var ErrJobNotFound = errors.New("store: job not found")

// Store persists Job records keyed by JobID, with payload_json holding the
// full self-describing Job so no schema versioning is required.
type Store interface {
	// UpsertJob inserts or replaces the row for job.JobID.
	UpsertJob(ctx context.Context, job *types.Job) error

	// GetJob returns the job with jobID, or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*types.Job, error)

	// ListJobsByUser returns userID's jobs ordered by updated_at descending,
	// capped at limit (0 means no cap).
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]*types.Job, error)

	// ListAll returns every job row, in no particular order. Used once at
	// startup to recover in-flight jobs after a process restart.
	ListAll(ctx context.Context) ([]*types.Job, error)

	// DeleteJob removes jobID's row. It is not an error if no row existed.
	DeleteJob(ctx context.Context, jobID string) error

	// SweepOlderThan deletes every job whose UpdatedAt is before cutoff,
	// returning the number of rows removed.
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases any held resources.
	Close()
}
