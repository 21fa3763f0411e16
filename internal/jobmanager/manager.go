// Package jobmanager implements Component G: an in-memory FIFO job queue, a
// fixed worker pool gated by global and per-user concurrency limits, and the
// stable status read model served from persisted job records.
package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subtitleworks/core/internal/config"
	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/pipeline"
	"github.com/subtitleworks/core/internal/store"
	"github.com/subtitleworks/core/pkg/types"
)

const (
	// progressEventCap bounds each job's in-memory progress event ring buffer.
	progressEventCap = 30

	// progressEventReturn is how many of the most recent events serialize_status
	// (here, SerializeStatus) returns to callers.
	progressEventReturn = 12

	// pollIntervalMsHint is advertised to long-polling clients.
	pollIntervalMsHint = 1500
)

// Config holds all dependencies and tunables for a Manager.
type Config struct {
	JobManager config.JobManagerConfig
	// WorkRoot is the parent directory under which each job gets its own
	// WorkDir (WorkRoot/<job_id>).
	WorkRoot string
	Store    store.Store
	Runner   Runner
	Logger   *slog.Logger
	// Metrics records jobs_submitted_total and jobs_active. Defaults to
	// observe.DefaultMetrics() when nil.
	Metrics *observe.Metrics
}

// Manager owns the job queue, worker pool, and per-job state. All exported
// methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	active bool

	cfg      config.JobManagerConfig
	workRoot string
	store    store.Store
	runner   Runner
	log      *slog.Logger

	jobs         map[string]*types.Job
	queue        chan string
	activeTotal  int
	activeByUser map[string]int
	metrics      *observe.Metrics

	workersAlive atomic.Int32

	ctx     context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group
	closers []func() error
}

// New constructs a Manager, recovers any in-flight jobs from cfg.Store, and
// starts its worker pool and retention sweep loop.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("jobmanager: store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("jobmanager: runner is required")
	}

	jm := cfg.JobManager
	if jm.GlobalConcurrencyLimit <= 0 {
		jm.GlobalConcurrencyLimit = 3
	}
	if jm.PerUserConcurrencyLimit <= 0 {
		jm.PerUserConcurrencyLimit = 1
	}
	if jm.RequeueBackoffMs <= 0 {
		jm.RequeueBackoffMs = 200
	}
	if jm.RetentionDays <= 0 {
		jm.RetentionDays = 7
	}
	if jm.ConsumedRetentionMinutes <= 0 {
		jm.ConsumedRetentionMinutes = 10
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	m := &Manager{
		cfg:          jm,
		workRoot:     cfg.WorkRoot,
		store:        cfg.Store,
		runner:       cfg.Runner,
		log:          logger,
		metrics:      metrics,
		jobs:         make(map[string]*types.Job),
		queue:        make(chan string, 8192),
		activeByUser: make(map[string]int),
		ctx:          egCtx,
		cancel:       cancel,
		eg:           eg,
	}

	if err := m.recover(ctx); err != nil {
		cancel()
		return nil, err
	}

	m.active = true
	for i := 0; i < jm.GlobalConcurrencyLimit; i++ {
		m.eg.Go(m.workerLoop)
	}
	m.eg.Go(m.retentionLoop)

	m.closers = append(m.closers, func() error {
		cancel()
		return m.eg.Wait()
	})

	logger.Info("jobmanager started",
		"global_concurrency", jm.GlobalConcurrencyLimit,
		"per_user_concurrency", jm.PerUserConcurrencyLimit)
	return m, nil
}

// Close stops the worker pool and retention loop, waiting for in-flight
// workers to observe cancellation and exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	closers := m.closers
	m.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			m.log.Warn("jobmanager: closer failed", "error", err)
		}
	}
	m.log.Info("jobmanager stopped")
}

// recover loads every persisted job and fails any that were queued or
// running when the process last stopped: in-flight work is never assumed
// resumable across a restart, only explicit client re-submission is.
func (m *Manager) recover(ctx context.Context) error {
	all, err := m.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("jobmanager: recover: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range all {
		if job.Status == types.JobQueued || job.Status == types.JobRunning {
			now := time.Now()
			job.Status = types.JobFailed
			job.ErrorCode = pipeline.CodeServiceRestarted
			job.Error = "service restarted while job was in flight"
			job.Message = job.Error
			job.CompletedAt = &now
			job.UpdatedAt = now
			job.StatusRevision++
			if err := m.store.UpsertJob(ctx, job); err != nil {
				m.log.Warn("jobmanager: recover: persist recovered job", "job_id", job.JobID, "error", err)
			}
		}
		m.jobs[job.JobID] = job
	}
	return nil
}

func (m *Manager) workerAlive() bool { return m.workersAlive.Load() > 0 }
