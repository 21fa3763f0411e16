package jobmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/subtitleworks/core/pkg/types"
)

// CapacityResult is the answer to CheckSubmitCapacity.
type CapacityResult struct {
	OK bool

	// Code is "user_concurrency_limit" or "global_concurrency_limit" when
	// OK is false; the HTTP layer maps these to 409 and 429 respectively.
	Code            string
	Message         string
	ActiveJobID     string
	ActiveJobStatus types.JobStatus
	ActiveCount     int
	UserActiveCount int
}

func newJobID() string { return uuid.New().String() }

// createJob builds and enqueues a job record of the given kind, persists its
// initial state, and queues it for a worker to pick up.
func (m *Manager) createJob(ctx context.Context, kind types.JobKind, source types.SourceMode, userID, videoPath, sourceURL string, opts types.Options) (*types.Job, error) {
	userID = normalizeUserID(userID)
	now := time.Now()
	jobID := newJobID()
	workDir := filepath.Join(m.workRoot, jobID)

	job := &types.Job{
		JobID:           jobID,
		UserID:          userID,
		Kind:            kind,
		SourceMode:      source,
		WorkDir:         workDir,
		VideoPath:       videoPath,
		SourceURL:       sourceURL,
		Options:         opts,
		Status:          types.JobQueued,
		ProgressPercent: 0,
		CurrentStage:    "queued",
		Message:         "job queued",
		CreatedAt:       now,
		UpdatedAt:       now,
		StageDurationsMs: map[string]int64{"queued": 0},
		StageHistory:     []string{"queued"},
		StageStartedAt:   now,
		StageDetail: types.StageDetail{
			Key:   "queued",
			Label: "job queued",
		},
		StatusRevision: 1,
	}
	job.ProgressEvents = appendProgressEvent(nil, types.ProgressEvent{
		Stage: "queued", Percent: 0, Message: "job queued", Timestamp: now,
	})

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	if err := m.store.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobmanager: create job: %w", err)
	}
	m.metrics.RecordJobSubmitted(ctx, string(kind))
	m.enqueue(jobID)
	return job, nil
}

// CreateFileJob registers a full pipeline job for an already-materialized
// video file.
func (m *Manager) CreateFileJob(ctx context.Context, userID, videoPath string, opts types.Options) (*types.Job, error) {
	return m.createJob(ctx, types.JobKindFull, types.SourceModeFile, userID, videoPath, "", opts)
}

// CreateURLJob registers a job whose source media must first be ingested
// from sourceURL by the URL ingestion cache (Component H), via the
// download_source stage.
func (m *Manager) CreateURLJob(ctx context.Context, userID, sourceURL string, opts types.Options) (*types.Job, error) {
	return m.createJob(ctx, types.JobKindURL, types.SourceModeURL, userID, "", sourceURL, opts)
}

// CreateResumeJob registers a job that resumes from already-transcribed
// sentences and word segments, skipping extract_audio and asr entirely.
func (m *Manager) CreateResumeJob(ctx context.Context, userID string, sentences []types.Sentence, wordSegments []types.WordSegment, opts types.Options) (*types.Job, error) {
	job, err := m.createJob(ctx, types.JobKindResume, types.SourceModeResume, userID, "", "", opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	job.ResumeSentences = sentences
	job.ResumeWordSegments = wordSegments
	m.mu.Unlock()
	if err := m.store.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobmanager: create resume job: %w", err)
	}
	return job, nil
}

// enqueue pushes jobID onto the queue for a worker to pick up. It is also
// used to re-enqueue a job that lost the capacity race.
func (m *Manager) enqueue(jobID string) {
	select {
	case m.queue <- jobID:
	case <-m.ctx.Done():
	}
}

// canStartLocked reports whether a job belonging to userID may start now,
// given the global and per-user concurrency limits. Caller holds m.mu.
func (m *Manager) canStartLocked(userID string) bool {
	if m.activeTotal >= m.cfg.GlobalConcurrencyLimit {
		return false
	}
	return m.activeByUser[userID] < m.cfg.PerUserConcurrencyLimit
}

// CheckSubmitCapacity answers whether userID may submit a new job right now,
// without actually creating one. The HTTP layer uses this to return 409
// (user limit) or 429 (global limit) ahead of an otherwise-wasted upload.
func (m *Manager) CheckSubmitCapacity(userID string) CapacityResult {
	userID = normalizeUserID(userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	var active, userActive []*types.Job
	for _, job := range m.jobs {
		if job.Status == types.JobQueued || job.Status == types.JobRunning {
			active = append(active, job)
			if job.UserID == userID {
				userActive = append(userActive, job)
			}
		}
	}

	if len(userActive) >= m.cfg.PerUserConcurrencyLimit {
		latest := mostRecentlyCreated(userActive)
		return CapacityResult{
			OK:              false,
			Code:            "user_concurrency_limit",
			Message:         fmt.Sprintf("this user may have at most %d job(s) in flight", m.cfg.PerUserConcurrencyLimit),
			ActiveJobID:     latest.JobID,
			ActiveJobStatus: latest.Status,
			UserActiveCount: len(userActive),
			ActiveCount:     len(active),
		}
	}
	if len(active) >= m.cfg.GlobalConcurrencyLimit {
		return CapacityResult{
			OK:              false,
			Code:            "global_concurrency_limit",
			Message:         fmt.Sprintf("global job capacity reached (%d)", m.cfg.GlobalConcurrencyLimit),
			ActiveCount:     len(active),
			UserActiveCount: len(userActive),
		}
	}
	return CapacityResult{OK: true, ActiveCount: len(active), UserActiveCount: len(userActive)}
}

// FindActiveJob returns the most recently created queued-or-running job for
// userID (or across all users if userID is empty), or nil.
func (m *Manager) FindActiveJob(userID string) *types.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*types.Job
	for _, job := range m.jobs {
		if job.Status != types.JobQueued && job.Status != types.JobRunning {
			continue
		}
		if userID != "" && job.UserID != normalizeUserID(userID) {
			continue
		}
		active = append(active, job)
	}
	if len(active) == 0 {
		return nil
	}
	cp := *mostRecentlyCreated(active)
	return &cp
}

func mostRecentlyCreated(jobs []*types.Job) *types.Job {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs[0]
}

func normalizeUserID(userID string) string {
	if userID == "" {
		return "legacy"
	}
	return userID
}
