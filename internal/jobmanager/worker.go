package jobmanager

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/subtitleworks/core/internal/pipeline"
	"github.com/subtitleworks/core/pkg/types"
)

// workerLoop pulls job IDs off the queue, gates them on concurrency limits,
// and runs them to completion. Workers never share a job: at most one
// worker executes a given job at any time, enforced by activeTotal/
// activeByUser bookkeeping under m.mu.
//
// It runs under m.eg (an errgroup.Group): a recovered panic is returned as an
// error, which cancels m.ctx for every other worker and the retention loop,
// so the pool fails closed together instead of leaving a silently short-
// staffed pool behind.
func (m *Manager) workerLoop() (err error) {
	m.workersAlive.Add(1)
	defer m.workersAlive.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobmanager: worker panic: %v", r)
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case jobID := <-m.queue:
			m.runOne(jobID)
		}
	}
}

// runOne attempts to start jobID. If capacity isn't available it re-enqueues
// the job after a short backoff and returns, leaving it for the next
// available worker (possibly itself on a later pull).
func (m *Manager) runOne(jobID string) {
	job, started, userID := m.tryStart(jobID)
	if job == nil {
		return
	}
	if !started {
		select {
		case <-time.After(time.Duration(m.cfg.RequeueBackoffMs) * time.Millisecond):
		case <-m.ctx.Done():
			return
		}
		m.enqueue(jobID)
		return
	}

	defer func() {
		m.mu.Lock()
		m.activeTotal--
		if m.activeTotal < 0 {
			m.activeTotal = 0
		}
		if n := m.activeByUser[userID] - 1; n > 0 {
			m.activeByUser[userID] = n
		} else {
			delete(m.activeByUser, userID)
		}
		m.cleanupExpiredLocked()
		m.mu.Unlock()
	}()

	m.execute(job)
}

// tryStart claims jobID if capacity allows, transitioning it to running and
// persisting the transition. Returns (nil, false, "") if the job no longer
// exists or has been cancelled while queued.
func (m *Manager) tryStart(jobID string) (job *types.Job, started bool, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false, ""
	}
	if j.Status == types.JobCancelled || j.CancelRequested {
		return nil, false, ""
	}
	if !m.canStartLocked(j.UserID) {
		return j, false, ""
	}

	m.activeTotal++
	m.activeByUser[j.UserID]++

	now := time.Now()
	j.Status = types.JobRunning
	transitionStageLocked(j, "running", now)
	j.Message = "job started"
	j.Error = ""
	j.ErrorCode = ""
	j.ErrorDetail = nil
	j.SyncDiagnostics = types.SyncDiagnostics{}
	j.PartialResult = nil
	j.Result = nil
	j.ResultConsumed = false
	j.StartedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "running", Label: "job started"}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: "running", Percent: j.ProgressPercent, Message: "job started", Timestamp: now,
	})
	j.StatusRevision++

	if err := os.MkdirAll(j.WorkDir, 0o755); err != nil {
		m.log.Warn("jobmanager: create work dir failed", "job_id", jobID, "error", err)
	}
	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist job start failed", "job_id", jobID, "error", err)
	}
	return j, true, j.UserID
}

// execute runs job through the Runner and records its terminal outcome.
func (m *Manager) execute(job *types.Job) {
	report := func(percent int, stage, message string, detail *types.StageDetail) {
		m.updateProgress(job.JobID, percent, stage, message, detail)
	}
	shouldCancel := func() bool { return m.shouldCancelJob(job.JobID) }

	result, err := m.runner.Run(m.ctx, job, report, shouldCancel)
	if err == nil {
		m.finishCompleted(job, result)
		return
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		if stageErr.Code == pipeline.CodeCancelRequested || m.shouldCancelJob(job.JobID) {
			m.finishCancelled(job, stageErr)
			return
		}
		if stageErr.Code == pipeline.CodeLLMInvalidJSON {
			if partial, salvageErr := m.runner.Salvage(job); salvageErr == nil && partial != nil {
				m.finishCompletedWithPartial(job, partial, stageErr)
				return
			}
		}
		m.finishFailed(job, stageErr)
		return
	}

	if errors.Is(err, pipeline.ErrCancelled) || m.shouldCancelJob(job.JobID) {
		m.finishCancelled(job, pipeline.NewStageError(job.CurrentStage, pipeline.CodeCancelRequested, err))
		return
	}

	m.finishUnexpectedError(job, err)
}

func (m *Manager) finishCompleted(job *types.Job, result *types.Result) {
	m.mu.Lock()
	j, ok := m.jobs[job.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	j.Status = types.JobCompleted
	j.ProgressPercent = 100
	transitionStageLocked(j, pipeline.StageCompleted, now)
	j.Message = "job completed"
	j.Error = ""
	j.ErrorCode = ""
	j.ErrorDetail = nil
	j.Result = result
	j.PartialResult = nil
	if result != nil && j.SyncDiagnostics == (types.SyncDiagnostics{}) {
		j.SyncDiagnostics = syncDiagnosticsFromResult(result)
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "completed", Label: "job completed", Done: 100, Total: 100}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: "completed", Percent: 100, Message: "job completed", Timestamp: now,
	})
	j.StatusRevision++
	finalizeStageTrackingLocked(j, now)
	m.mu.Unlock()
	m.metrics.RecordJobFinished(m.ctx)

	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist completed job failed", "job_id", job.JobID, "error", err)
	}
	if j.SourceMode != types.SourceModeURL {
		removeWorkDirAsync(j.WorkDir, m.log)
	}
}

func (m *Manager) finishCompletedWithPartial(job *types.Job, partial *types.Result, cause *pipeline.StageError) {
	m.mu.Lock()
	j, ok := m.jobs[job.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	j.Status = types.JobCompleted
	j.ProgressPercent = 100
	transitionStageLocked(j, pipeline.StageCompleted, now)
	j.Message = "job completed with degraded output (translation output was invalid; base subtitles retained)"
	j.Error = ""
	j.ErrorCode = cause.Code
	j.ErrorDetail = cause
	j.Result = partial
	j.PartialResult = nil
	if j.SyncDiagnostics == (types.SyncDiagnostics{}) {
		j.SyncDiagnostics = syncDiagnosticsFromResult(partial)
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "completed_with_partial", Label: j.Message, Done: 100, Total: 100}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: "completed", Percent: 100, Message: j.Message, Timestamp: now,
	})
	j.StatusRevision++
	finalizeStageTrackingLocked(j, now)
	m.mu.Unlock()
	m.metrics.RecordJobFinished(m.ctx)

	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist partial-completed job failed", "job_id", job.JobID, "error", err)
	}
}

func (m *Manager) finishCancelled(job *types.Job, cause *pipeline.StageError) {
	m.mu.Lock()
	j, ok := m.jobs[job.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	j.Status = types.JobCancelled
	transitionStageLocked(j, "cancelled", now)
	j.Message = "job cancelled"
	j.Error = ""
	j.ErrorCode = pipeline.CodeCancelRequested
	j.ErrorDetail = cause
	j.SyncDiagnostics = types.SyncDiagnostics{}
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "cancelled", Label: "job cancelled", Done: 100, Total: 100}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: "cancelled", Percent: j.ProgressPercent, Message: "job cancelled", Timestamp: now,
	})
	j.StatusRevision++
	finalizeStageTrackingLocked(j, now)
	m.mu.Unlock()
	m.metrics.RecordJobFinished(m.ctx)

	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist cancelled job failed", "job_id", job.JobID, "error", err)
	}
}

func (m *Manager) finishFailed(job *types.Job, cause *pipeline.StageError) {
	partial, salvageErr := m.runner.Salvage(job)
	if salvageErr != nil {
		m.log.Warn("jobmanager: salvage failed", "job_id", job.JobID, "error", salvageErr)
		partial = nil
	}

	m.mu.Lock()
	j, ok := m.jobs[job.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	j.Status = types.JobFailed
	transitionStageLocked(j, cause.Stage, now)
	j.Message = cause.Message
	j.Error = cause.Message
	j.ErrorCode = cause.Code
	j.ErrorDetail = cause
	j.PartialResult = partial
	if partial != nil {
		if j.SyncDiagnostics == (types.SyncDiagnostics{}) {
			j.SyncDiagnostics = syncDiagnosticsFromResult(partial)
		}
	} else {
		j.SyncDiagnostics = types.SyncDiagnostics{}
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "failed", Label: cause.Message, Done: 100, Total: 100}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: cause.Stage, Percent: j.ProgressPercent, Message: cause.Message, Timestamp: now,
	})
	j.StatusRevision++
	finalizeStageTrackingLocked(j, now)
	m.mu.Unlock()
	m.metrics.RecordJobFinished(m.ctx)

	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist failed job failed", "job_id", job.JobID, "error", err)
	}
}

func (m *Manager) finishUnexpectedError(job *types.Job, cause error) {
	m.mu.Lock()
	j, ok := m.jobs[job.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	j.Status = types.JobFailed
	transitionStageLocked(j, "pipeline", now)
	j.Message = "job failed unexpectedly"
	j.Error = cause.Error()
	j.ErrorCode = pipeline.CodePipelineUnexpectedError
	j.ErrorDetail = map[string]string{"stage": "pipeline", "code": pipeline.CodePipelineUnexpectedError, "message": cause.Error()}
	j.SyncDiagnostics = types.SyncDiagnostics{}
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.StageDetail = types.StageDetail{Key: "failed", Label: j.Message, Done: 100, Total: 100}
	j.ProgressEvents = appendProgressEvent(j.ProgressEvents, types.ProgressEvent{
		Stage: "pipeline", Percent: j.ProgressPercent, Message: j.Message, Timestamp: now,
	})
	j.StatusRevision++
	finalizeStageTrackingLocked(j, now)
	m.mu.Unlock()
	m.metrics.RecordJobFinished(m.ctx)

	m.log.Error("jobmanager: job failed unexpectedly", "job_id", job.JobID, "error", cause)
	if err := m.store.UpsertJob(m.ctx, j); err != nil {
		m.log.Warn("jobmanager: persist unexpected-failure job failed", "job_id", job.JobID, "error", err)
	}
}

// syncDiagnosticsFromResult is a fallback used only when the job still has
// zero-value SyncDiagnostics by the time a run finishes. The normal path sets
// Job.SyncDiagnostics directly during align_and_build (it carries scale/
// offset/score data Result doesn't), so this is never expected to produce a
// non-zero value today; it exists so a future Result field would be picked
// up automatically without touching the call sites above.
func syncDiagnosticsFromResult(result *types.Result) types.SyncDiagnostics {
	return types.SyncDiagnostics{}
}

func removeWorkDirAsync(dir string, log interface{ Warn(string, ...any) }) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("jobmanager: remove work dir failed", "dir", dir, "error", err)
	}
}
