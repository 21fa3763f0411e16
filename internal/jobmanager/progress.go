package jobmanager

import (
	"time"

	"github.com/subtitleworks/core/pkg/types"
)

// appendProgressEvent appends ev to events, coalescing with the last entry
// when stage, message, and percent are unchanged (only the timestamp moves),
// and trims the buffer to progressEventCap.
func appendProgressEvent(events []types.ProgressEvent, ev types.ProgressEvent) []types.ProgressEvent {
	if n := len(events); n > 0 {
		last := &events[n-1]
		if last.Stage == ev.Stage && last.Message == ev.Message && last.Percent == ev.Percent {
			last.Timestamp = ev.Timestamp
			return events
		}
	}
	events = append(events, ev)
	if len(events) > progressEventCap {
		events = events[len(events)-progressEventCap:]
	}
	return events
}

// closeActiveStageLocked accumulates elapsed time for job's current stage
// into StageDurationsMs and resets StageStartedAt to now. Caller holds m.mu.
func closeActiveStageLocked(job *types.Job, now time.Time) {
	if job.StageStartedAt.IsZero() {
		job.StageStartedAt = now
		return
	}
	stage := job.CurrentStage
	if stage == "" {
		stage = "queued"
	}
	elapsed := now.Sub(job.StageStartedAt).Milliseconds()
	if elapsed > 0 {
		if job.StageDurationsMs == nil {
			job.StageDurationsMs = map[string]int64{}
		}
		job.StageDurationsMs[stage] += elapsed
	}
	job.StageStartedAt = now
}

// transitionStageLocked moves job to nextStage, closing out the previous
// stage's accumulated duration first when the stage actually changes.
// Caller holds m.mu.
func transitionStageLocked(job *types.Job, nextStage string, now time.Time) {
	if nextStage == "" {
		nextStage = job.CurrentStage
	}
	if job.CurrentStage == "" {
		job.CurrentStage = nextStage
	}
	if job.CurrentStage != nextStage {
		closeActiveStageLocked(job, now)
		job.CurrentStage = nextStage
	}
	ensureStageEntry(job, nextStage)
	if job.StageStartedAt.IsZero() {
		job.StageStartedAt = now
	}
}

func ensureStageEntry(job *types.Job, stage string) {
	found := false
	for _, s := range job.StageHistory {
		if s == stage {
			found = true
			break
		}
	}
	if !found {
		job.StageHistory = append(job.StageHistory, stage)
	}
	if job.StageDurationsMs == nil {
		job.StageDurationsMs = map[string]int64{}
	}
	if _, ok := job.StageDurationsMs[stage]; !ok {
		job.StageDurationsMs[stage] = 0
	}
}

// finalizeStageTrackingLocked closes out whatever stage was active and
// clears StageStartedAt, called once a job reaches a terminal state.
// Caller holds m.mu.
func finalizeStageTrackingLocked(job *types.Job, now time.Time) {
	closeActiveStageLocked(job, now)
	job.StageStartedAt = time.Time{}
}

// updateProgress is the single mutation point for in-flight progress
// reporting: it advances the stage, percent, message, and detail, appends a
// progress event, bumps the status revision, and persists the job. A no-op
// once the job has been cancelled.
func (m *Manager) updateProgress(jobID string, percent int, stage, message string, detail *types.StageDetail) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status == types.JobCancelled || job.CancelRequested {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	transitionStageLocked(job, stage, now)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	job.ProgressPercent = percent
	job.Message = message
	job.UpdatedAt = now
	if detail != nil {
		d := *detail
		d.Key = stage
		job.StageDetail = d
	} else {
		job.StageDetail = types.StageDetail{Key: stage, Label: message}
	}
	job.ProgressEvents = appendProgressEvent(job.ProgressEvents, types.ProgressEvent{
		Stage: stage, Percent: percent, Message: message, Timestamp: now,
	})
	job.StatusRevision++
	m.mu.Unlock()

	if err := m.store.UpsertJob(m.ctx, job); err != nil {
		m.log.Warn("jobmanager: persist progress update failed", "job_id", jobID, "error", err)
	}
}

// shouldCancelJob reports whether jobID has been asked to stop. A missing
// job is treated as cancelled: there's nothing left to run for.
func (m *Manager) shouldCancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return true
	}
	return job.CancelRequested || job.Status == types.JobCancelled
}
