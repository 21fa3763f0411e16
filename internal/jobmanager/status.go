package jobmanager

import (
	"sort"
	"strings"
	"time"

	"github.com/subtitleworks/core/internal/pipeline"
	"github.com/subtitleworks/core/pkg/types"
)

// GetStatus returns a copy of jobID's current record, scoped to userID when
// non-empty (a mismatched owner is treated as not found). Each call first
// runs the retention sweep.
func (m *Manager) GetStatus(jobID, userID string) (*types.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	if userID != "" && job.UserID != normalizeUserID(userID) {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// StatusView is the stable read model returned by SerializeStatus: the same
// job fields a client polls on, plus derived fields that only make sense at
// read time (queue position, worker liveness, live-elapsed stage duration).
type StatusView struct {
	Job types.Job

	QueueAhead         int
	WorkerAlive        bool
	TotalDurationMs    int64
	PollIntervalMsHint int
}

// SerializeStatus builds the client-facing status payload for job: queue
// position (only meaningful while queued), worker liveness, accumulated
// stage durations with the live in-progress elapsed time folded in, and the
// translation-model display remap ("llm_translate" -> "translate_chunks")
// when the user requested the qwen-mt-flash direct-translation model.
func (m *Manager) SerializeStatus(job *types.Job) StatusView {
	m.mu.Lock()

	remap := job.Options.LLMModel == "qwen-mt-flash"

	view := StatusView{
		WorkerAlive:        m.workerAlive(),
		PollIntervalMsHint: pollIntervalMsHint,
	}

	out := *job
	out.CurrentStage = displayStage(job.CurrentStage, remap)

	if job.Status == types.JobQueued {
		ahead := 0
		ordered := make([]*types.Job, 0, len(m.jobs))
		for _, j := range m.jobs {
			ordered = append(ordered, j)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })
		for _, j := range ordered {
			if j.JobID == job.JobID {
				break
			}
			if j.Status == types.JobQueued || j.Status == types.JobRunning {
				ahead++
			}
		}
		view.QueueAhead = ahead
		if ahead > 0 {
			out.Message = "job queued, position in line: " + itoa(ahead)
		} else {
			out.Message = "job starting soon"
		}
	}

	mergedDurations := map[string]int64{}
	seenStage := map[string]bool{}
	var stageOrder []string
	for _, stage := range job.StageHistory {
		s := displayStage(stage, remap)
		if !seenStage[s] {
			seenStage[s] = true
			stageOrder = append(stageOrder, s)
		}
	}
	if !seenStage[out.CurrentStage] {
		seenStage[out.CurrentStage] = true
		stageOrder = append(stageOrder, out.CurrentStage)
	}
	for stage, ms := range job.StageDurationsMs {
		s := displayStage(stage, remap)
		mergedDurations[s] += ms
	}
	for _, s := range stageOrder {
		if _, ok := mergedDurations[s]; !ok {
			mergedDurations[s] = 0
		}
	}
	if !job.StageStartedAt.IsZero() && (job.Status == types.JobQueued || job.Status == types.JobRunning) {
		live := time.Since(job.StageStartedAt).Milliseconds()
		if live > 0 {
			mergedDurations[out.CurrentStage] += live
		}
	}
	out.StageHistory = stageOrder
	out.StageDurationsMs = mergedDurations

	completedAt := time.Now()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	view.TotalDurationMs = completedAt.Sub(job.CreatedAt).Milliseconds()

	detail := job.StageDetail
	detail.Key = displayStage(detail.Key, remap)
	detail.Label = displayMessage(detail.Label, remap)
	out.StageDetail = detail

	events := make([]types.ProgressEvent, 0, progressEventReturn)
	start := len(job.ProgressEvents) - progressEventReturn
	if start < 0 {
		start = 0
	}
	for _, ev := range job.ProgressEvents[start:] {
		ev.Stage = displayStage(ev.Stage, remap)
		ev.Message = displayMessage(ev.Message, remap)
		events = append(events, ev)
	}
	out.ProgressEvents = events
	out.Message = displayMessage(out.Message, remap)

	needsSalvage := out.Status == types.JobFailed && out.PartialResult == nil
	m.mu.Unlock()

	if needsSalvage {
		if partial, err := m.runner.Salvage(job); err == nil && partial != nil {
			m.mu.Lock()
			job.PartialResult = partial
			m.mu.Unlock()
			out.PartialResult = partial
		}
	}

	view.Job = out
	return view
}

// displayStage remaps the internal "llm_translate" stage name to
// "translate_chunks" when a direct-translation model was requested (the
// direct strategy sends its completions to a dedicated translation model
// such as qwen-mt-flash, so the generic "llm" label would mislead the client).
func displayStage(stage string, remap bool) string {
	if remap && stage == pipeline.StageLLMTranslate {
		return "translate_chunks"
	}
	return stage
}

// displayMessage rewrites "LLM" wording in client-facing messages when a
// direct-translation model was requested.
func displayMessage(message string, remap bool) string {
	if !remap || !strings.Contains(message, "LLM") {
		return message
	}
	return strings.ReplaceAll(message, "LLM", "translation model")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ConsumeResult returns job's result exactly once: the first caller gets it
// and marks the job consumed; every subsequent call returns (nil, false).
// Non-URL work dirs are deleted immediately since nothing else needs them;
// URL work dirs are retained until the retention sweep, since the client
// may still fetch the downloaded source video.
func (m *Manager) ConsumeResult(jobID, userID string) (*types.Result, bool) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != types.JobCompleted || job.Result == nil || job.ResultConsumed {
		m.mu.Unlock()
		return nil, false
	}
	if userID != "" && job.UserID != normalizeUserID(userID) {
		m.mu.Unlock()
		return nil, false
	}
	result := job.Result
	job.ResultConsumed = true
	job.UpdatedAt = time.Now()
	m.mu.Unlock()

	if err := m.store.UpsertJob(m.ctx, job); err != nil {
		m.log.Warn("jobmanager: persist result-consumed failed", "job_id", jobID, "error", err)
	}
	if job.SourceMode != types.SourceModeURL {
		removeWorkDirAsync(job.WorkDir, m.log)
	}
	return result, true
}

// CancelJob requests cancellation of jobID. A queued job is cancelled
// synchronously; a running job is flagged cancel_requested and finalized by
// its worker at the next checkpoint.
func (m *Manager) CancelJob(jobID, userID string) (types.JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return "", false
	}
	if userID != "" && job.UserID != normalizeUserID(userID) {
		return "", false
	}
	if job.Status.Terminal() {
		return job.Status, true
	}
	if job.Status == types.JobQueued {
		now := time.Now()
		job.Status = types.JobCancelled
		transitionStageLocked(job, "cancelled", now)
		job.Message = "job cancelled"
		job.ErrorCode = pipeline.CodeCancelRequested
		job.CompletedAt = &now
		job.UpdatedAt = now
		job.StatusRevision++
		finalizeStageTrackingLocked(job, now)
		if err := m.store.UpsertJob(m.ctx, job); err != nil {
			m.log.Warn("jobmanager: persist queued-cancel failed", "job_id", jobID, "error", err)
		}
		return types.JobCancelled, true
	}

	job.CancelRequested = true
	job.CurrentStage = pipeline.StageCancelling
	job.Message = "cancellation requested"
	job.UpdatedAt = time.Now()
	job.StatusRevision++
	if err := m.store.UpsertJob(m.ctx, job); err != nil {
		m.log.Warn("jobmanager: persist cancel-request failed", "job_id", jobID, "error", err)
	}
	return types.JobRunning, true
}

// DeleteJob removes jobID's record outright (used after a client has
// acknowledged a terminal job and no longer needs its status polled).
func (m *Manager) DeleteJob(jobID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return false
	}
	if userID != "" && job.UserID != normalizeUserID(userID) {
		return false
	}
	delete(m.jobs, jobID)
	removeWorkDirAsync(job.WorkDir, m.log)
	if err := m.store.DeleteJob(m.ctx, jobID); err != nil {
		m.log.Warn("jobmanager: delete persisted job failed", "job_id", jobID, "error", err)
	}
	return true
}
