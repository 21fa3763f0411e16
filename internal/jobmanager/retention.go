package jobmanager

import (
	"fmt"
	"time"

	"github.com/subtitleworks/core/pkg/types"
)

// retentionSweepInterval is how often the background retention loop checks
// for expired jobs, independent of the opportunistic sweep workers trigger
// after finishing a job.
const retentionSweepInterval = time.Minute

// retentionLoop periodically sweeps terminal jobs past their retention
// window. Status polls also trigger an opportunistic sweep via
// cleanupExpiredLocked, so this loop mainly covers idle periods with no
// active traffic.
//
// It runs under m.eg alongside the worker pool; a recovered panic here
// cancels m.ctx for every worker too, matching workerLoop's fail-together
// behavior.
func (m *Manager) retentionLoop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobmanager: retention loop panic: %v", r)
		}
	}()

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			m.mu.Lock()
			m.cleanupExpiredLocked()
			m.mu.Unlock()
		}
	}
}

// cleanupExpiredLocked removes jobs past their retention window: failed or
// cancelled jobs older than RetentionDays, and consumed jobs older than
// ConsumedRetentionMinutes. Caller holds m.mu.
func (m *Manager) cleanupExpiredLocked() {
	now := time.Now()
	expireTerminal := now.Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
	expireConsumed := now.Add(-time.Duration(m.cfg.ConsumedRetentionMinutes) * time.Minute)

	var expired []*types.Job
	for id, job := range m.jobs {
		switch {
		case (job.Status == types.JobFailed || job.Status == types.JobCancelled) && job.UpdatedAt.Before(expireTerminal):
			expired = append(expired, job)
			delete(m.jobs, id)
		case job.ResultConsumed && job.UpdatedAt.Before(expireConsumed):
			expired = append(expired, job)
			delete(m.jobs, id)
		}
	}

	for _, job := range expired {
		removeWorkDirAsync(job.WorkDir, m.log)
		if err := m.store.DeleteJob(m.ctx, job.JobID); err != nil {
			m.log.Warn("jobmanager: retention delete failed", "job_id", job.JobID, "error", err)
		}
	}
}
