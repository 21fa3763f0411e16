package jobmanager_test

import (
	"context"
	"testing"
	"time"

	"github.com/subtitleworks/core/internal/config"
	"github.com/subtitleworks/core/internal/jobmanager"
	"github.com/subtitleworks/core/internal/store/mock"
	"github.com/subtitleworks/core/pkg/types"
)

type fakeRunner struct {
	run func(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error) {
	return f.run(ctx, job, report, shouldCancel)
}

func (f *fakeRunner) Salvage(job *types.Job) (*types.Result, error) { return nil, nil }

func newTestManager(t *testing.T, runner jobmanager.Runner) *jobmanager.Manager {
	t.Helper()
	m, err := jobmanager.New(jobmanager.Config{
		JobManager: config.JobManagerConfig{
			GlobalConcurrencyLimit:   2,
			PerUserConcurrencyLimit:  1,
			RequeueBackoffMs:         20,
			RetentionDays:            7,
			ConsumedRetentionMinutes: 10,
		},
		WorkRoot: t.TempDir(),
		Store:    mock.New(),
		Runner:   runner,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitForStatus(t *testing.T, m *jobmanager.Manager, jobID string, want types.JobStatus, timeout time.Duration) *types.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, ok := m.GetStatus(jobID, "")
		if ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s in time", jobID, want)
	return nil
}

func TestManager_CreateFileJob_CompletesAndConsumableOnce(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error) {
		report(50, "asr", "transcribing", nil)
		return &types.Result{Subtitles: []types.Subtitle{{ID: 1, Index: 0, Start: 0, End: 1, Text: "hi"}}}, nil
	}}
	m := newTestManager(t, runner)

	job, err := m.CreateFileJob(context.Background(), "user-1", "/tmp/video.mp4", types.Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	waitForStatus(t, m, job.JobID, types.JobCompleted, time.Second)

	result, ok := m.ConsumeResult(job.JobID, "user-1")
	if !ok || result == nil {
		t.Fatalf("expected consumable result, got ok=%v result=%v", ok, result)
	}
	if _, ok := m.ConsumeResult(job.JobID, "user-1"); ok {
		t.Fatalf("expected second consume to report already-consumed")
	}
}

func TestManager_CancelQueuedJob_TransitionsImmediately(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error) {
		<-block
		return &types.Result{}, nil
	}}
	m := newTestManager(t, runner)
	defer close(block)

	running, err := m.CreateFileJob(context.Background(), "user-1", "/tmp/a.mp4", types.Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	waitForStatus(t, m, running.JobID, types.JobRunning, time.Second)

	queued, err := m.CreateFileJob(context.Background(), "user-1", "/tmp/b.mp4", types.Options{})
	if err != nil {
		t.Fatalf("create second job: %v", err)
	}

	status, ok := m.CancelJob(queued.JobID, "user-1")
	if !ok || status != types.JobCancelled {
		t.Fatalf("expected immediate cancellation, got ok=%v status=%v", ok, status)
	}
}

func TestManager_CheckSubmitCapacity_RejectsOverUserLimit(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error) {
		<-block
		return &types.Result{}, nil
	}}
	m := newTestManager(t, runner)
	defer close(block)

	job, err := m.CreateFileJob(context.Background(), "user-1", "/tmp/a.mp4", types.Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	waitForStatus(t, m, job.JobID, types.JobRunning, time.Second)

	capResult := m.CheckSubmitCapacity("user-1")
	if capResult.OK || capResult.Code != "user_concurrency_limit" {
		t.Fatalf("expected user_concurrency_limit rejection, got %+v", capResult)
	}
}

func TestManager_SerializeStatus_RemapsStageForQwenMTFlash(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, job *types.Job, report jobmanager.ProgressFunc, shouldCancel jobmanager.ShouldCancelFunc) (*types.Result, error) {
		report(80, "llm_translate", "running LLM direct translation", nil)
		<-block
		return &types.Result{}, nil
	}}
	m := newTestManager(t, runner)
	defer close(block)

	job, err := m.CreateFileJob(context.Background(), "user-1", "/tmp/a.mp4", types.Options{LLMModel: "qwen-mt-flash"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	waitForStatus(t, m, job.JobID, types.JobRunning, time.Second)

	var view jobmanager.StatusView
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		current, _ := m.GetStatus(job.JobID, "")
		view = m.SerializeStatus(current)
		if view.Job.CurrentStage == "translate_chunks" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if view.Job.CurrentStage != "translate_chunks" {
		t.Fatalf("expected remapped stage translate_chunks, got %q", view.Job.CurrentStage)
	}
	if view.Job.Message != "running translation model direct translation" {
		t.Fatalf("expected LLM wording rewritten, got %q", view.Job.Message)
	}
}
