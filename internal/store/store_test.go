package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/subtitleworks/core/internal/store"
	"github.com/subtitleworks/core/internal/store/mock"
	"github.com/subtitleworks/core/pkg/types"
)

func TestStore_UpsertThenGet(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	now := time.Now()
	job := &types.Job{JobID: "j1", UserID: "u1", CreatedAt: now, UpdatedAt: now}

	if err := s.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobID != "j1" || got.UserID != "u1" {
		t.Fatalf("got %+v", got)
	}
}

func TestStore_GetMissingReturnsErrJobNotFound(t *testing.T) {
	s := mock.New()
	_, err := s.GetJob(context.Background(), "missing")
	if !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_ListJobsByUser_OrderedAndLimited(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 3; i++ {
		s.UpsertJob(ctx, &types.Job{
			JobID:     string(rune('a' + i)),
			UserID:    "u1",
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	s.UpsertJob(ctx, &types.Job{JobID: "other", UserID: "u2", UpdatedAt: base})

	jobs, err := s.ListJobsByUser(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected limit=2, got %d", len(jobs))
	}
	if jobs[0].JobID != "c" {
		t.Fatalf("expected most-recently-updated first, got %q", jobs[0].JobID)
	}
}

func TestStore_DeleteJob(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	s.UpsertJob(ctx, &types.Job{JobID: "j1", UserID: "u1"})
	if err := s.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, "j1"); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected job gone after delete, got %v", err)
	}
}

func TestStore_SweepOlderThan(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	now := time.Now()
	s.UpsertJob(ctx, &types.Job{JobID: "old", UserID: "u1", UpdatedAt: now.Add(-48 * time.Hour)})
	s.UpsertJob(ctx, &types.Job{JobID: "new", UserID: "u1", UpdatedAt: now})

	removed, err := s.SweepOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.GetJob(ctx, "new"); err != nil {
		t.Fatalf("recent job should survive sweep: %v", err)
	}
}

func TestStore_MutatingCallerJobDoesNotAffectStoredCopy(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	job := &types.Job{JobID: "j1", UserID: "u1", Message: "initial"}
	s.UpsertJob(ctx, job)
	job.Message = "mutated after upsert"

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Message != "initial" {
		t.Fatalf("expected stored copy unaffected by later mutation, got %q", got.Message)
	}
}
