package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

func TestJobs_InsertGetUpdate(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	job := domain.Job{
		ID:            "job-1",
		Identity:      "alice",
		Feature:       "writing",
		Tier:          "long",
		Input:         map[string]any{"prompt": "hello"},
		Status:        domain.JobQueued,
		ReservationID: "res-1",
		CreatedAt:     now,
	}
	if err := db.InsertJob(job); err != nil {
		t.Fatalf("InsertJob() error: %v", err)
	}

	got, err := db.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != domain.JobQueued || got.Feature != "writing" || got.Input["prompt"] != "hello" {
		t.Errorf("job = %+v", got)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("timestamps should be nil before running")
	}

	started := now.Add(time.Second)
	done := now.Add(2 * time.Second)
	job.Status = domain.JobCompleted
	job.PointsCharged = 50
	job.Result = []byte("essay")
	job.ResultHash = domain.SHA256Hex(job.Result)
	job.StartedAt = &started
	job.CompletedAt = &done
	if err := db.UpdateJob(job); err != nil {
		t.Fatalf("UpdateJob() error: %v", err)
	}

	got, _ = db.GetJob("job-1")
	if got.Status != domain.JobCompleted || got.PointsCharged != 50 || string(got.Result) != "essay" {
		t.Errorf("updated job = %+v", got)
	}
	if got.ResultHash != job.ResultHash {
		t.Errorf("ResultHash = %q", got.ResultHash)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
}

func TestJobs_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetJob("missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
	if err := db.UpdateJob(domain.Job{ID: "missing", Status: domain.JobFailed}); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("UpdateJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestJobs_DuplicateInsert(t *testing.T) {
	db := newTestDB(t)
	job := domain.Job{ID: "dup", Identity: "a", Feature: "tts", Status: domain.JobQueued, CreatedAt: time.Now()}
	if err := db.InsertJob(job); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertJob(job); err == nil {
		t.Error("duplicate insert should fail")
	}
}

func TestJobs_FailStaleAndCount(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	statuses := []domain.JobStatus{domain.JobQueued, domain.JobRunning, domain.JobCompleted, domain.JobFailed}
	for i, st := range statuses {
		db.InsertJob(domain.Job{ID: string(rune('a' + i)), Identity: "alice", Feature: "tts", Status: st, CreatedAt: now})
	}

	n, err := db.FailStaleJobs(now)
	if err != nil {
		t.Fatalf("FailStaleJobs() error: %v", err)
	}
	if n != 2 {
		t.Errorf("FailStaleJobs() = %d, want 2", n)
	}

	counts, err := db.CountJobsByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.JobFailed] != 3 || counts[domain.JobCompleted] != 1 || counts[domain.JobQueued] != 0 {
		t.Errorf("counts = %v", counts)
	}

	got, _ := db.GetJob("a")
	if got.Error != "interrupted" || got.CompletedAt == nil {
		t.Errorf("stale job = %+v", got)
	}
}
