package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

func TestStore_LoadMissing(t *testing.T) {
	s := New()
	acct, err := s.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if acct != nil {
		t.Errorf("Load(missing) = %+v, want nil", acct)
	}
}

func TestStore_SaveLoad_Copies(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := domain.NewAccount("alice", 500, time.Now())
	a.Prepend(domain.LedgerEntry{ID: "e1", Metadata: map[string]string{"k": "v"}}, 10)
	if err := s.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.History[0].Metadata["k"] = "mutated"

	got, err := s.Load(ctx, "alice")
	if err != nil || got == nil {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if got.Balance != 500 {
		t.Errorf("Balance = %d, want 500", got.Balance)
	}
	if got.History[0].Metadata["k"] != "v" {
		t.Error("stored account shares metadata with caller")
	}
	if s.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", s.Saves())
	}
}

func TestStore_Jobs(t *testing.T) {
	s := New()
	job := domain.Job{ID: "j1", Status: domain.JobQueued}

	if err := s.UpdateJob(job); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("UpdateJob(missing) error = %v, want ErrJobNotFound", err)
	}
	if err := s.InsertJob(job); err != nil {
		t.Fatal(err)
	}
	job.Status = domain.JobCompleted
	if err := s.UpdateJob(job); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if _, err := s.GetJob("nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v", err)
	}
}

func TestMirror(t *testing.T) {
	m := NewMirror()
	ctx := context.Background()

	if err := m.Mirror(ctx, domain.NewAccount("alice", 10, time.Now())); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.Session("alice"); !ok || got.Balance != 10 {
		t.Errorf("Session(alice) = %+v, %v", got, ok)
	}
	if err := m.Clear(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Session("alice"); ok {
		t.Error("session should be cleared")
	}
}
