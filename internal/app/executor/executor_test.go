package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/app/pricing"
	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/memstore"
	"github.com/workforce-ai/compute/internal/infra/sqlite"
)

// mockBackend implements Backend for testing.
type mockBackend struct {
	result []byte
	err    error
	delay  time.Duration
}

func (m *mockBackend) Execute(ctx context.Context, job domain.Job) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return m.result, m.err
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	s := ledger.New(ledger.DefaultConfig(), pricing.Default(), memstore.New())
	if _, err := s.Login(context.Background(), "alice"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	return s
}

func newTestExecutor(t *testing.T) (*Executor, *ledger.Store) {
	t.Helper()
	l := newTestLedger(t)
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.DefaultTimeout = 2 * time.Second
	e := New(cfg, l, newTestDB(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(e.Wait)
	return e, l
}

func balance(t *testing.T, l *ledger.Store) int64 {
	t.Helper()
	acct, ok := l.Account()
	if !ok {
		t.Fatal("logged out")
	}
	return acct.Balance
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.DefaultTimeout != 5*time.Minute {
		t.Errorf("DefaultTimeout = %v, want 5m", cfg.DefaultTimeout)
	}
}

func TestNew_FillsZeroConfig(t *testing.T) {
	e := New(Config{}, newTestLedger(t), memstore.New(), nil)
	if e.config != DefaultConfig() {
		t.Errorf("config = %+v, want defaults", e.config)
	}
}

// ─── Executor Tests ─────────────────────────────────────────────────────────

func TestRegisterBackend(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.RegisterBackend("writing", &mockBackend{result: []byte("ok")})

	features := e.Features()
	if len(features) != 1 || features[0] != "writing" {
		t.Errorf("Features() = %v", features)
	}
}

func TestSubmit_Success(t *testing.T) {
	e, l := newTestExecutor(t)
	e.RegisterBackend("writing", &mockBackend{
		result: []byte("an essay"),
		delay:  50 * time.Millisecond,
	})

	job, err := e.Submit(context.Background(), domain.Job{
		Feature: "writing",
		Tier:    "medium",
		Input:   map[string]any{"prompt": "hi"},
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if job.Status != domain.JobQueued || job.ID == "" || job.ReservationID == "" || job.Identity != "alice" {
		t.Errorf("submitted job = %+v", job)
	}
	if held := l.Held(); held != 25 {
		t.Errorf("Held() after submit = %d, want 25", held)
	}

	e.Wait()

	stats := e.Stats()
	if stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if got := balance(t, l); got != 975 {
		t.Errorf("balance = %d, want 975", got)
	}
	if l.Held() != 0 {
		t.Errorf("Held() = %d after completion", l.Held())
	}

	stored, err := e.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != domain.JobCompleted || stored.PointsCharged != 25 {
		t.Errorf("stored job = %+v", stored)
	}
	if stored.ResultHash != domain.SHA256Hex([]byte("an essay")) || string(stored.Result) != "an essay" {
		t.Errorf("result = %q hash = %q", stored.Result, stored.ResultHash)
	}
	if stored.StartedAt == nil || stored.CompletedAt == nil {
		t.Error("timestamps not recorded")
	}

	hist, _ := l.History(1)
	if hist[0].Metadata["job_id"] != job.ID {
		t.Errorf("debit metadata = %v, want job_id %s", hist[0].Metadata, job.ID)
	}
}

func TestSubmit_BackendErrorReleases(t *testing.T) {
	e, l := newTestExecutor(t)
	e.RegisterBackend("video-gen", &mockBackend{err: fmt.Errorf("render farm offline")})

	job, err := e.Submit(context.Background(), domain.Job{Feature: "video-gen"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	e.Wait()

	if e.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", e.Stats().Failed)
	}
	if got := balance(t, l); got != 1000 {
		t.Errorf("balance = %d, want 1000 (reservation released)", got)
	}
	if l.Held() != 0 {
		t.Errorf("Held() = %d", l.Held())
	}

	stored, _ := e.Get(job.ID)
	if stored.Status != domain.JobFailed || stored.Error != "render farm offline" || stored.PointsCharged != 0 {
		t.Errorf("stored job = %+v", stored)
	}
}

func TestSubmit_TimeoutReleases(t *testing.T) {
	l := newTestLedger(t)
	e := New(Config{MaxConcurrent: 1, DefaultTimeout: 20 * time.Millisecond}, l, memstore.New(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.RegisterBackend("tts", &mockBackend{result: []byte("x"), delay: time.Second})

	job, err := e.Submit(context.Background(), domain.Job{Feature: "tts"})
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	stored, _ := e.Get(job.ID)
	if stored.Status != domain.JobFailed {
		t.Errorf("Status = %s, want FAILED", stored.Status)
	}
	if got := balance(t, l); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
}

func TestSubmit_NoBackend(t *testing.T) {
	e, l := newTestExecutor(t)

	_, err := e.Submit(context.Background(), domain.Job{Feature: "hologram"})
	if !errors.Is(err, domain.ErrNoBackend) {
		t.Fatalf("Submit() error = %v, want ErrNoBackend", err)
	}
	if l.Held() != 0 {
		t.Error("nothing should be reserved without a backend")
	}
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	e, l := newTestExecutor(t)
	e.RegisterBackend("video-gen", &mockBackend{result: []byte("ok")})
	for i := 0; i < 5; i++ {
		if _, err := l.Debit(context.Background(), ledger.DebitRequest{Feature: "video-gen", Tier: "long"}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := e.Submit(context.Background(), domain.Job{Feature: "video-gen"})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("Submit() error = %v, want ErrInsufficientBalance", err)
	}
	if s := e.Stats(); s.FreeSlots != 2 {
		t.Errorf("FreeSlots = %d, slot leaked on rejection", s.FreeSlots)
	}
}

func TestSubmit_ConcurrencyLimit(t *testing.T) {
	e, l := newTestExecutor(t) // MaxConcurrent = 2
	e.RegisterBackend("writing", &mockBackend{
		result: []byte("ok"),
		delay:  200 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		if _, err := e.Submit(context.Background(), domain.Job{Feature: "writing"}); err != nil {
			t.Fatalf("Submit(%d) error: %v", i, err)
		}
	}

	_, err := e.Submit(context.Background(), domain.Job{Feature: "writing"})
	if !errors.Is(err, domain.ErrAtCapacity) {
		t.Errorf("Submit at capacity error = %v, want ErrAtCapacity", err)
	}
	if held := l.Held(); held != 50 {
		t.Errorf("Held() = %d, want 50 (rejected job must not reserve)", held)
	}

	e.Wait()
	if got := balance(t, l); got != 950 {
		t.Errorf("balance = %d, want 950", got)
	}
}

func TestSubmit_LogoutDuringJob(t *testing.T) {
	e, l := newTestExecutor(t)
	release := make(chan struct{})
	e.RegisterBackend("ppt", BackendFunc(func(ctx context.Context, job domain.Job) ([]byte, error) {
		<-release
		return []byte("slides"), nil
	}))

	job, err := e.Submit(context.Background(), domain.Job{Feature: "ppt"})
	if err != nil {
		t.Fatal(err)
	}
	l.Logout(context.Background())
	close(release)
	e.Wait()

	stored, _ := e.Get(job.ID)
	if stored.Status != domain.JobFailed || stored.PointsCharged != 0 {
		t.Errorf("stored job = %+v, want FAILED with nothing charged", stored)
	}
}

func TestSubmit_RequestContextCancelled(t *testing.T) {
	e, l := newTestExecutor(t)
	e.RegisterBackend("tts", &mockBackend{result: []byte("audio"), delay: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := e.Submit(ctx, domain.Job{Feature: "tts"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	e.Wait()

	if e.Stats().Completed != 1 {
		t.Errorf("job should outlive the submitting request: %+v", e.Stats())
	}
	if got := balance(t, l); got != 995 {
		t.Errorf("balance = %d, want 995", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	e, _ := newTestExecutor(t)
	if _, err := e.Get("nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestStats(t *testing.T) {
	e, _ := newTestExecutor(t)
	stats := e.Stats()

	if stats.MaxSlots != 2 {
		t.Errorf("MaxSlots = %d, want 2", stats.MaxSlots)
	}
	if stats.FreeSlots != 2 {
		t.Errorf("FreeSlots = %d, want 2", stats.FreeSlots)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
}

func TestMultipleFeatures(t *testing.T) {
	e, l := newTestExecutor(t)
	e.RegisterBackend("image-gen", &mockBackend{result: []byte("png")})
	e.RegisterBackend("text-extract", &mockBackend{result: []byte("text")})

	e.Submit(context.Background(), domain.Job{Feature: "image-gen", Tier: "hd"})
	e.Submit(context.Background(), domain.Job{Feature: "text-extract"})
	e.Wait()

	if e.Stats().Completed != 2 {
		t.Errorf("Completed = %d, want 2", e.Stats().Completed)
	}
	if got := balance(t, l); got != 1000-20-3 {
		t.Errorf("balance = %d, want 977", got)
	}
}
