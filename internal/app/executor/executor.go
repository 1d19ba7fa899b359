// Package executor runs paid feature jobs against pluggable backends.
//
// Every job follows the same lifecycle:
//  1. Reserve the feature's cost on the ledger (rejects if unaffordable)
//  2. Persist the job as QUEUED and return to the caller
//  3. Run the backend under a timeout, bounded by MaxConcurrent
//  4. Commit the reservation on success, release it on failure
//
// Points are only taken for work that actually produced a result.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/observability"
)

// Backend performs one feature call and returns its output.
type Backend interface {
	Execute(ctx context.Context, job domain.Job) (result []byte, err error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, job domain.Job) ([]byte, error)

// Execute calls f.
func (f BackendFunc) Execute(ctx context.Context, job domain.Job) ([]byte, error) {
	return f(ctx, job)
}

// Ledger is the part of the ledger store the executor charges through.
type Ledger interface {
	Reserve(ctx context.Context, req ledger.DebitRequest) (ledger.Reservation, error)
	Commit(ctx context.Context, id string) (ledger.DebitResult, error)
	Release(ctx context.Context, id string) error
}

// Config controls executor behavior.
type Config struct {
	MaxConcurrent  int           // Maximum concurrent jobs (default: 4)
	DefaultTimeout time.Duration // Per-job backend timeout (default: 5m)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		DefaultTimeout: 5 * time.Minute,
	}
}

// Executor manages the job lifecycle.
type Executor struct {
	mu        sync.RWMutex
	config    Config
	ledger    Ledger
	jobs      domain.JobStore
	logger    *slog.Logger
	backends  map[string]Backend
	sem       chan struct{} // Concurrency semaphore
	wg        sync.WaitGroup
	active    int
	completed int64
	failed    int64
	now       func() time.Time
}

// New creates a job executor.
func New(cfg Config, l Ledger, jobs domain.JobStore, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config:   cfg,
		ledger:   l,
		jobs:     jobs,
		logger:   logger.With("component", "executor"),
		backends: make(map[string]Backend),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		now:      time.Now,
	}
}

// RegisterBackend registers the backend serving feature.
func (e *Executor) RegisterBackend(feature string, backend Backend) {
	e.mu.Lock()
	e.backends[feature] = backend
	e.mu.Unlock()
}

// Features returns the features with a registered backend.
func (e *Executor) Features() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.backends))
	for f := range e.backends {
		out = append(out, f)
	}
	return out
}

// Submit reserves points for job and starts it. It returns the persisted
// QUEUED job; the backend runs asynchronously. Only Feature, Tier and Input
// are taken from job.
func (e *Executor) Submit(ctx context.Context, job domain.Job) (domain.Job, error) {
	e.mu.RLock()
	backend, ok := e.backends[job.Feature]
	e.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrNoBackend, job.Feature)
	}

	// Check concurrency limit
	select {
	case e.sem <- struct{}{}:
	default:
		return domain.Job{}, domain.ErrAtCapacity
	}

	job.ID = uuid.NewString()
	res, err := e.ledger.Reserve(ctx, ledger.DebitRequest{
		Feature:  job.Feature,
		Tier:     job.Tier,
		Metadata: map[string]string{"job_id": job.ID},
	})
	if err != nil {
		<-e.sem
		return domain.Job{}, err
	}

	job.Identity = res.Identity
	job.Tier = res.Tier
	job.ReservationID = res.ID
	job.Status = domain.JobQueued
	job.PointsCharged = 0
	job.ResultHash, job.Result, job.Error = "", nil, ""
	job.CreatedAt = e.now()
	job.StartedAt, job.CompletedAt = nil, nil

	if err := e.jobs.InsertJob(job); err != nil {
		_ = e.ledger.Release(ctx, res.ID)
		<-e.sem
		return domain.Job{}, fmt.Errorf("persist job: %w", err)
	}

	e.wg.Add(1)
	// The job outlives the submitting request.
	go e.execute(context.WithoutCancel(ctx), job, backend)

	return job, nil
}

// execute runs a job through the full lifecycle.
func (e *Executor) execute(ctx context.Context, job domain.Job, backend Backend) {
	defer e.wg.Done()
	defer func() { <-e.sem }()

	e.mu.Lock()
	e.active++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	started := e.now()
	job.Status = domain.JobRunning
	job.StartedAt = &started
	e.update(job)

	e.logger.Info("executing job", "job_id", job.ID, "feature", job.Feature, "tier", job.Tier)

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	result, err := backend.Execute(execCtx, job)
	observability.JobDuration.WithLabelValues(job.Feature).Observe(time.Since(started).Seconds())
	if err != nil {
		if relErr := e.ledger.Release(ctx, job.ReservationID); relErr != nil {
			e.logger.Warn("release reservation", "job_id", job.ID, "error", relErr)
		}
		e.fail(job, err.Error())
		return
	}

	charged, err := e.ledger.Commit(ctx, job.ReservationID)
	if err != nil {
		// Reservation expired or the session ended; nothing was charged.
		e.fail(job, fmt.Sprintf("commit reservation: %v", err))
		return
	}

	done := e.now()
	job.Status = domain.JobCompleted
	job.PointsCharged = charged.AmountCharged
	job.Result = result
	job.ResultHash = domain.SHA256Hex(result)
	job.CompletedAt = &done
	e.update(job)

	e.logger.Info("job completed", "job_id", job.ID, "points", charged.AmountCharged, "hash", job.ResultHash[:16])
	observability.JobsFinished.WithLabelValues(job.Feature, string(domain.JobCompleted)).Inc()

	e.mu.Lock()
	e.completed++
	e.mu.Unlock()
}

// fail marks a job as failed with an error message.
func (e *Executor) fail(job domain.Job, errMsg string) {
	done := e.now()
	job.Status = domain.JobFailed
	job.Error = errMsg
	job.CompletedAt = &done
	e.update(job)

	e.logger.Warn("job failed", "job_id", job.ID, "feature", job.Feature, "error", errMsg)
	observability.JobsFinished.WithLabelValues(job.Feature, string(domain.JobFailed)).Inc()

	e.mu.Lock()
	e.failed++
	e.mu.Unlock()
}

func (e *Executor) update(job domain.Job) {
	if err := e.jobs.UpdateJob(job); err != nil {
		e.logger.Error("persist job", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// Get returns the stored job id.
func (e *Executor) Get(id string) (*domain.Job, error) {
	return e.jobs.GetJob(id)
}

// Wait blocks until every submitted job has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Stats returns executor statistics.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Active:    e.active,
		Completed: e.completed,
		Failed:    e.failed,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - len(e.sem),
	}
}

// ActiveCount returns the number of currently executing jobs.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}
