// Package memstore provides in-memory implementations of the domain
// persistence interfaces. It backs tests and `--ephemeral` runs.
package memstore

import (
	"context"
	"sync"

	"github.com/workforce-ai/compute/internal/domain"
)

// Store keeps accounts and jobs in maps. Values are deep-copied on the way
// in and out so callers never share state with the store.
type Store struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	jobs     map[string]domain.Job
	saves    int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]domain.Account),
		jobs:     make(map[string]domain.Job),
	}
}

// Load implements domain.AccountStore.
func (s *Store) Load(_ context.Context, identity string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[identity]
	if !ok {
		return nil, nil
	}
	c := a.Clone()
	return &c, nil
}

// Save implements domain.AccountStore.
func (s *Store) Save(_ context.Context, acct domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.Identity] = acct.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// InsertJob implements domain.JobStore.
func (s *Store) InsertJob(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob implements domain.JobStore.
func (s *Store) UpdateJob(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob implements domain.JobStore.
func (s *Store) GetJob(id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

// ─── Session Mirror ─────────────────────────────────────────────────────────

// Mirror is an in-memory domain.SessionMirror.
type Mirror struct {
	mu       sync.Mutex
	sessions map[string]domain.Account
}

// NewMirror creates an empty session mirror.
func NewMirror() *Mirror {
	return &Mirror{sessions: make(map[string]domain.Account)}
}

// Mirror implements domain.SessionMirror.
func (m *Mirror) Mirror(_ context.Context, acct domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[acct.Identity] = acct.Clone()
	return nil
}

// Clear implements domain.SessionMirror.
func (m *Mirror) Clear(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
	return nil
}

// Session returns the mirrored account for identity.
func (m *Mirror) Session(identity string) (domain.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.sessions[identity]
	if !ok {
		return domain.Account{}, false
	}
	return a.Clone(), true
}
