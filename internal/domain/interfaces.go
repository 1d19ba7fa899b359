package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// AccountStore persists whole account records.
type AccountStore interface {
	// Load returns the stored account for identity, or nil if none exists.
	Load(ctx context.Context, identity string) (*Account, error)

	// Save writes the full account record, replacing any previous one.
	Save(ctx context.Context, acct Account) error
}

// SessionMirror keeps a session-scoped copy of the active account.
// It is a cache: failures never affect the ledger outcome.
type SessionMirror interface {
	Mirror(ctx context.Context, acct Account) error
	Clear(ctx context.Context, identity string) error
}

// JobStore persists feature job state for the executor.
type JobStore interface {
	InsertJob(job Job) error
	UpdateJob(job Job) error
	GetJob(id string) (*Job, error)
}
