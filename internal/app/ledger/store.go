// Package ledger owns the compute points account of the active identity.
//
// The Store is the only writer of account state. Every mutation follows the
// same lifecycle:
//  1. Validate against the current state (nothing is touched on failure)
//  2. Build the next state on a deep copy
//  3. Persist the copy through the AccountStore
//  4. Swap it in and mirror it to the session cache
//  5. Notify listeners, in registration order, before returning
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workforce-ai/compute/internal/app/pricing"
	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/observability"
)

// Config controls ledger behavior.
type Config struct {
	StartingBalance int64         // Points granted on first login (default: 1000)
	HistoryCap      int           // Max history entries kept (default: 1000)
	ReservationTTL  time.Duration // Lifetime of an uncommitted hold (default: 10m)
}

// DefaultConfig returns the ledger defaults.
func DefaultConfig() Config {
	return Config{
		StartingBalance: 1000,
		HistoryCap:      domain.DefaultHistoryCap,
		ReservationTTL:  10 * time.Minute,
	}
}

// DebitRequest asks for one paid use of a feature.
type DebitRequest struct {
	Feature  string            `json:"feature"`
	Tier     string            `json:"tier,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DebitResult is the outcome of a successful debit.
type DebitResult struct {
	NewBalance    int64              `json:"new_balance"`
	AmountCharged int64              `json:"amount_charged"`
	Entry         domain.LedgerEntry `json:"entry"`
}

// CreditResult is the outcome of a successful credit.
type CreditResult struct {
	NewBalance int64              `json:"new_balance"`
	Entry      domain.LedgerEntry `json:"entry"`
}

// PurchaseResult is the outcome of a successful entitlement purchase.
type PurchaseResult struct {
	NewBalance  int64              `json:"new_balance"`
	Entitlement string             `json:"entitlement"`
	Expiry      *time.Time         `json:"expiry,omitempty"`
	Entry       domain.LedgerEntry `json:"entry"`
}

// Option customizes a Store.
type Option func(*Store)

// WithSessionMirror mirrors every committed account to m.
func WithSessionMirror(m domain.SessionMirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithMirrorErrorHandler is called when the session mirror fails.
// Mirror failures never fail a ledger call.
func WithMirrorErrorHandler(fn func(error)) Option {
	return func(s *Store) { s.onMirrorErr = fn }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// Store is the points ledger of one logged-in identity.
//
// Listeners run on the goroutine of the mutating call after the state lock is
// released, so they may read the Store. They must not call mutating methods.
type Store struct {
	// notifyMu serializes mutations from state change through mirror write
	// and notification. It is always taken before mu, and mu is released
	// before listeners run, so readers never wait on a dispatch.
	notifyMu sync.Mutex
	mu       sync.Mutex

	cfg         Config
	prices      *pricing.Table
	accounts    domain.AccountStore
	mirror      domain.SessionMirror
	onMirrorErr func(error)
	hub         *Hub
	nowFn       func() time.Time

	current *domain.Account
	holds   map[string]Reservation
}

// New creates a logged-out ledger store.
func New(cfg Config, prices *pricing.Table, accounts domain.AccountStore, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.StartingBalance < 0 {
		cfg.StartingBalance = 0
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = def.ReservationTTL
	}
	if prices == nil {
		prices = pricing.Default()
	}
	s := &Store{
		cfg:      cfg,
		prices:   prices,
		accounts: accounts,
		hub:      NewHub(),
		nowFn:    time.Now,
		holds:    make(map[string]Reservation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pricing returns the pricing table used for debits and purchases.
func (s *Store) Pricing() *pricing.Table { return s.prices }

// Subscribe registers fn to be called after every state mutation.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Account returns a copy of the active account, or false when logged out.
func (s *Store) Account() (domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Account{}, false
	}
	return s.current.Clone(), true
}

// Available returns the balance minus points held by open reservations.
func (s *Store) Available() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, domain.ErrNotLoggedIn
	}
	return s.current.Balance - s.heldLocked(s.now()), nil
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) History(limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, domain.ErrNotLoggedIn
	}
	hist := s.current.History
	if limit > 0 && limit < len(hist) {
		hist = hist[:limit]
	}
	out := make([]domain.LedgerEntry, len(hist))
	for i, e := range hist {
		out[i] = e.Clone()
	}
	return out, nil
}

// ─── Session ────────────────────────────────────────────────────────────────

// Login makes identity the active account, loading its persisted record or
// creating a fresh one with the starting balance. Logging in while another
// identity is active switches accounts and drops its reservations.
func (s *Store) Login(ctx context.Context, identity string) (domain.Account, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		observability.RecordRejection(domain.ErrInvalidIdentity)
		return domain.Account{}, domain.ErrInvalidIdentity
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	stored, err := s.accounts.Load(ctx, identity)
	if err != nil {
		s.mu.Unlock()
		return domain.Account{}, fmt.Errorf("load account %s: %w", identity, err)
	}

	now := s.now()
	var next domain.Account
	if stored == nil {
		next = domain.NewAccount(identity, s.cfg.StartingBalance, now)
	} else {
		next = stored.Clone()
		if len(next.History) > s.cfg.HistoryCap {
			next.History = next.History[:s.cfg.HistoryCap]
		}
		if next.History == nil {
			next.History = []domain.LedgerEntry{}
		}
	}
	next.UpdatedAt = now
	if err := s.accounts.Save(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Account{}, fmt.Errorf("save account %s: %w", identity, err)
	}

	var previous string
	if s.current != nil && s.current.Identity != identity {
		previous = s.current.Identity
	}
	s.current = &next
	s.holds = make(map[string]Reservation)
	observability.ReservationsActive.Set(0)
	s.mu.Unlock()

	if previous != "" {
		s.clearMirror(ctx, previous)
	}
	s.syncMirror(ctx, next)
	s.hub.Notify(&next)
	return next.Clone(), nil
}

// Logout drops the active account and its reservations. Persisted data is
// left intact for the next Login. Logging out while logged out is a no-op.
func (s *Store) Logout(ctx context.Context) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.current
	if prev == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.holds = make(map[string]Reservation)
	observability.ReservationsActive.Set(0)
	s.mu.Unlock()

	s.clearMirror(ctx, prev.Identity)
	s.hub.Notify(nil)
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// Debit charges the priced cost of one feature use.
func (s *Store) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	q := s.prices.Quote(req.Feature, req.Tier)

	var entry domain.LedgerEntry
	acct, err := s.apply(ctx, func(next *domain.Account, now time.Time) error {
		if next.Balance-s.heldLocked(now) < q.Cost {
			return domain.ErrInsufficientBalance
		}
		if !fitsDebit(next, q.Cost) {
			return domain.ErrInvalidAmount
		}
		entry = s.debitLocked(next, q.Feature, q.Tier, q.Cost, req.Metadata, now)
		return nil
	}, nil)
	observability.RecordRejection(err)
	if err != nil {
		return DebitResult{}, err
	}

	observability.RecordDebit(q.Feature, q.Cost)
	return DebitResult{NewBalance: acct.Balance, AmountCharged: q.Cost, Entry: entry.Clone()}, nil
}

// Credit adds amount points bought for price (money in minor units).
func (s *Store) Credit(ctx context.Context, amount, price int64) (CreditResult, error) {
	var entry domain.LedgerEntry
	acct, err := s.apply(ctx, func(next *domain.Account, now time.Time) error {
		if amount <= 0 || price < 0 || !fitsCredit(next, amount) {
			return domain.ErrInvalidAmount
		}
		next.Balance += amount
		next.LifetimeCredits += amount
		entry = s.newEntry(domain.EntryCredit, amount, "points", "", price, nil, next.Balance, now)
		next.Prepend(entry, s.cfg.HistoryCap)
		return nil
	}, nil)
	observability.RecordRejection(err)
	if err != nil {
		return CreditResult{}, err
	}

	observability.RecordCredit("credit", amount)
	return CreditResult{NewBalance: acct.Balance, Entry: entry.Clone()}, nil
}

// PurchaseEntitlement buys tierID: its bundled points are added and the
// entitlement is set. Buying the active tier again extends its expiry. An
// active unlimited entitlement is never replaced by a bounded one.
func (s *Store) PurchaseEntitlement(ctx context.Context, tierID string) (PurchaseResult, error) {
	tier, known := s.prices.Tier(tierID)

	var entry domain.LedgerEntry
	acct, err := s.apply(ctx, func(next *domain.Account, now time.Time) error {
		if !known {
			return domain.ErrUnknownTier
		}
		if !fitsCredit(next, tier.Points) {
			return domain.ErrInvalidAmount
		}
		next.Balance += tier.Points
		next.LifetimeCredits += tier.Points
		next.Entitlement = s.grant(next.Entitlement, tier, now)
		entry = s.newEntry(domain.EntryEntitlementPurchase, tier.Points, tier.Name, tier.ID, tier.Price, nil, next.Balance, now)
		next.Prepend(entry, s.cfg.HistoryCap)
		return nil
	}, nil)
	observability.RecordRejection(err)
	if err != nil {
		return PurchaseResult{}, err
	}

	observability.RecordPurchase(tier.ID, tier.Points)
	res := PurchaseResult{
		NewBalance:  acct.Balance,
		Entitlement: acct.Entitlement.Tier,
		Entry:       entry.Clone(),
	}
	if exp := acct.Entitlement.ExpiresAt; exp != nil {
		t := *exp
		res.Expiry = &t
	}
	return res, nil
}

// grant computes the entitlement that results from buying tier at now.
func (s *Store) grant(cur *domain.Entitlement, tier pricing.Tier, now time.Time) *domain.Entitlement {
	active := cur.ActiveAt(now)
	if active && cur.ExpiresAt == nil && !tier.Unlimited() {
		kept := *cur
		return &kept
	}

	ent := &domain.Entitlement{Tier: tier.ID, PurchasedAt: now}
	if tier.Unlimited() {
		return ent
	}
	start := now
	if active && cur.Tier == tier.ID && cur.ExpiresAt != nil {
		start = *cur.ExpiresAt
	}
	exp := start.Add(tier.Duration)
	ent.ExpiresAt = &exp
	return ent
}

// ─── Internals ──────────────────────────────────────────────────────────────

// apply runs build on a copy of the active account, persists the result and
// notifies listeners. onCommit runs under the state lock after a successful
// save. On any error the active account is left untouched.
func (s *Store) apply(ctx context.Context, build func(next *domain.Account, now time.Time) error, onCommit func()) (domain.Account, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return domain.Account{}, domain.ErrNotLoggedIn
	}

	now := s.now()
	next := s.current.Clone()
	if err := build(&next, now); err != nil {
		s.mu.Unlock()
		return domain.Account{}, err
	}
	next.UpdatedAt = now
	if err := s.accounts.Save(ctx, next); err != nil {
		s.mu.Unlock()
		return domain.Account{}, fmt.Errorf("save account %s: %w", next.Identity, err)
	}
	s.current = &next
	if onCommit != nil {
		onCommit()
	}
	s.mu.Unlock()

	s.syncMirror(ctx, next)
	s.hub.Notify(&next)
	return next.Clone(), nil
}

// fitsCredit reports whether adding points keeps the balance and lifetime
// credits within int64.
func fitsCredit(acct *domain.Account, points int64) bool {
	return points <= math.MaxInt64-acct.Balance && points <= math.MaxInt64-acct.LifetimeCredits
}

// fitsDebit reports whether lifetime debits can grow by cost without
// overflowing.
func fitsDebit(acct *domain.Account, cost int64) bool {
	return cost <= math.MaxInt64-acct.LifetimeDebits
}

func (s *Store) debitLocked(next *domain.Account, feature, tier string, cost int64, md map[string]string, now time.Time) domain.LedgerEntry {
	next.Balance -= cost
	next.LifetimeDebits += cost
	entry := s.newEntry(domain.EntryDebit, cost, feature, tier, 0, md, next.Balance, now)
	next.Prepend(entry, s.cfg.HistoryCap)
	return entry
}

func (s *Store) newEntry(kind domain.EntryKind, amount int64, subject, tier string, price int64, md map[string]string, balanceAfter int64, now time.Time) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:           uuid.NewString(),
		Kind:         kind,
		Amount:       amount,
		Subject:      subject,
		Tier:         tier,
		Price:        price,
		Metadata:     md,
		BalanceAfter: balanceAfter,
		OccurredAt:   now,
	}.Clone()
}

func (s *Store) syncMirror(ctx context.Context, acct domain.Account) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Mirror(ctx, acct); err != nil {
		s.mirrorFailed(fmt.Errorf("mirror session %s: %w", acct.Identity, err))
	}
}

func (s *Store) clearMirror(ctx context.Context, identity string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Clear(ctx, identity); err != nil {
		s.mirrorFailed(fmt.Errorf("clear session %s: %w", identity, err))
	}
}

func (s *Store) mirrorFailed(err error) {
	if s.onMirrorErr != nil {
		s.onMirrorErr(err)
	}
}

func (s *Store) now() time.Time {
	return s.nowFn()
}
