package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/observability"
)

// ─── Reservations ───────────────────────────────────────────────────────────
// A reservation holds points against the available balance while a paid
// feature call is in flight. It lives only in memory: the persisted balance
// changes on Commit, never on Reserve, so a crash loses no points.

// Reservation is an uncommitted hold on points.
type Reservation struct {
	ID        string            `json:"id"`
	Identity  string            `json:"identity"`
	Feature   string            `json:"feature"`
	Tier      string            `json:"tier"`
	Cost      int64             `json:"cost"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Reserve holds the priced cost of req against the available balance.
func (s *Store) Reserve(ctx context.Context, req DebitRequest) (Reservation, error) {
	q := s.prices.Quote(req.Feature, req.Tier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		observability.RecordRejection(domain.ErrNotLoggedIn)
		return Reservation{}, domain.ErrNotLoggedIn
	}
	now := s.now()
	if s.current.Balance-s.heldLocked(now) < q.Cost {
		observability.RecordRejection(domain.ErrInsufficientBalance)
		return Reservation{}, domain.ErrInsufficientBalance
	}

	var md map[string]string
	if req.Metadata != nil {
		md = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			md[k] = v
		}
	}
	r := Reservation{
		ID:        uuid.NewString(),
		Identity:  s.current.Identity,
		Feature:   q.Feature,
		Tier:      q.Tier,
		Cost:      q.Cost,
		Metadata:  md,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ReservationTTL),
	}
	s.holds[r.ID] = r
	observability.ReservationsActive.Set(float64(len(s.holds)))
	return r, nil
}

// Commit turns reservation id into a debit.
func (s *Store) Commit(ctx context.Context, id string) (DebitResult, error) {
	var (
		r     Reservation
		entry domain.LedgerEntry
	)
	acct, err := s.apply(ctx, func(next *domain.Account, now time.Time) error {
		var ok bool
		r, ok = s.liveHoldLocked(id, now)
		if !ok {
			return domain.ErrReservationNotFound
		}
		if next.Balance < r.Cost {
			return domain.ErrInsufficientBalance
		}
		if !fitsDebit(next, r.Cost) {
			return domain.ErrInvalidAmount
		}
		entry = s.debitLocked(next, r.Feature, r.Tier, r.Cost, r.Metadata, now)
		return nil
	}, func() {
		delete(s.holds, id)
		observability.ReservationsActive.Set(float64(len(s.holds)))
	})
	observability.RecordRejection(err)
	if err != nil {
		return DebitResult{}, err
	}

	observability.RecordDebit(r.Feature, r.Cost)
	return DebitResult{NewBalance: acct.Balance, AmountCharged: r.Cost, Entry: entry.Clone()}, nil
}

// Release drops reservation id without charging.
func (s *Store) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return domain.ErrNotLoggedIn
	}
	if _, ok := s.liveHoldLocked(id, s.now()); !ok {
		return domain.ErrReservationNotFound
	}
	delete(s.holds, id)
	observability.ReservationsActive.Set(float64(len(s.holds)))
	return nil
}

// Reservation returns the open reservation id.
func (s *Store) Reservation(id string) (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveHoldLocked(id, s.now())
}

// Held returns the points held by open reservations.
func (s *Store) Held() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(s.now())
}

// Charge reserves the cost of req, runs fn, and commits on success or
// releases on failure. fn's error is returned unchanged.
func (s *Store) Charge(ctx context.Context, req DebitRequest, fn func(ctx context.Context, r Reservation) error) (DebitResult, error) {
	r, err := s.Reserve(ctx, req)
	if err != nil {
		return DebitResult{}, err
	}
	if err := fn(ctx, r); err != nil {
		// Already gone if it expired or the session ended.
		_ = s.Release(ctx, r.ID)
		return DebitResult{}, err
	}
	return s.Commit(ctx, r.ID)
}

// liveHoldLocked returns hold id if it has not expired. Expired holds are
// removed. Caller holds s.mu.
func (s *Store) liveHoldLocked(id string, now time.Time) (Reservation, bool) {
	r, ok := s.holds[id]
	if !ok {
		return Reservation{}, false
	}
	if !now.Before(r.ExpiresAt) {
		delete(s.holds, id)
		observability.ReservationsActive.Set(float64(len(s.holds)))
		return Reservation{}, false
	}
	return r, true
}

// heldLocked sweeps expired holds and sums the rest. Caller holds s.mu.
func (s *Store) heldLocked(now time.Time) int64 {
	var total int64
	for id, r := range s.holds {
		if !now.Before(r.ExpiresAt) {
			delete(s.holds, id)
			continue
		}
		total += r.Cost
	}
	observability.ReservationsActive.Set(float64(len(s.holds)))
	return total
}
