package domain

import "time"

// ─── Account Types ──────────────────────────────────────────────────────────

// DefaultHistoryCap is the maximum number of ledger entries kept per account.
const DefaultHistoryCap = 1000

// Entitlement is a purchased tier, optionally bounded by an expiry.
// A nil ExpiresAt means the tier never expires.
type Entitlement struct {
	Tier        string     `json:"tier"`
	PurchasedAt time.Time  `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the entitlement grants its tier at now.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	if e == nil || e.Tier == "" {
		return false
	}
	if e.ExpiresAt == nil {
		return true
	}
	return now.Before(*e.ExpiresAt)
}

// Account is the single points record of one identity.
type Account struct {
	Identity        string        `json:"identity"`
	Balance         int64         `json:"balance"`
	LifetimeCredits int64         `json:"lifetime_credits"`
	LifetimeDebits  int64         `json:"lifetime_debits"`
	Entitlement     *Entitlement  `json:"entitlement,omitempty"`
	History         []LedgerEntry `json:"history"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewAccount creates a fresh account holding the starting balance.
func NewAccount(identity string, startingBalance int64, now time.Time) Account {
	return Account{
		Identity:  identity,
		Balance:   startingBalance,
		History:   []LedgerEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveTier returns the entitlement tier in force at now, or "" for none.
func (a *Account) ActiveTier(now time.Time) string {
	if a.Entitlement.ActiveAt(now) {
		return a.Entitlement.Tier
	}
	return ""
}

// Prepend adds an entry as the newest history item and evicts the oldest
// entries beyond limit. A limit <= 0 means DefaultHistoryCap.
func (a *Account) Prepend(e LedgerEntry, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	hist := make([]LedgerEntry, 0, min(len(a.History)+1, limit))
	hist = append(hist, e)
	for _, old := range a.History {
		if len(hist) >= limit {
			break
		}
		hist = append(hist, old)
	}
	a.History = hist
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	if a.Entitlement != nil {
		ent := *a.Entitlement
		if ent.ExpiresAt != nil {
			exp := *ent.ExpiresAt
			ent.ExpiresAt = &exp
		}
		a.Entitlement = &ent
	}
	hist := make([]LedgerEntry, len(a.History))
	for i, e := range a.History {
		hist[i] = e.Clone()
	}
	a.History = hist
	return a
}
