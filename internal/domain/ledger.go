package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────
// A ledger entry is one immutable record of a balance-affecting event.
// Entries are stored newest first on the Account.

// EntryKind is the business reason for a balance change.
type EntryKind string

const (
	EntryDebit               EntryKind = "debit"
	EntryCredit              EntryKind = "credit"
	EntryEntitlementPurchase EntryKind = "entitlement_purchase"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryDebit, EntryCredit, EntryEntitlementPurchase:
		return true
	}
	return false
}

// Sign returns -1 for kinds that remove points and +1 for kinds that add them.
func (k EntryKind) Sign() int64 {
	if k == EntryDebit {
		return -1
	}
	return 1
}

// LedgerEntry is a single row of an account's points history.
type LedgerEntry struct {
	ID           string            `json:"id"`
	Kind         EntryKind         `json:"kind"`
	Amount       int64             `json:"amount"`  // Always positive; see Kind.Sign
	Subject      string            `json:"subject"` // Feature or package label
	Tier         string            `json:"tier,omitempty"`
	Price        int64             `json:"price,omitempty"` // Money in minor units
	Metadata     map[string]string `json:"metadata,omitempty"`
	BalanceAfter int64             `json:"balance_after"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Delta returns the signed balance change of the entry.
func (e LedgerEntry) Delta() int64 {
	return e.Kind.Sign() * e.Amount
}

// Clone returns a copy that shares no maps with e.
func (e LedgerEntry) Clone() LedgerEntry {
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
