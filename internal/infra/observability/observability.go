// Package observability exposes Prometheus metrics for the points ledger
// and the feature executor.
//
// Metrics are registered on the default registry via promauto and served
// by the API's /metrics endpoint. The Record* helpers keep label values
// consistent across callers.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/workforce-ai/compute/internal/domain"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerDebits counts successful debits by feature.
var LedgerDebits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "debits_total",
	Help:      "Total successful debits by feature.",
}, []string{"feature"})

// LedgerPointsDebited sums points spent by feature.
var LedgerPointsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "points_debited_total",
	Help:      "Total points debited by feature.",
}, []string{"feature"})

// LedgerPointsCredited sums points added, by source (credit or tier id).
var LedgerPointsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "points_credited_total",
	Help:      "Total points credited by source.",
}, []string{"source"})

// LedgerRejections counts rejected ledger calls by reason.
var LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "rejections_total",
	Help:      "Total rejected ledger operations by reason.",
}, []string{"reason"})

// EntitlementPurchases counts entitlement purchases by tier.
var EntitlementPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "entitlement_purchases_total",
	Help:      "Total entitlement purchases by tier.",
}, []string{"tier"})

// LedgerBalance tracks the balance of the logged-in account.
var LedgerBalance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "balance_points",
	Help:      "Current balance of the active account (0 when logged out).",
})

// ReservationsActive tracks outstanding point holds.
var ReservationsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "compute",
	Subsystem: "ledger",
	Name:      "reservations_active",
	Help:      "Number of outstanding point reservations.",
})

// ─── Executor Metrics ───────────────────────────────────────────────────────

// JobsFinished counts finished feature jobs by outcome.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "compute",
	Subsystem: "executor",
	Name:      "jobs_total",
	Help:      "Total finished feature jobs by feature and status.",
}, []string{"feature", "status"})

// JobDuration tracks backend call latency.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "compute",
	Subsystem: "executor",
	Name:      "job_duration_seconds",
	Help:      "Feature backend call duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
}, []string{"feature"})

// ─── Helpers ────────────────────────────────────────────────────────────────

// RecordDebit records a successful debit.
func RecordDebit(feature string, points int64) {
	LedgerDebits.WithLabelValues(feature).Inc()
	LedgerPointsDebited.WithLabelValues(feature).Add(float64(points))
}

// RecordCredit records points added from source.
func RecordCredit(source string, points int64) {
	LedgerPointsCredited.WithLabelValues(source).Add(float64(points))
}

// RecordPurchase records an entitlement purchase.
func RecordPurchase(tier string, points int64) {
	EntitlementPurchases.WithLabelValues(tier).Inc()
	RecordCredit(tier, points)
}

// RecordRejection records a failed ledger call. Nil errors are ignored.
func RecordRejection(err error) {
	if err == nil {
		return
	}
	LedgerRejections.WithLabelValues(RejectionReason(err)).Inc()
}

// RejectionReason maps a ledger error to a stable label value.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotLoggedIn):
		return "not_logged_in"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrUnknownTier):
		return "unknown_tier"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, domain.ErrReservationNotFound):
		return "reservation_not_found"
	default:
		return "internal"
	}
}

// BalanceListener keeps LedgerBalance in sync with account snapshots.
// Subscribe it to the ledger store.
func BalanceListener(acct *domain.Account) {
	if acct == nil {
		LedgerBalance.Set(0)
		return
	}
	LedgerBalance.Set(float64(acct.Balance))
}
