package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Ledger errors
	ErrNotLoggedIn         = errors.New("no account is logged in")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrUnknownTier         = errors.New("unknown entitlement tier")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidIdentity     = errors.New("identity must not be empty")

	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found or expired")

	// Executor errors
	ErrNoBackend   = errors.New("no backend registered for feature")
	ErrAtCapacity  = errors.New("executor at capacity")
	ErrJobNotFound = errors.New("job not found")
)
