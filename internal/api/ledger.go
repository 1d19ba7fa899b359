package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/domain"
)

// ─── Ledger API ─────────────────────────────────────────────────────────────
// GET  /api/pricing                      feature price table
// GET  /api/pricing/quote                cost of one feature/tier
// GET  /api/entitlements                 purchasable tiers
// POST /api/entitlements/purchase        buy a tier
// GET  /api/account                      active account snapshot
// POST /api/login, /api/logout           session
// POST /api/debit, /api/credit           point movements
// GET  /api/history                      ledger entries, newest first
// POST /api/reservations[/{id}/commit|release]  two-phase debits

type tierView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Points       int64  `json:"points"`
	Price        int64  `json:"price"`
	DurationDays int    `json:"duration_days"` // 0 = never expires
}

type accountView struct {
	Identity        string              `json:"identity"`
	Balance         int64               `json:"balance"`
	Available       int64               `json:"available"`
	Held            int64               `json:"held"`
	LifetimeCredits int64               `json:"lifetime_credits"`
	LifetimeDebits  int64               `json:"lifetime_debits"`
	Entitlement     *domain.Entitlement `json:"entitlement,omitempty"`
	ActiveTier      string              `json:"active_tier"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (s *Server) accountView(acct domain.Account) accountView {
	held := s.ledger.Held()
	return accountView{
		Identity:        acct.Identity,
		Balance:         acct.Balance,
		Available:       acct.Balance - held,
		Held:            held,
		LifetimeCredits: acct.LifetimeCredits,
		LifetimeDebits:  acct.LifetimeDebits,
		Entitlement:     acct.Entitlement,
		ActiveTier:      acct.ActiveTier(time.Now()),
		CreatedAt:       acct.CreatedAt,
		UpdatedAt:       acct.UpdatedAt,
	}
}

// handlePricing returns every priced feature.
// GET /api/pricing
func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	table := s.ledger.Pricing()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default_cost": table.DefaultCost(),
		"features":     table.Features(),
	})
}

// handleQuote resolves one feature/tier pair.
// GET /api/pricing/quote?feature=writing&tier=long
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	feature := r.URL.Query().Get("feature")
	if feature == "" {
		writeError(w, http.StatusBadRequest, "feature is required", "invalid_request")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Pricing().Quote(feature, r.URL.Query().Get("tier")))
}

// handleEntitlements lists the purchasable tiers, cheapest first.
// GET /api/entitlements
func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	tiers := s.ledger.Pricing().Tiers()
	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierView{
			ID:           t.ID,
			Name:         t.Name,
			Points:       t.Points,
			Price:        t.Price,
			DurationDays: int(t.Duration / (24 * time.Hour)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tiers": out})
}

// handlePurchase buys an entitlement tier.
// POST /api/entitlements/purchase {"tier":"yearly"}
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier string `json:"tier"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.ledger.PurchaseEntitlement(r.Context(), req.Tier)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAccount returns the active account.
// GET /api/account
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.ledger.Account()
	if !ok {
		s.writeDomainError(w, r, domain.ErrNotLoggedIn)
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(acct))
}

// handleLogin makes an identity active.
// POST /api/login {"identity":"alice"}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := s.ledger.Login(r.Context(), req.Identity)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.accountView(acct))
}

// handleLogout ends the session.
// POST /api/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.ledger.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleDebit charges one feature use.
// POST /api/debit {"feature":"writing","tier":"medium","metadata":{...}}
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req ledger.DebitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, "feature is required", "invalid_request")
		return
	}
	res, err := s.ledger.Debit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCredit adds bought points.
// POST /api/credit {"amount":500,"price":4900}
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
		Price  int64 `json:"price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.ledger.Credit(r.Context(), req.Amount, req.Price)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHistory returns ledger entries, newest first.
// GET /api/history?limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_request")
			return
		}
		limit = n
	}
	entries, err := s.ledger.History(limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ─── Reservations ───────────────────────────────────────────────────────────

// handleReserve holds the cost of a feature use.
// POST /api/reservations {"feature":"video-gen","tier":"long"}
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req ledger.DebitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, "feature is required", "invalid_request")
		return
	}
	res, err := s.ledger.Reserve(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleCommit turns a reservation into a debit.
// POST /api/reservations/{id}/commit
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRelease drops a reservation.
// POST /api/reservations/{id}/release
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Release(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

// handleSubmitJob reserves points and starts a feature job.
// POST /api/jobs {"feature":"writing","tier":"long","input":{...}}
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feature string         `json:"feature"`
		Tier    string         `json:"tier"`
		Input   map[string]any `json:"input"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, "feature is required", "invalid_request")
		return
	}
	job, err := s.jobs.Submit(r.Context(), domain.Job{Feature: req.Feature, Tier: req.Tier, Input: req.Input})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleGetJob returns a job's current state.
// GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Error("get job", "id", chi.URLParam(r, "id"), "error", err)
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
