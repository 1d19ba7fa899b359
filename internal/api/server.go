// Package api provides the HTTP server for the compute points ledger.
// UI panels and feature workers call it to read the balance, charge points
// and run paid feature jobs.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/observability"
)

// Server is the compute HTTP API server.
type Server struct {
	ledger         *ledger.Store
	jobs           JobRunner // nil when no feature backends are configured
	live           *LiveHub  // nil disables /api/account/live
	metricsEnabled bool
	logger         *slog.Logger
}

// NewServer creates a new API server on store.
func NewServer(store *ledger.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ledger: store, logger: logger.With("component", "api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetJobRunner enables the /api/jobs endpoints.
func (s *Server) SetJobRunner(j JobRunner) { s.jobs = j }

// SetLiveHub enables the live account SSE feed.
func (s *Server) SetLiveHub(h *LiveHub) { s.live = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		// Long-lived SSE stream stays outside the request timeout.
		if s.live != nil {
			r.Get("/account/live", s.live.HandleSSE)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/pricing", s.handlePricing)
			r.Get("/pricing/quote", s.handleQuote)
			r.Get("/entitlements", s.handleEntitlements)
			r.Post("/entitlements/purchase", s.handlePurchase)

			r.Get("/account", s.handleAccount)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/debit", s.handleDebit)
			r.Post("/credit", s.handleCredit)
			r.Get("/history", s.handleHistory)

			r.Post("/reservations", s.handleReserve)
			r.Post("/reservations/{id}/commit", s.handleCommit)
			r.Post("/reservations/{id}/release", s.handleRelease)

			if s.jobs != nil {
				r.Post("/jobs", s.handleSubmitJob)
				r.Get("/jobs/{id}", s.handleGetJob)
			}
		})
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    typ,
		},
	})
}

// writeDomainError maps err to a status code and error type.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}
	writeError(w, status, err.Error(), typ)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotLoggedIn):
		return http.StatusUnauthorized, "not_logged_in"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrUnknownTier):
		return http.StatusNotFound, "unknown_tier"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, domain.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found"
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, domain.ErrNoBackend):
		return http.StatusNotFound, "no_backend"
	case errors.Is(err, domain.ErrAtCapacity):
		return http.StatusServiceUnavailable, "at_capacity"
	default:
		return http.StatusInternalServerError, observability.RejectionReason(err)
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request")
		return false
	}
	return true
}

// corsMiddleware adds CORS headers for local UI panels.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
