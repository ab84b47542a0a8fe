// Package api provides the HTTP server for claimd.
// It exposes the claim lifecycle REST surface consumed by the
// marketplace backend and the admin tooling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prepspace/claimd/internal/domain"
)

// Server is the claimd HTTP API server.
type Server struct {
	claims         *ClaimAPI
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(claims *ClaimAPI) *Server {
	return &Server{claims: claims}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": "0.1.0",
		})
	})

	if s.claims != nil {
		r.Route("/api/claims", func(r chi.Router) {
			r.Post("/", s.claims.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.claims.HandleGet)
				r.Delete("/", s.claims.HandleDeleteDraft)
				r.Get("/history", s.claims.HandleHistory)
				r.Get("/evidence", s.claims.HandleListEvidence)
				r.Post("/evidence", s.claims.HandleAddEvidence)
				r.Post("/submit", s.claims.HandleSubmit)
				r.Post("/respond", s.claims.HandleRespond)
				r.Post("/decide", s.claims.HandleDecide)
				r.Post("/recharge", s.claims.HandleRecharge)
				r.Post("/refund", s.claims.HandleRefund)
			})
		})
	}

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
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
// Conflicts are 409 so callers can distinguish "lost the race" from
// "bad request" and re-read the claim instead of retrying blindly.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, domain.ErrClaimNotFound), errors.Is(err, domain.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotRefundable), errors.Is(err, domain.ErrNoPaymentMethod):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
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
