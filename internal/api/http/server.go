package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	tradeSvc *appTrade.Service
	verifier *TokenVerifier
	limiter  *rateLimiter
	logger   zerolog.Logger
}

// NewServer wires the trade API. A zero RateLimit disables limiting.
func NewServer(tradeSvc *appTrade.Service, verifier *TokenVerifier, limit RateLimit, logger zerolog.Logger) *Server {
	s := &Server{
		tradeSvc: tradeSvc,
		verifier: verifier,
		logger:   logger.With().Str("service", "http").Logger(),
	}
	if limit.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(limit)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/trades", func(r chi.Router) {
		r.Use(s.requireAuth)

		// long-lived; no request timeout
		r.Get("/{tradeId}/stream", s.streamTrade)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/{tradeId}", s.getTrade)
			r.Get("/{tradeId}/events", s.listTradeEvents)

			r.Group(func(r chi.Router) {
				r.Use(s.limitWrites)
				r.Post("/", s.createTrade)
				r.Post("/{tradeId}/confirmation", s.setConfirmation)
				r.Post("/{tradeId}/wallet", s.setWallet)
				r.Post("/{tradeId}/stage", s.setStage)
				r.Post("/{tradeId}/escrow/lock", s.lockFunds)
				r.Post("/{tradeId}/escrow/release", s.releaseFunds)
			})
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps engine errors onto the API taxonomy.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainTrade.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domainTrade.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "NOT_A_PARTY", err.Error())
	case errors.Is(err, domainTrade.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, domainTrade.ErrInvalidTransition):
		respondError(w, http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domainTrade.ErrStaleState):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domainTrade.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, escrow.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "ESCROW_UNAVAILABLE", err.Error())
	default:
		s.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
