/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       HTTP status surface for the worker: health, Prometheus
             /metrics, read-only progress polling, and cancel, behind
             a standard chi middleware chain (RequestID → Recoverer →
             request logger → rate limit), trimmed to what a
             worker-internal API needs.
Root Cause:  Sprint task Q030 — HTTP status surface.
Context:     This is not a public client API (no auth middleware, no
             CORS, no provider header normalization — there is no
             "provider" here); it is the operational surface a
             dashboard or cron job hits to poll/cancel a QuoteRequest.
Suitability: L3 — standard chi middleware chain and handler wiring.
──────────────────────────────────────────────────────────────
*/

// Package api exposes the worker's operational HTTP surface: health,
// metrics, and per-QuoteRequest progress/cancel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cotaai/quotepipe/internal/metrics"
	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/redisclient"
	"github.com/cotaai/quotepipe/internal/store"
)

// requestStore is the subset of *store.QuoteRequestStore the status
// surface needs.
type requestStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.QuoteRequest, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// API bundles the handlers' dependencies.
type API struct {
	requests requestStore
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(requests *store.QuoteRequestStore, m *metrics.Metrics, log zerolog.Logger) *API {
	return &API{requests: requests, metrics: m, log: log}
}

// Router builds the chi router. rdb may be nil, in which case the rate
// limiter degrades to allow-all.
func (a *API) Router(rdb *redisclient.Client, rpm int) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(a.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "quotepipe-worker"})
	})

	if a.metrics != nil {
		r.Get("/metrics", a.metrics.Handler().ServeHTTP)
	}

	r.Route("/v1/quotes/{id}", func(r chi.Router) {
		r.Use(NewRateLimiter(rdb, rpm, a.log).Handler)
		r.Get("/progress", a.handleProgress)
		r.Post("/cancel", a.handleCancel)
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
