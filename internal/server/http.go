package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/op"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/protocol"
	"LendLedger/internal/query"
)

const maxBodyBytes = 1 << 20

// SubmitFunc hands a parsed operation to the core's input path. It blocks
// until the op is enqueued or the context is done.
type SubmitFunc func(ctx context.Context, o op.Op) error

// Deps holds everything the HTTP edge needs.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	SnapshotMgr   *persistence.SnapshotManager
	Submit        SubmitFunc
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	StartTime     time.Time
	Log           zerolog.Logger
}

// HTTPServer serves the read API, op submission and admin endpoints.
type HTTPServer struct {
	httpServer *http.Server
	deps       *Deps
	log        zerolog.Logger
}

func NewHTTPServer(addr string, deps *Deps) *HTTPServer {
	s := &HTTPServer{deps: deps, log: deps.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handlePrices)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/liquidations", s.handleListLiquidations)
		r.Get("/liquidations/stats", s.handleLiquidationStats)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/position", s.handlePosition)
			r.Get("/capacity", s.handleCapacity)
			r.Get("/debt", s.handleDebtBalances)
			r.Get("/movements", s.handleMovements)
			r.Get("/liquidations", s.handleLiquidations)
		})

		r.Post("/ops/{opType}", s.handleSubmitOp)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rebuild-projections", s.handleRebuildProjections)
			r.Get("/verify-integrity", s.handleVerifyIntegrity)
			r.Get("/oplog", s.handleOpLogInfo)
		})
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================
// Read API
// ============================================================

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	lastSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"last_sequence":  lastSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

func (s *HTTPServer) handlePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.deps.QueryService.GetPrices(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"prices": prices})
}

func (s *HTTPServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	pos, err := s.deps.QueryService.GetPosition(r.Context(), account)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, pos)
}

func (s *HTTPServer) handleCapacity(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	capacity, err := s.deps.QueryService.GetBorrowCapacity(r.Context(), account)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, capacity)
}

func (s *HTTPServer) handleDebtBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	balances, err := s.deps.QueryService.GetDebtBalances(r.Context(), account)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (s *HTTPServer) handleMovements(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var after *int64
	if v := queryInt64(r, "after", 0); v > 0 {
		after = &v
	}
	movements, err := s.deps.QueryService.GetMovementHistory(r.Context(), account, limit, after)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"movements": movements})
}

func (s *HTTPServer) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	records, err := s.deps.QueryService.GetLiquidationHistory(r.Context(), account, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (s *HTTPServer) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var after *int64
	if v := queryInt64(r, "after", 0); v > 0 {
		after = &v
	}
	accounts, err := s.deps.QueryService.ListAccounts(r.Context(), limit, after)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *HTTPServer) handleListLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var after *uint64
	if v := queryInt64(r, "after", 0); v > 0 {
		u := uint64(v)
		after = &u
	}
	records, err := s.deps.QueryService.ListLiquidations(r.Context(), limit, after)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (s *HTTPServer) handleLiquidationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.QueryService.LiquidationStats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

// ============================================================
// Op submission
// ============================================================

// handleSubmitOp accepts an operation over HTTP and injects it into the
// same input path as NATS-delivered ops. Acceptance means enqueued, not
// applied; callers observe the outcome through the read API.
func (s *HTTPServer) handleSubmitOp(w http.ResponseWriter, r *http.Request) {
	opType := chi.URLParam(r, "opType")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("read body: "+err.Error()))
		return
	}

	parsed, err := ingestion.ParseRawOp(ingestion.RawOp{
		Subject:   "http",
		Data:      body,
		Timestamp: time.Now(),
	}, opType)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := s.deps.Submit(r.Context(), parsed); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, errorBody("submit: "+err.Error()))
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":        true,
		"op_type":         opType,
		"idempotency_key": parsed.IdempotencyKey(),
	})
}

// ============================================================
// Admin API
// ============================================================

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB, s.log); err != nil {
		s.respondError(w, r, fmt.Errorf("rebuild: %w", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleOpLogInfo(w http.ResponseWriter, r *http.Request) {
	lastSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"last_sequence": lastSeq})
}

// ============================================================
// Helpers
// ============================================================

func (s *HTTPServer) accountParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("invalid account id"))
		return uuid.Nil, false
	}
	return account, true
}

func (s *HTTPServer) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

// respondError maps business-rule errors to HTTP status codes.
func (s *HTTPServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		s.respondJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, protocol.ErrUnauthorized):
		s.respondJSON(w, http.StatusForbidden, errorBody(err.Error()))
	case errors.Is(err, protocol.ErrPaused):
		s.respondJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.respondJSON(w, http.StatusGatewayTimeout, errorBody("timed out"))
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.respondJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func queryInt64(r *http.Request, name string, fallback int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// instrument records request counts and latency per route pattern.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		s.deps.Metrics.QueryRequests.WithLabelValues(pattern, status).Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
		if ww.Status() >= 500 {
			s.deps.Metrics.QueryErrors.WithLabelValues(pattern, status).Inc()
		}
	})
}
