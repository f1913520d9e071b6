// Package server implements the bulkops HTTP API: history queries and
// exports, batch retries, rollbacks and bulk price operations for a
// dashboard front end.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/remote"
)

// Config holds configurable limits for the server.
type Config struct {
	MaxRequestBody    int64 // bytes, for JSON endpoints
	MaxImportBody     int64 // bytes, for history imports
	RequestsPerMinute int   // per-client rate limit
	// APIToken is the bearer token required on /api routes. Empty disables
	// authentication.
	APIToken string
	Webhooks *WebhookNotifier
	// SweepInterval enables the discount expiry sweeper when positive.
	SweepInterval time.Duration
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody:    8 * 1024 * 1024,  // 8MB
		MaxImportBody:     64 * 1024 * 1024, // 64MB
		RequestsPerMinute: 300,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and
// unsubscribes webhooks; call it on server shutdown.
func Handler(svc *core.Service, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIToken == "" {
		logger.Warn("api token not set, serving without authentication")
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authMiddleware(cfg.APIToken)

	// Execution order: auth -> rl -> handler
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, rl.middleware)
	}
	h := func(fn serviceHandlerFunc) http.Handler {
		return withAuth(makeServiceHandler(svc, cfg, logger, fn))
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.History().Count(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: history store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// History
	mux.Handle("GET /api/v1/history", h(handleListHistory))
	mux.Handle("DELETE /api/v1/history", h(handleClearHistory))
	mux.Handle("GET /api/v1/history/stats", h(handleHistoryStats))
	mux.Handle("GET /api/v1/history/export", h(handleExportHistory))
	mux.Handle("POST /api/v1/history/import", h(handleImportHistory))
	mux.Handle("GET /api/v1/history/{id}", h(handleGetEntry))

	// Batches and rollback
	mux.Handle("GET /api/v1/batches/{id}", h(handleGetBatch))
	mux.Handle("POST /api/v1/batches/{id}/retry", h(handleRetryBatch))
	mux.Handle("POST /api/v1/rollback/{id}", h(handleRollback))

	// Operations
	mux.Handle("POST /api/v1/price-rules/apply", h(handleApplyRule))
	mux.Handle("POST /api/v1/price-rules/preview", h(handlePreviewRule))
	mux.Handle("POST /api/v1/discounts/apply", h(handleApplyDiscount))
	mux.Handle("POST /api/v1/discounts/expire", h(handleExpireDiscounts))
	mux.Handle("POST /api/v1/images/upload", h(handleUploadImages))
	mux.Handle("PUT /api/v1/products/{id}", h(handleUpdateProduct))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)

	unsubscribe := func() {}
	if cfg.Webhooks != nil {
		unsubscribe = svc.History().Subscribe(cfg.Webhooks.NotifyAppended)
	}
	stopSweeper := func() {}
	if cfg.SweepInterval > 0 {
		stopSweeper = StartExpirySweeper(svc, cfg.SweepInterval, logger)
	}

	cleanup := func() {
		stopSweeper()
		unsubscribe()
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type serviceHandlerFunc func(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config)

// makeServiceHandler binds the service and config to a handler and logs
// internal errors written by it.
func makeServiceHandler(svc *core.Service, cfg *Config, logger *slog.Logger, fn serviceHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(rw, r, svc, cfg)
		if rw.statusCode >= http.StatusInternalServerError {
			reqID, _ := r.Context().Value(contextKeyRequestID).(string)
			logger.Error("request failed", "path", r.URL.Path, "status", rw.statusCode, "request_id", reqID)
		}
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// authMiddleware checks the bearer token in constant time.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":   "auth_failed",
					"message": "missing or invalid Authorization header",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	body := io.LimitReader(r.Body, maxSize+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxSize {
		return fmt.Errorf("request body exceeds %d bytes", maxSize)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": msg})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var re *remote.RemoteError
	var se *history.StorageError
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, history.ErrAmbiguousID),
		errors.Is(err, history.ErrInvalidSnapshot):
		writeBadRequest(w, err.Error())
	case errors.Is(err, core.ErrEntryNotFound), errors.Is(err, history.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": err.Error()})
	case errors.Is(err, core.ErrRollbackIneligible), errors.Is(err, core.ErrNothingToRetry):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "message": err.Error()})
	case errors.As(err, &re):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "remote_error", "code": re.Code, "message": err.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error", "message": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
	}
}
