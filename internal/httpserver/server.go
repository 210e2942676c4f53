package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gallerio/internal/domain"
	"gallerio/internal/metrics"
	"gallerio/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultReceiptLimit = 50

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	PaymentWebhook http.Handler
}

// IdentitySource exposes the signed-in user.
type IdentitySource interface {
	Current() (domain.Identity, bool)
}

// Ledger is the subset of the local ledger the server reads.
type Ledger interface {
	Ping(ctx context.Context) error
	ListReceipts(ctx context.Context, customerID int64, limit int) ([]repo.Receipt, error)
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Session IdentitySource
	Ledger  Ledger
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/session", server.handleSession)
	mux.HandleFunc("/receipts", server.handleReceipts)

	if handlers.PaymentWebhook != nil {
		mux.Handle("/webhook/payments", handlers.PaymentWebhook)
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := map[string]string{"status": "ok"}
	if s.deps.Ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ledger.Ping(ctx); err != nil {
			s.logger.Warn("ledger ping failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "ledger": "unreachable"})
			return
		}
		status["ledger"] = "ok"
	}
	writeJSON(w, status)
}

// handleSession reports who is signed in. The token never leaves the process.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Session == nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	identity, ok := s.deps.Session.Current()
	if !ok {
		writeJSON(w, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, map[string]any{
		"authenticated": true,
		"id":            identity.ID,
		"email":         identity.Email,
		"displayName":   identity.DisplayName,
		"role":          identity.Role,
	})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Ledger == nil {
		http.Error(w, "ledger disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultReceiptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	var customerID int64
	if raw := r.URL.Query().Get("customerId"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "invalid customerId", http.StatusBadRequest)
			return
		}
		customerID = n
	}

	receipts, err := s.deps.Ledger.ListReceipts(r.Context(), customerID, limit)
	if err != nil {
		s.logger.Error("failed listing receipts", "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http").Inc()
		}
		http.Error(w, "failed listing receipts", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []repo.Receipt{}
	}
	writeJSON(w, map[string]any{
		"count":    len(receipts),
		"receipts": receipts,
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
