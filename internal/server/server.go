// Package server implements the HTTP surface of lexrag: the static query page,
// POST /query, and the operational endpoints (health, readiness, stats,
// metrics, admin reindex). The server is started by the `lexrag serve` command.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/lexrag/internal/audit"
	"github.com/54b3r/lexrag/internal/embedder"
	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/rag"
	"github.com/54b3r/lexrag/internal/version"
)

//go:embed static/index.html
var staticFS embed.FS

// maxQueryBody caps the size of a POST /query body.
const maxQueryBody = 1 << 20

// New constructs a Server around the orchestrator and its engine.
func New(orch *rag.Orchestrator, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	return newServer(orch, orch.Engine(), cfg)
}

func newServer(a answerer, idx indexer, cfg *Config) (*Server, error) {
	if a == nil || idx == nil {
		return nil, fmt.Errorf("server: answerer and indexer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		answerer: a,
		indexer:  idx,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}
	s.metrics.indexPassages.Set(float64(idx.Snapshot().Len()))

	if cfg.AdminKey == "" {
		s.log.Warn("server: LEXRAG_ADMIN_KEY not set, admin routes are unauthenticated")
	}

	rl, stop := newQueryLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal.Inc)
	s.stopRL = stop

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /query", rl.middleware(http.HandlerFunc(s.handleQuery)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.Handle("POST /api/admin/reindex", adminOnly(cfg.AdminKey, http.HandlerFunc(s.handleReindex)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleIndex serves the embedded query page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleQuery handles POST /query. Success is 200 with {"body": ...}; every
// failure carries an errorResponse so it can never be mistaken for an answer.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var q rag.Query
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err := dec.Decode(&q); err != nil {
		s.observeQuery("bad_request", start)
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(q.Prompt) == "" {
		s.observeQuery("bad_request", start)
		writeError(w, http.StatusBadRequest, kindBadRequest, "prompt is required")
		return
	}

	ctx := r.Context()
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	res, err := s.answerer.Answer(ctx, q)
	if err != nil {
		status, kind := classify(err)
		s.observeQuery(kind, start)
		if errors.Is(r.Context().Err(), context.Canceled) {
			log.Info("query: client disconnected", slog.Any("error", err))
			return
		}
		attrs := []any{
			slog.String("kind", kind),
			slog.Int("status", status),
			slog.Any("error", err),
		}
		if kind == kindEmptyIndex {
			attrs = append(attrs, slog.String("hint", "run `lexrag seed` then POST /api/admin/reindex"))
		}
		log.Warn("query failed", attrs...)
		writeError(w, status, kind, publicMessage(kind, err))
		return
	}

	s.observeQuery("ok", start)
	log.Info("query answered",
		slog.Int("row", res.Match.Row),
		slog.Float64("score", res.Match.Score),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, res.Response)
}

// classify maps an Answer error to its HTTP status and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, embedder.ErrEncoding):
		return http.StatusBadRequest, kindEncoding
	case errors.Is(err, index.ErrEmptyMatrix):
		return http.StatusServiceUnavailable, kindEmptyIndex
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	case errors.Is(err, rag.ErrBackend):
		return http.StatusInternalServerError, kindBackend
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

// publicMessage returns the client-facing error text for kind. Backend and
// internal errors are not echoed verbatim.
func publicMessage(kind string, err error) string {
	switch kind {
	case kindEncoding:
		return err.Error()
	case kindEmptyIndex:
		return "no passages are indexed"
	case kindTimeout:
		return "query timed out"
	case kindBackend:
		return "generation backend failed"
	default:
		return "internal error"
	}
}

func (s *Server) observeQuery(outcome string, start time.Time) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsFor(s.indexer.Snapshot()))
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// handleReindex handles POST /api/admin/reindex. It rebuilds the index from
// the repository and swaps it in; in-flight queries keep the old snapshot.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	snap, err := s.indexer.Rebuild(r.Context())
	audit.LogAdminAction(r.Context(), log, "reindex", clientIP(r), time.Since(start), err)
	if err != nil {
		s.metrics.rebuildsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, kindRepository, "reindex failed; previous index still serving")
		return
	}

	s.metrics.rebuildsTotal.WithLabelValues("ok").Inc()
	s.metrics.indexPassages.Set(float64(snap.Len()))
	log.Info("index rebuilt",
		slog.Int("passages", snap.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, statsFor(snap))
}

func statsFor(snap *index.Snapshot) statsResponse {
	resp := statsResponse{Passages: snap.Len(), Width: snap.Width()}
	if snap != nil {
		resp.BuiltAt = snap.BuiltAt()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
