package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed the slowest expected generation call.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds a single /query request including the backend call.
	// Zero means no limit beyond the client's own connection.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained /query rate per client IP in requests per
	// second (default 2).
	RateLimit float64
	// RateBurst is the per-client burst on /query (default 5).
	RateBurst int
	// AdminKey is the Bearer token required on /api/admin/* routes.
	// If empty, authentication is disabled (development mode).
	AdminKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the interface handleQuery calls. *rag.Orchestrator satisfies
// it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, q rag.Query) (rag.Result, error)
}

// indexer exposes the live snapshot and the rebuild trigger.
// *rag.Engine satisfies it.
type indexer interface {
	Snapshot() *index.Snapshot
	Rebuild(ctx context.Context) (*index.Snapshot, error)
}

// Server is the HTTP server in front of the answer orchestrator.
type Server struct {
	// answerer serves POST /query.
	answerer answerer
	// indexer backs /api/stats and the admin reindex route.
	indexer indexer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// errorResponse is the JSON body of every non-2xx /query and admin response.
// Kind lets clients tell failure classes apart without parsing Error.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Error kinds carried in errorResponse.Kind.
const (
	kindBadRequest   = "bad_request"
	kindEncoding     = "encoding"
	kindEmptyIndex   = "empty_index"
	kindBackend      = "backend"
	kindRepository   = "repository"
	kindTimeout      = "timeout"
	kindInternal     = "internal"
	kindRateLimited  = "rate_limited"
	kindUnauthorized = "unauthorized"
)

// statsResponse is the JSON body of GET /api/stats and POST /api/admin/reindex.
type statsResponse struct {
	Passages int       `json:"passages"`
	Width    int       `json:"width"`
	BuiltAt  time.Time `json:"built_at"`
}
