package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/lexrag/internal/logging"
)

// checkTimeout bounds each individual dependency check during a readiness
// request.
const checkTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Implementations must be safe to call from multiple
// goroutines.
type Pinger interface {
	// Ping returns nil when the dependency is healthy.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "ollama", "sqlite", "index").
	Name() string
}

// CheckResult holds the per-dependency result of a readiness check.
type CheckResult struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false.
	Error string `json:"error,omitempty"`
	// Latency is how long the check took.
	Latency time.Duration `json:"latency_ns"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency check succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency check results.
	Checks []CheckResult `json:"checks"`
}

// RunChecks pings each pinger in order with a per-check timeout. It is
// shared by GET /api/ready and the `lexrag diagnose` command.
func RunChecks(ctx context.Context, pingers []Pinger) ([]CheckResult, bool) {
	results := make([]CheckResult, 0, len(pingers))
	allOK := true
	for _, p := range pingers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := p.Ping(checkCtx)
		cancel()

		check := CheckResult{Name: p.Name(), OK: err == nil, Latency: time.Since(start)}
		if err != nil {
			check.Error = err.Error()
			allOK = false
		}
		results = append(results, check)
	}
	return results, allOK
}

// handleReady handles GET /api/ready. It returns 200 when all dependencies
// are reachable, or 503 when any check fails. Unlike /api/health (liveness),
// this endpoint reflects actual dependency state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks, ok := RunChecks(r.Context(), s.pingers)
	for _, c := range checks {
		if !c.OK {
			log.Warn("readiness check failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{Ready: ok, Checks: checks})
}
