package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/server"
	"github.com/54b3r/lexrag/internal/tracing"
)

// NewServeCmd constructs the `lexrag serve` command, which builds the index
// and starts the HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var queryTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lexrag HTTP server",
		Long: `Build the similarity index from the passage repository and serve:

  GET  /                    query page
  POST /query               {"prompt": "..."} -> {"body": "..."}
  GET  /api/health          liveness
  GET  /api/ready           readiness (index, repository, backend)
  GET  /api/stats           index size and build time
  GET  /metrics             Prometheus metrics
  POST /api/admin/reindex   rebuild the index (Bearer LEXRAG_ADMIN_KEY)

Examples:
  lexrag serve
  lexrag serve --port 9090
  MODEL_PROVIDER=openai lexrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			flush, enabled := tracing.Install()
			defer flush()
			if enabled {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
			}

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = a.Close() }()

			cfg := a.settings.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			srv, err := server.New(a.orch, &server.Config{
				Host:         cfg.Host,
				Port:         cfg.Port,
				Logger:       log,
				Pingers:      buildPingers(a),
				RateLimit:    cfg.RateLimit,
				RateBurst:    cfg.RateBurst,
				AdminKey:     cfg.AdminKey,
				QueryTimeout: queryTimeout,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides LEXRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides LEXRAG_PORT)")
	cmd.Flags().DurationVar(&queryTimeout, "query-timeout", 2*time.Minute, "Upper bound on a single /query request; 0 disables")

	return cmd
}
