package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/rag"
	"github.com/54b3r/lexrag/internal/tracing"
)

// NewAskCmd constructs the `lexrag ask` command, which answers one question
// in-process without starting the HTTP server.
func NewAskCmd() *cobra.Command {
	var showContext bool
	var retrieveOnly bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question from the indexed corpus",
		Long: `Build the index from the repository, retrieve the passage most similar to
the question and ask the generation backend for an answer.

Examples:
  lexrag ask "what color is the sky?"
  lexrag ask --context "at what temperature does water boil?"
  lexrag ask --retrieve-only "water"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			question := strings.Join(args, " ")

			flush, enabled := tracing.Install()
			defer flush()
			if enabled {
				log.Info("langfuse tracing enabled")
			}

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()

			if retrieveOnly {
				m, passage, err := a.orch.Retrieve(question)
				if err != nil {
					return askError(err)
				}
				_, err = fmt.Fprintf(out, "row %d (score %.4f): %s\n", m.Row, m.Score, passage)
				return err
			}

			res, err := a.orch.Answer(ctx, rag.Query{Prompt: question})
			if err != nil {
				return askError(err)
			}
			log.Debug("ask: answered", slog.Int("row", res.Match.Row), slog.Float64("score", res.Match.Score))

			if showContext {
				fmt.Fprintf(out, "Context (row %d, score %.4f): %s\n\n", res.Match.Row, res.Match.Score, res.Context)
			}
			_, err = fmt.Fprintln(out, res.Response.Body)
			return err
		},
	}

	cmd.Flags().BoolVar(&showContext, "context", false, "Print the retrieved passage before the answer")
	cmd.Flags().BoolVar(&retrieveOnly, "retrieve-only", false, "Print the nearest passage without calling the backend")

	return cmd
}

// askError turns orchestrator errors into actionable CLI messages.
func askError(err error) error {
	if errors.Is(err, index.ErrEmptyMatrix) {
		return fmt.Errorf("ask: no passages are indexed; run `lexrag seed` first")
	}
	return fmt.Errorf("ask: %w", err)
}
