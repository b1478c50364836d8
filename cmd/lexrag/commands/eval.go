package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/eval"
	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/tracing"
)

// NewEvalCmd constructs the `lexrag eval` command, which scores RAG answers
// against plain model answers on a question set.
func NewEvalCmd() *cobra.Command {
	var judgeModel string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "eval <questions.json>",
		Short: "Compare answers with and without retrieval using a judge model",
		Long: `Read a JSON array of {"question": ..., "answer": ...} objects. For each
question, ask the generation backend directly (answer O) and through the
retrieval pipeline (answer R), then ask the judge model which answer is
better. Prints one line per question and the final tally.

The judge defaults to the answering model.

Examples:
  lexrag eval questions.json
  lexrag eval --judge-model llama3:70b --verbose questions.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			cases, err := eval.LoadCases(args[0])
			if err != nil {
				return err
			}

			flush, enabled := tracing.Install()
			defer flush()
			if enabled {
				log.Info("langfuse tracing enabled")
			}

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}
			defer func() { _ = a.Close() }()

			model := a.providerCfg.ModelName()
			if judgeModel == "" {
				judgeModel = model
			}
			runner, err := eval.NewRunner(a.orch, a.gen, model, judgeModel)
			if err != nil {
				return err
			}
			log.Info("eval: starting",
				slog.Int("cases", len(cases)),
				slog.String("model", model),
				slog.String("judge", judgeModel),
			)

			errOut := cmd.ErrOrStderr()
			tally, outcomes, err := runner.Run(ctx, cases, func(i int, o eval.Outcome) {
				fmt.Fprintf(errOut, "[%d/%d] %s %s\n", i+1, len(cases), verdictLabel(o), o.Question)
			})
			if err != nil {
				if errors.Is(err, index.ErrEmptyMatrix) {
					return fmt.Errorf("eval: no passages are indexed; run `lexrag seed` first")
				}
				return err
			}

			out := cmd.OutOrStdout()
			if verbose {
				printOutcomes(out, outcomes)
			}
			return printTally(out, tally)
		},
	}

	cmd.Flags().StringVar(&judgeModel, "judge-model", "", "Model that picks the better answer (default: the answering model)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print both answers and the judge reply for every question")

	return cmd
}

func verdictLabel(o eval.Outcome) string {
	if o.Err != nil {
		return "ERR"
	}
	return string(o.Verdict)
}

func printOutcomes(w io.Writer, outcomes []eval.Outcome) {
	for i, o := range outcomes {
		fmt.Fprintf(w, "#%d %s\n", i+1, o.Question)
		fmt.Fprintf(w, "  O: %s\n", oneLine(o.Baseline))
		fmt.Fprintf(w, "  R: %s\n", oneLine(o.RAG))
		if o.Err != nil {
			fmt.Fprintf(w, "  error: %v\n\n", o.Err)
			continue
		}
		fmt.Fprintf(w, "  judge: %s (%s)\n\n", o.Verdict, oneLine(o.Judge))
	}
}

func printTally(w io.Writer, t eval.Tally) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Cases\t%d\n", t.Cases)
	fmt.Fprintf(tw, "Baseline (O)\t%d\t%.1f%%\n", t.Baseline, 100*t.Share(eval.VerdictBaseline))
	fmt.Fprintf(tw, "RAG (R)\t%d\t%.1f%%\n", t.RAG, 100*t.Share(eval.VerdictRAG))
	fmt.Fprintf(tw, "Invalid\t%d\n", t.Invalid)
	fmt.Fprintf(tw, "Errors\t%d\n", t.Errors)
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
