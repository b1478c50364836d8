package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/server"
)

// NewDiagnoseCmd constructs the `lexrag diagnose` command, which runs the
// same dependency checks as GET /api/ready and prints a table.
func NewDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check configuration, repository, index and backend readiness",
		Long: `Load the configuration, build the index and check every dependency the
server would report on GET /api/ready. Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			defer func() { _ = a.Close() }()

			checks, ok := server.RunChecks(ctx, buildPingers(a))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHECK\tSTATUS\tLATENCY\tDETAIL")
			for _, c := range checks {
				status := "ok"
				if !c.OK {
					status = "FAIL"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, status, c.Latency.Round(time.Microsecond), c.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("diagnose: one or more checks failed")
			}
			return nil
		},
	}
}
