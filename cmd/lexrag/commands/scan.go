package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/store"
)

// NewScanCmd constructs the `lexrag scan` command, which prints every stored
// passage in repository order.
func NewScanCmd() *cobra.Command {
	var showTokens bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print every passage stored in the repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			repo, err := openRepository(ctx, s, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			out := cmd.OutOrStdout()
			n := 0
			err = repo.Scan(ctx, func(p store.Passage) error {
				if showTokens {
					_, err := fmt.Fprintf(out, "%d\t%s\t%v\n", n, p.Text, p.Tokens)
					n++
					return err
				}
				_, err := fmt.Fprintf(out, "%d\t%s\n", n, p.Text)
				n++
				return err
			})
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d passages\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTokens, "tokens", false, "Also print each passage's tokens")
	return cmd
}
