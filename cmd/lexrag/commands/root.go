// Package commands defines all Cobra CLI commands for the lexrag binary.
package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/audit"
	"github.com/54b3r/lexrag/internal/config"
	"github.com/54b3r/lexrag/internal/logging"
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string
	var envFile string

	root := &cobra.Command{
		Use:   "lexrag",
		Short: "lexrag: answer questions from your documents with lexical retrieval",
		Long: `lexrag indexes a directory of documents as fixed-width token-id vectors and
answers questions by retrieving the most similar passage and handing it,
together with the question, to a text-generation backend.

Typical workflow:
  lexrag seed             # chunk, embed and store the corpus
  lexrag serve            # serve GET / and POST /query
  lexrag ask "question"   # one-shot answer without HTTP
  lexrag eval set.json    # judge RAG answers against plain model answers

Configuration comes from environment variables, a .env file, or a YAML
config file (~/.lexrag/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env never overrides variables already set in the environment.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}

			log := logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.lexrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the config file")

	root.AddCommand(
		NewSeedCmd(),
		NewScanCmd(),
		NewAskCmd(),
		NewEvalCmd(),
		NewServeCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
