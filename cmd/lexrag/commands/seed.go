package commands

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/lexrag/internal/ingestion"
	"github.com/54b3r/lexrag/internal/logging"
)

// NewSeedCmd constructs the `lexrag seed` command, which wipes the passage
// repository and rebuilds it from the corpus directory.
func NewSeedCmd() *cobra.Command {
	var keep bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Chunk, embed and store every document in the corpus",
		Long: `Walk LEXRAG_CORPUS_PATH, split each document into sentence-aligned chunks of
at most LEXRAG_CONTEXT_WINDOW tokens, embed every chunk as a token-id vector
and insert it into the passage repository.

The repository is reset first unless --keep is given. Documents are processed
in parallel; a document or chunk that fails is logged and skipped and never
aborts the run.

Relevant environment variables:
  LEXRAG_CORPUS_PATH     Directory to ingest (required)
  LEXRAG_CORPUS_INCLUDE  Comma-separated doublestar globs (default: all files)
  LEXRAG_CORPUS_EXCLUDE  Comma-separated doublestar globs to skip
  LEXRAG_INGEST_WORKERS  Parallel documents (default: number of CPUs)

Examples:
  LEXRAG_CORPUS_PATH=./docs lexrag seed
  lexrag seed --keep`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			s, err := loadSettings(true)
			if err != nil {
				return err
			}
			emb, err := loadEmbedder(s, log)
			if err != nil {
				return err
			}
			repo, err := openRepository(ctx, s, log)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if !keep {
				if err := repo.Reset(ctx); err != nil {
					return fmt.Errorf("seed: reset repository: %w", err)
				}
				log.Info("repository reset")
			}

			walker, err := ingestion.NewWalker(s.Corpus.Include, s.Corpus.Exclude)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			paths, err := walker.Walk(s.Corpus.Path)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			log.Info("corpus scanned", slog.String("path", s.Corpus.Path), slog.Int("documents", len(paths)))

			pipeline, err := ingestion.NewPipeline(emb, repo, ingestion.Config{Workers: s.Corpus.Workers})
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			out := cmd.OutOrStdout()
			var progress func(ingestion.Progress)
			if !quiet && len(paths) > 0 {
				progress = newProgress(out, len(paths))
			}

			rep, err := pipeline.Ingest(ctx, paths, progress)
			if rep != nil {
				printReport(out, rep)
			}
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Append to the repository instead of resetting it first")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the progress bar")

	return cmd
}

// newProgress returns a progress callback rendering a bar on w.
func newProgress(w io.Writer, total int) func(ingestion.Progress) {
	var mu sync.Mutex
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Seeding[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	return func(p ingestion.Progress) {
		mu.Lock()
		defer mu.Unlock()
		_ = bar.Set(p.Done)
	}
}

// printReport writes the end-of-run summary.
func printReport(w io.Writer, rep *ingestion.Report) {
	var encoding, storage int
	for _, e := range rep.Errors {
		if ingestion.IsEncodingFailure(e.Err) {
			encoding++
		} else {
			storage++
		}
	}
	fmt.Fprintf(w, "Seeded %d passages from %d documents in %s\n",
		rep.Inserted, rep.Documents-rep.Failed, rep.Duration.Round(time.Millisecond))
	if rep.Failed > 0 || rep.Skipped > 0 {
		fmt.Fprintf(w, "Skipped: %d documents, %d passages (%d encoding, %d other)\n",
			rep.Failed, rep.Skipped, encoding, storage)
		for _, e := range rep.Errors {
			fmt.Fprintf(w, "  %s: %v\n", e.Path, e.Err)
		}
	}
}
