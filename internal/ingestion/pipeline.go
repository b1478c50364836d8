// Package ingestion implements the corpus seeding pipeline: each document is
// read, chunked under the context-window token budget, embedded and inserted
// into the passage repository. Documents are processed in parallel; a bad
// document or chunk is logged and skipped, never aborting the batch.
//
// This pipeline is invoked by the `lexrag seed` CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/lexrag/internal/chunker"
	"github.com/54b3r/lexrag/internal/embedder"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/store"
)

// Embedder is the subset of the lexical embedder used during ingestion.
type Embedder interface {
	Embed(text string) (store.Passage, error)
	CountTokens(text string) (int, error)
	Width() int
}

// Inserter is the subset of store.Repository used during ingestion.
type Inserter interface {
	Insert(ctx context.Context, p store.Passage) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Workers bounds the number of documents processed concurrently.
	// Defaults to runtime.NumCPU() if zero.
	Workers int

	// MaxTokens is the chunk token budget. Defaults to the embedder width,
	// so a chunk normally fits its embedding without truncation.
	MaxTokens int

	// Reader returns a document's text. Defaults to ReadDocument.
	Reader func(path string) (string, error)
}

// Pipeline orchestrates the read → chunk → embed → insert flow.
type Pipeline struct {
	embedder Embedder
	repo     Inserter
	cfg      Config
}

// DocumentError records a document, sentence or chunk that was skipped.
type DocumentError struct {
	Path string
	Err  error
}

// Report summarises an ingestion run.
type Report struct {
	Documents int
	Failed    int
	Chunks    int
	Inserted  int
	Skipped   int
	Errors    []DocumentError
	Duration  time.Duration
}

// Progress is reported after each document finishes.
type Progress struct {
	Done  int
	Total int
	Path  string
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(emb Embedder, repo Inserter, cfg Config) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("ingestion: repository must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = emb.Width()
	}
	if cfg.Reader == nil {
		cfg.Reader = ReadDocument
	}
	return &Pipeline{embedder: emb, repo: repo, cfg: cfg}, nil
}

// Ingest processes every path. Only context cancellation stops the run
// early; all other failures are recorded in the Report.
func (p *Pipeline) Ingest(ctx context.Context, paths []string, progress func(Progress)) (*Report, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	var (
		mu   sync.Mutex
		rep  = &Report{Documents: len(paths)}
		done int
	)
	record := func(path string, res docResult) {
		mu.Lock()
		defer mu.Unlock()
		rep.Chunks += res.chunks
		rep.Inserted += res.inserted
		rep.Skipped += len(res.errs)
		if res.fatal != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, DocumentError{Path: path, Err: res.fatal})
		}
		for _, err := range res.errs {
			rep.Errors = append(rep.Errors, DocumentError{Path: path, Err: err})
		}
		done++
		if progress != nil {
			progress(Progress{Done: done, Total: len(paths), Path: path})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.ingestDocument(gctx, path)
			if res.fatal != nil {
				log.Warn("ingestion: document skipped",
					slog.String("path", path),
					slog.Any("error", res.fatal),
				)
			}
			for _, err := range res.errs {
				log.Warn("ingestion: passage skipped",
					slog.String("path", path),
					slog.Any("error", err),
				)
			}
			record(path, res)
			return gctx.Err()
		})
	}
	err := g.Wait()
	rep.Duration = time.Since(start)

	log.Info("ingestion: finished",
		slog.Int("documents", rep.Documents),
		slog.Int("failed", rep.Failed),
		slog.Int("chunks", rep.Chunks),
		slog.Int("inserted", rep.Inserted),
		slog.Int("skipped", rep.Skipped),
		slog.Duration("duration", rep.Duration),
	)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return rep, fmt.Errorf("ingestion: %w", err)
	}
	return rep, nil
}

type docResult struct {
	chunks   int
	inserted int
	fatal    error
	errs     []error
}

func (p *Pipeline) ingestDocument(ctx context.Context, path string) docResult {
	var res docResult

	text, err := p.cfg.Reader(path)
	if err != nil {
		res.fatal = err
		return res
	}
	chunks, skipped, err := chunker.Chunk(text, p.cfg.MaxTokens, p.embedder)
	if err != nil {
		res.fatal = fmt.Errorf("chunk: %w", err)
		return res
	}
	for _, err := range skipped {
		res.errs = append(res.errs, fmt.Errorf("chunk: %w", err))
	}
	res.chunks = len(chunks)

	for _, c := range chunks {
		if ctx.Err() != nil {
			return res
		}
		passage, err := p.embedder.Embed(c)
		if err != nil {
			res.errs = append(res.errs, err)
			continue
		}
		if err := p.repo.Insert(ctx, passage); err != nil {
			if errors.Is(err, context.Canceled) {
				return res
			}
			res.errs = append(res.errs, err)
			continue
		}
		res.inserted++
	}
	return res
}

// IsEncodingFailure reports whether a recorded error came from tokenisation
// rather than storage.
func IsEncodingFailure(err error) bool {
	return errors.Is(err, embedder.ErrEncoding)
}
