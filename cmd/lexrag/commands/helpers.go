package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/lexrag/internal/config"
	"github.com/54b3r/lexrag/internal/embedder"
	"github.com/54b3r/lexrag/internal/provider"
	"github.com/54b3r/lexrag/internal/rag"
	"github.com/54b3r/lexrag/internal/server"
	"github.com/54b3r/lexrag/internal/store"
)

// loadSettings resolves and validates the typed settings. Any error is fatal.
func loadSettings(forSeed bool) (*config.Settings, error) {
	s, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if forSeed {
		err = s.ValidateForSeed()
	} else {
		err = s.Validate()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// storeConfig maps settings onto the repository configuration.
func storeConfig(s *config.Settings) store.Config {
	return store.Config{
		Backend: s.Store,
		Path:    s.DBPath,
		Qdrant: store.QdrantConfig{
			Host:       s.Qdrant.Host,
			Port:       s.Qdrant.Port,
			Collection: s.Qdrant.Collection,
			VectorSize: uint64(s.ContextWindow), //nolint:gosec // validated positive
			APIKey:     s.Qdrant.APIKey,
			UseTLS:     s.Qdrant.TLS,
		},
	}
}

// openRepository opens the configured passage repository.
func openRepository(ctx context.Context, s *config.Settings, log *slog.Logger) (store.Repository, error) {
	repo, err := store.Open(ctx, storeConfig(s))
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", s.Store, err)
	}
	attrs := []any{slog.String("backend", s.Store)}
	if s.Store == store.BackendQdrant {
		attrs = append(attrs, slog.String("collection", s.Qdrant.Collection))
	} else {
		attrs = append(attrs, slog.String("path", s.DBPath))
	}
	log.Info("repository opened", attrs...)
	return repo, nil
}

// loadEmbedder loads the vocabulary and builds the lexical embedder.
func loadEmbedder(s *config.Settings, log *slog.Logger) (*embedder.Lexical, error) {
	emb, err := embedder.Load(embedder.Config{
		TokenizerDir:  s.TokenizerDir,
		Tokenizer:     s.Tokenizer,
		ContextWindow: s.ContextWindow,
	})
	if err != nil {
		return nil, err
	}
	log.Info("vocabulary loaded",
		slog.String("tokenizer", s.Tokenizer),
		slog.Int("size", emb.Vocabulary().Size()),
		slog.Int("context_window", emb.Width()),
	)
	return emb, nil
}

// app bundles everything the query paths need.
type app struct {
	settings    *config.Settings
	repo        store.Repository
	embedder    *embedder.Lexical
	orch        *rag.Orchestrator
	gen         rag.Generator
	providerCfg *provider.Config
}

// Close releases the repository.
func (a *app) Close() error { return a.repo.Close() }

// buildApp performs the startup sequence shared by `serve`, `ask` and `eval`:
// settings, vocabulary, repository, initial index build, generation backend.
// A failure at any step is fatal.
func buildApp(ctx context.Context, log *slog.Logger) (*app, error) {
	s, err := loadSettings(false)
	if err != nil {
		return nil, err
	}

	emb, err := loadEmbedder(s, log)
	if err != nil {
		return nil, err
	}

	repo, err := openRepository(ctx, s, log)
	if err != nil {
		return nil, err
	}

	engine, err := rag.NewEngine(ctx, repo, s.ContextWindow)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	snap := engine.Snapshot()
	log.Info("index built", slog.Int("passages", snap.Len()), slog.Int("width", snap.Width()))
	if snap.Len() == 0 {
		log.Warn("index is empty; queries will fail until the corpus is seeded and reindexed")
	}

	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	gen := provider.NewChatGenerator(chatModel)
	orch, err := rag.NewOrchestrator(engine, emb, gen, providerCfg.ModelName())
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &app{settings: s, repo: repo, embedder: emb, orch: orch, gen: gen, providerCfg: providerCfg}, nil
}

// buildPingers returns the readiness checks for the app's dependencies.
func buildPingers(a *app) []server.Pinger {
	return []server.Pinger{
		server.NewIndexPinger(a.orch.Engine()),
		server.NewRepositoryPinger(a.repo, a.settings.Store),
		server.NewLLMPinger(provider.HealthCheckFor(a.providerCfg), string(a.providerCfg.Backend)),
	}
}
