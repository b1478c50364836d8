package server

import (
	"context"
	"fmt"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/provider"
)

// LLMPinger checks a generation backend through its zero-cost health
// endpoint. Backends without one are reported healthy.
type LLMPinger struct {
	healthCheck provider.HealthCheckConfig
	name        string
}

// NewLLMPinger constructs an LLMPinger. hc may be nil.
func NewLLMPinger(hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check when one is available.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck == nil {
		return nil
	}
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// repositoryPinger is the subset of store.Repository checked for readiness.
type repositoryPinger interface {
	Ping(ctx context.Context) error
}

// RepositoryPinger checks the passage repository (SQLite, bbolt or Qdrant).
type RepositoryPinger struct {
	repo repositoryPinger
	name string
}

// NewRepositoryPinger constructs a RepositoryPinger labelled with the
// backend name.
func NewRepositoryPinger(repo repositoryPinger, backend string) *RepositoryPinger {
	return &RepositoryPinger{repo: repo, name: backend}
}

// Name returns the dependency label used in readiness responses.
func (p *RepositoryPinger) Name() string { return p.name }

// Ping checks that the repository answers.
func (p *RepositoryPinger) Ping(ctx context.Context) error {
	if err := p.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository unreachable: %w", err)
	}
	return nil
}

// IndexSource exposes the live index. *rag.Engine satisfies it.
type IndexSource interface {
	Snapshot() *index.Snapshot
}

// IndexPinger reports not-ready while the live index holds no passages, so
// a load balancer keeps traffic away until the corpus has been seeded.
type IndexPinger struct {
	count func() int
}

// NewIndexPinger constructs an IndexPinger over the engine's live snapshot.
func NewIndexPinger(idx IndexSource) *IndexPinger {
	return &IndexPinger{count: func() int { return idx.Snapshot().Len() }}
}

// Name returns "index".
func (p *IndexPinger) Name() string { return "index" }

// Ping fails when the index is empty.
func (p *IndexPinger) Ping(_ context.Context) error {
	if p.count() == 0 {
		return fmt.Errorf("no passages indexed")
	}
	return nil
}
