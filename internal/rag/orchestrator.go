package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
)

// promptTemplate frames the retrieved passage as optional supporting context.
const promptTemplate = "Generate a response to the following question. " +
	"Use the provided context only if it is useful. \n Question: %s \n Context: %s."

// BuildPrompt renders the prompt sent to the generation backend.
func BuildPrompt(question, passage string) string {
	return fmt.Sprintf(promptTemplate, question, passage)
}

// Orchestrator wires retrieval to generation for a single model.
type Orchestrator struct {
	engine   *Engine
	embedder Embedder
	gen      Generator
	model    string
}

// NewOrchestrator validates its collaborators and returns an Orchestrator.
func NewOrchestrator(engine *Engine, emb Embedder, gen Generator, model string) (*Orchestrator, error) {
	if engine == nil {
		return nil, fmt.Errorf("rag: engine must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	if emb.Width() != engine.width {
		return nil, fmt.Errorf("rag: embedder width %d does not match index width %d", emb.Width(), engine.width)
	}
	return &Orchestrator{engine: engine, embedder: emb, gen: gen, model: model}, nil
}

// Engine returns the engine the orchestrator reads from.
func (o *Orchestrator) Engine() *Engine { return o.engine }

// Retrieve embeds the question and returns the nearest passage row plus its
// decoded text. Errors are *embedder.EncodingError or index.ErrEmptyMatrix.
func (o *Orchestrator) Retrieve(question string) (index.Match, string, error) {
	q, err := o.embedder.Embed(question)
	if err != nil {
		return index.Match{}, "", err
	}
	snap := o.engine.Snapshot()
	m, err := index.Nearest(q.Embedding, snap)
	if err != nil {
		return index.Match{}, "", err
	}
	return m, o.embedder.Decode(snap.Row(m.Row)), nil
}

// Answer retrieves context for q and asks the generation backend for an
// answer. A backend failure is returned as *BackendError and never as a
// Response body.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (Result, error) {
	log := logging.FromContext(ctx)

	m, passage, err := o.Retrieve(q.Prompt)
	if err != nil {
		return Result{}, err
	}
	log.Debug("rag: matched passage",
		slog.Int("row", m.Row),
		slog.Float64("score", m.Score),
	)

	prompt := BuildPrompt(q.Prompt, passage)
	body, err := o.gen.Generate(ctx, o.model, prompt)
	if err != nil {
		return Result{}, &BackendError{Model: o.model, Err: err}
	}

	return Result{
		Response: Response{Body: body},
		Match:    m,
		Context:  passage,
		Prompt:   prompt,
	}, nil
}
