// Package rag answers questions by retrieving the most lexically similar
// indexed passage and handing question plus passage to a generation backend.
//
// The Engine owns the current index snapshot and swaps it atomically on
// Rebuild; the Orchestrator reads whichever snapshot is current without
// locking.
package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/store"
)

// ErrBackend matches every *BackendError.
var ErrBackend = errors.New("generation backend error")

// BackendError reports a failed call to the generation backend.
type BackendError struct {
	// Model is the model name the call was made with.
	Model string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("rag: generate with %q: %v", e.Model, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is reports true for ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// Query is a single question from a caller.
type Query struct {
	Prompt string `json:"prompt"`
}

// Response is the generated answer to a Query.
type Response struct {
	Body string `json:"body"`
}

// Generator produces a completion for a prompt. Implementations must be safe
// for concurrent use.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Embedder turns text into a fixed-width passage embedding and maps id
// vectors back to text. *embedder.Lexical satisfies it.
type Embedder interface {
	Embed(text string) (store.Passage, error)
	Decode(ids []uint32) string
	Width() int
}

// Result carries the answer together with how it was produced.
type Result struct {
	Response Response
	// Match is the selected passage row and its similarity score.
	Match index.Match
	// Context is the decoded text of the matched row, as sent to the backend.
	Context string
	// Prompt is the full prompt sent to the backend.
	Prompt string
}
