package embedder

import (
	"fmt"

	"github.com/54b3r/lexrag/internal/tokenizer"
)

// Config selects the vocabulary model and context window.
type Config struct {
	// TokenizerDir is searched for Tokenizer when it is not a file path.
	TokenizerDir string
	// Tokenizer is a vocabulary name (e.g. "bert-base-uncased") or a path to
	// a tokenizer.json / vocab.txt file.
	Tokenizer string
	// ContextWindow is the embedding width W.
	ContextWindow int
}

// Load resolves and loads the configured vocabulary and returns a Lexical
// embedder over it. Any failure here is a fatal startup error.
func Load(cfg Config) (*Lexical, error) {
	path, err := tokenizer.Resolve(cfg.TokenizerDir, cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	vocab, err := tokenizer.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return NewLexical(vocab, cfg.ContextWindow)
}
