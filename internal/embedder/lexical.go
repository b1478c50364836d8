// Package embedder converts text into fixed-width lexical embeddings: the
// vocabulary token ids of the text, right-padded with the pad id or truncated
// to the configured context-window width.
package embedder

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/lexrag/internal/store"
	"github.com/54b3r/lexrag/internal/tokenizer"
)

// ErrEncoding matches every *EncodingError.
var ErrEncoding = errors.New("encoding error")

// EncodingError reports text the vocabulary model could not tokenise.
type EncodingError struct {
	// Text is a short prefix of the offending input.
	Text string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("embedder: encode %q: %v", e.Text, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Is reports true for ErrEncoding so callers need not use errors.As.
func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// Lexical embeds text as a W-wide vector of token ids. It is immutable and
// safe for concurrent use.
type Lexical struct {
	vocab *tokenizer.Vocabulary
	width int
}

// NewLexical returns a Lexical embedder producing vectors of exactly width
// entries.
func NewLexical(vocab *tokenizer.Vocabulary, width int) (*Lexical, error) {
	if vocab == nil {
		return nil, fmt.Errorf("embedder: vocabulary is nil")
	}
	if width <= 0 {
		return nil, fmt.Errorf("embedder: context window must be positive, got %d", width)
	}
	return &Lexical{vocab: vocab, width: width}, nil
}

// Width returns the context-window width W.
func (l *Lexical) Width() int { return l.width }

// Vocabulary returns the underlying vocabulary model.
func (l *Lexical) Vocabulary() *tokenizer.Vocabulary { return l.vocab }

// Embed tokenises text and returns a Passage whose Tokens and Embedding both
// have exactly Width entries. Overlong input is truncated from the end.
func (l *Lexical) Embed(text string) (store.Passage, error) {
	tokens, ids, err := l.encode(text)
	if err != nil {
		return store.Passage{}, err
	}

	if len(ids) > l.width {
		tokens, ids = tokens[:l.width], ids[:l.width]
	}
	padTok, padID := l.vocab.PadToken(), l.vocab.PadID()
	for len(ids) < l.width {
		tokens = append(tokens, padTok)
		ids = append(ids, padID)
	}

	return store.Passage{Text: text, Tokens: tokens, Embedding: ids}, nil
}

// CountTokens returns the number of tokens in text without padding or
// truncation.
func (l *Lexical) CountTokens(text string) (int, error) {
	tokens, _, err := l.encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// Decode turns an id vector back into text, dropping padding and other
// special tokens.
func (l *Lexical) Decode(ids []uint32) string {
	return l.vocab.Decode(ids, true)
}

func (l *Lexical) encode(text string) ([]string, []uint32, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, nil, &EncodingError{Text: snippet(text), Err: errors.New("text contains NUL byte")}
	}
	tokens, ids, err := l.vocab.Encode(text)
	if err != nil {
		return nil, nil, &EncodingError{Text: snippet(text), Err: err}
	}
	return tokens, ids, nil
}

// snippet bounds the text echoed in error messages. The cut never lands
// inside a multi-byte rune.
func snippet(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
