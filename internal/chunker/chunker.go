// Package chunker splits document text into sentence-aligned passages that
// fit a token budget.
package chunker

import (
	"fmt"
	"strings"
)

// TokenCounter counts the tokens in a piece of text. The lexical embedder's
// CountTokens satisfies it.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// CounterFunc adapts a plain function to TokenCounter.
type CounterFunc func(text string) (int, error)

// CountTokens calls f(text).
func (f CounterFunc) CountTokens(text string) (int, error) { return f(text) }

// Chunk splits text on sentence terminators (. ? !) and packs consecutive
// sentences into chunks of at most maxTokens tokens. Every chunk ends with a
// period. Sentences with no tokens are dropped. A sentence that alone exceeds
// maxTokens is emitted as its own chunk rather than split.
//
// A sentence the counter rejects is left out; its error, wrapped with the
// sentence position, is returned in skipped and chunking carries on with the
// next sentence. err is reserved for an invalid budget.
func Chunk(text string, maxTokens int, counter TokenCounter) (chunks []string, skipped []error, err error) {
	if maxTokens <= 0 {
		return nil, nil, fmt.Errorf("chunker: max tokens must be positive, got %d", maxTokens)
	}

	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '?' || r == '!'
	})

	var (
		current []string
		running int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			running = 0
		}
	}

	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := counter.CountTokens(s)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("sentence %d: %w", i+1, err))
			continue
		}
		if n == 0 {
			continue
		}
		if running+n > maxTokens {
			flush()
		}
		current = append(current, s+".")
		running += n
	}
	flush()
	return chunks, skipped, nil
}
