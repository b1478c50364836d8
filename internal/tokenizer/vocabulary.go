// Package tokenizer implements the WordPiece subword vocabulary used to turn
// passage and query text into token ids, and to turn ids back into text.
//
// Vocabularies are loaded from a Hugging Face tokenizer.json file whose model
// type is WordPiece, or from a BERT-style vocab.txt (one token per line, the
// line number is the id). A loaded Vocabulary is immutable and safe for
// concurrent use.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidText is returned when input text cannot be tokenised, e.g. it is
// not valid UTF-8.
var ErrInvalidText = errors.New("tokenizer: invalid text")

// Default special tokens, matching the BERT family of vocabularies.
const (
	DefaultUnkToken         = "[UNK]"
	DefaultPadToken         = "[PAD]"
	DefaultContinuingPrefix = "##"

	// defaultMaxInputCharsPerWord mirrors the Hugging Face WordPiece default.
	// Longer words are emitted as a single unknown token.
	defaultMaxInputCharsPerWord = 100
)

// Options controls how a Vocabulary normalises and splits text.
type Options struct {
	// UnkToken is emitted for words that cannot be segmented. Must exist in
	// the vocabulary.
	UnkToken string
	// PadToken is the reserved token used for right padding. Must exist in
	// the vocabulary.
	PadToken string
	// ContinuingPrefix marks word-internal subword pieces (e.g. "##ing").
	ContinuingPrefix string
	// MaxInputCharsPerWord caps the rune length of a single word.
	MaxInputCharsPerWord int
	// Lowercase folds input text to lower case before lookup.
	Lowercase bool
	// StripAccents removes combining marks after NFD decomposition.
	StripAccents bool
	// Special lists additional tokens that Decode skips (e.g. "[CLS]").
	Special []string
}

// Vocabulary is a loaded WordPiece model.
type Vocabulary struct {
	ids     map[string]uint32
	tokens  map[uint32]string
	special map[uint32]bool

	unkToken string
	unkID    uint32
	padToken string
	padID    uint32

	prefix       string
	maxWordChars int
	lowercase    bool
	stripAccents bool
}

// New builds a Vocabulary from an explicit token → id map.
func New(vocab map[string]uint32, opts Options) (*Vocabulary, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: vocabulary is empty")
	}
	if opts.UnkToken == "" {
		opts.UnkToken = DefaultUnkToken
	}
	if opts.PadToken == "" {
		opts.PadToken = DefaultPadToken
	}
	if opts.ContinuingPrefix == "" {
		opts.ContinuingPrefix = DefaultContinuingPrefix
	}
	if opts.MaxInputCharsPerWord <= 0 {
		opts.MaxInputCharsPerWord = defaultMaxInputCharsPerWord
	}

	unkID, ok := vocab[opts.UnkToken]
	if !ok {
		return nil, fmt.Errorf("tokenizer: unknown token %q missing from vocabulary", opts.UnkToken)
	}
	padID, ok := vocab[opts.PadToken]
	if !ok {
		return nil, fmt.Errorf("tokenizer: pad token %q missing from vocabulary", opts.PadToken)
	}

	v := &Vocabulary{
		ids:          make(map[string]uint32, len(vocab)),
		tokens:       make(map[uint32]string, len(vocab)),
		special:      map[uint32]bool{unkID: true, padID: true},
		unkToken:     opts.UnkToken,
		unkID:        unkID,
		padToken:     opts.PadToken,
		padID:        padID,
		prefix:       opts.ContinuingPrefix,
		maxWordChars: opts.MaxInputCharsPerWord,
		lowercase:    opts.Lowercase,
		stripAccents: opts.StripAccents,
	}
	for tok, id := range vocab {
		if prev, dup := v.tokens[id]; dup {
			return nil, fmt.Errorf("tokenizer: id %d assigned to both %q and %q", id, prev, tok)
		}
		v.ids[tok] = id
		v.tokens[id] = tok
	}
	for _, tok := range opts.Special {
		if id, ok := v.ids[tok]; ok {
			v.special[id] = true
		}
	}
	return v, nil
}

// Size returns the number of entries in the vocabulary.
func (v *Vocabulary) Size() int { return len(v.ids) }

// PadID returns the reserved padding id.
func (v *Vocabulary) PadID() uint32 { return v.padID }

// PadToken returns the reserved padding token.
func (v *Vocabulary) PadToken() string { return v.padToken }

// ID returns the id of tok and whether it is present.
func (v *Vocabulary) ID(tok string) (uint32, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Token returns the token for id and whether it is present.
func (v *Vocabulary) Token(id uint32) (string, bool) {
	tok, ok := v.tokens[id]
	return tok, ok
}

// Encode normalises and segments text, returning parallel token and id
// slices. No padding or truncation is applied and no special tokens are
// added.
func (v *Vocabulary) Encode(text string) ([]string, []uint32, error) {
	words, err := v.preTokenize(text)
	if err != nil {
		return nil, nil, err
	}

	tokens := make([]string, 0, len(words))
	ids := make([]uint32, 0, len(words))
	for _, w := range words {
		for _, piece := range v.wordPiece(w) {
			tokens = append(tokens, piece)
			ids = append(ids, v.ids[piece])
		}
	}
	return tokens, ids, nil
}

// Count returns the number of tokens Encode would produce for text.
func (v *Vocabulary) Count(text string) (int, error) {
	tokens, _, err := v.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// wordPiece segments a single pre-tokenised word with greedy
// longest-match-first lookup. A word that cannot be fully segmented becomes
// a single unknown token.
func (v *Vocabulary) wordPiece(word string) []string {
	runes := []rune(word)
	if len(runes) > v.maxWordChars {
		return []string{v.unkToken}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var match string
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = v.prefix + candidate
			}
			if _, ok := v.ids[candidate]; ok {
				match = candidate
				break
			}
			end--
		}
		if match == "" {
			return []string{v.unkToken}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// Decode converts ids back into text. When skipSpecial is true the pad,
// unknown and any other special tokens are dropped; ids that are not in the
// vocabulary are always dropped.
func (v *Vocabulary) Decode(ids []uint32, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		tok, ok := v.tokens[id]
		if !ok {
			continue
		}
		if skipSpecial && v.special[id] {
			continue
		}
		if rest, cont := strings.CutPrefix(tok, v.prefix); cont && b.Len() > 0 {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return cleanup(b.String())
}

// cleanupReplacer undoes the spaces WordPiece decoding inserts before
// punctuation and English contractions.
var cleanupReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

func cleanup(s string) string {
	return cleanupReplacer.Replace(s)
}
