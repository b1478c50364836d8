package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// preTokenize applies BERT normalisation and splits text into words on
// whitespace and punctuation. Each punctuation rune becomes its own word.
func (v *Vocabulary) preTokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}

	text = cleanText(text)
	if v.lowercase {
		text = strings.ToLower(text)
	}
	if v.stripAccents {
		stripped, _, err := transform.String(accentStripper(), text)
		if err != nil {
			return nil, ErrInvalidText
		}
		text = stripped
	}

	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words, nil
}

// accentStripper returns a fresh transformer; transform.Chain values carry
// state and must not be shared across goroutines.
func accentStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// cleanText drops NUL, replacement and control runes and maps every
// whitespace rune to a plain space.
func cleanText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0, r == utf8.RuneError:
			return -1
		case r == '\t', r == '\n', r == '\r':
			return ' '
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.In(r, unicode.Cf):
			return -1
		}
		return r
	}, s)
}

// isPunctuation follows BERT: every non-alphanumeric ASCII symbol counts as
// punctuation, plus the Unicode P* categories.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
