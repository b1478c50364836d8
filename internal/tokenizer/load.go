package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// hfTokenizer is the subset of a Hugging Face tokenizer.json file needed to
// reconstruct a WordPiece model.
type hfTokenizer struct {
	AddedTokens []struct {
		ID      uint32 `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
	Normalizer *struct {
		Type         string `json:"type"`
		Lowercase    *bool  `json:"lowercase"`
		StripAccents *bool  `json:"strip_accents"`
	} `json:"normalizer"`
	Model struct {
		Type                    string            `json:"type"`
		UnkToken                string            `json:"unk_token"`
		ContinuingSubwordPrefix string            `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int               `json:"max_input_chars_per_word"`
		Vocab                   map[string]uint32 `json:"vocab"`
	} `json:"model"`
}

// LoadFile loads a vocabulary from path. Files ending in .json are parsed as
// Hugging Face tokenizer.json; anything else is read as a vocab.txt.
func LoadFile(path string) (*Vocabulary, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadJSON(path)
	}
	return loadVocabTxt(path)
}

// Resolve maps a tokenizer name to a file under dir. An existing path is
// returned unchanged; otherwise dir/<name>.json is tried, then
// dir/<name>/vocab.txt.
func Resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("tokenizer: name is empty")
	}
	candidates := []string{
		name,
		filepath.Join(dir, name+".json"),
		filepath.Join(dir, name, "tokenizer.json"),
		filepath.Join(dir, name, "vocab.txt"),
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("tokenizer: %q not found under %s", name, dir)
}

func loadJSON(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: read %s: %w", path, err)
	}
	var hf hfTokenizer
	if err := json.Unmarshal(raw, &hf); err != nil {
		return nil, fmt.Errorf("tokenizer: parse %s: %w", path, err)
	}
	if hf.Model.Type != "" && hf.Model.Type != "WordPiece" {
		return nil, fmt.Errorf("tokenizer: %s: unsupported model type %q (want WordPiece)", path, hf.Model.Type)
	}

	vocab := make(map[string]uint32, len(hf.Model.Vocab)+len(hf.AddedTokens))
	for tok, id := range hf.Model.Vocab {
		vocab[tok] = id
	}
	var special []string
	for _, at := range hf.AddedTokens {
		vocab[at.Content] = at.ID
		if at.Special {
			special = append(special, at.Content)
		}
	}

	opts := Options{
		UnkToken:             hf.Model.UnkToken,
		ContinuingPrefix:     hf.Model.ContinuingSubwordPrefix,
		MaxInputCharsPerWord: hf.Model.MaxInputCharsPerWord,
		Special:              special,
	}
	if n := hf.Normalizer; n != nil && n.Type == "BertNormalizer" {
		opts.Lowercase = n.Lowercase == nil || *n.Lowercase
		// BERT strips accents whenever lowercasing unless told otherwise.
		if n.StripAccents != nil {
			opts.StripAccents = *n.StripAccents
		} else {
			opts.StripAccents = opts.Lowercase
		}
	}

	v, err := New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return v, nil
}

// loadVocabTxt reads one token per line. Bracketed tokens such as [CLS] are
// treated as special. Case folding is enabled when the file carries no
// upper-case entries, which is how uncased BERT vocabularies are shipped.
func loadVocabTxt(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open %s: %w", path, err)
	}
	defer f.Close()

	vocab := make(map[string]uint32)
	var (
		special []string
		cased   bool
		id      uint32
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		if tok == "" {
			id++
			continue
		}
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = id
		}
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			special = append(special, tok)
		} else if strings.ToLower(tok) != tok {
			cased = true
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: read %s: %w", path, err)
	}

	v, err := New(vocab, Options{
		Special:      special,
		Lowercase:    !cased,
		StripAccents: !cased,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return v, nil
}
