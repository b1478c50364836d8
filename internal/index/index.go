// Package index builds the in-memory similarity matrix over stored passages
// and answers nearest-passage queries against it.
//
// A Snapshot is immutable once built. Its rows are L2-normalised at build
// time, so a query costs one normalisation plus one matrix-vector product.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/54b3r/lexrag/internal/store"
)

// ErrEmptyMatrix is returned by Nearest when no passages are indexed.
var ErrEmptyMatrix = errors.New("index: no passages indexed")

// ErrDimensionMismatch is returned by Nearest when the query vector width
// differs from the matrix width.
var ErrDimensionMismatch = errors.New("index: query width does not match matrix width")

// CorruptRowError reports a stored embedding whose length is not the
// configured width. It matches store.ErrRepository.
type CorruptRowError struct {
	Row  int
	Got  int
	Want int
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("index: row %d has %d entries, want %d", e.Row, e.Got, e.Want)
}

func (e *CorruptRowError) Unwrap() error { return store.ErrRepository }

// Scanner yields every stored passage in a stable order.
type Scanner interface {
	Scan(ctx context.Context, fn func(store.Passage) error) error
}

// Snapshot is an immutable N×W similarity matrix plus what is needed to map
// a row back to its passage. Row index is the passage identity.
type Snapshot struct {
	width   int
	raw     [][]uint32
	texts   []string
	norm    *mat.Dense // nil when empty
	builtAt time.Time
}

// Match is the result of a nearest-passage lookup.
type Match struct {
	// Row is the matrix row (passage identity) with the highest similarity.
	Row int
	// Score is the cosine similarity of that row with the query.
	Score float64
}

// Build drains scanner and assembles a Snapshot of the given width. Any scan
// failure or any embedding of the wrong length aborts the build.
func Build(ctx context.Context, scanner Scanner, width int) (*Snapshot, error) {
	var passages []store.Passage
	err := scanner.Scan(ctx, func(p store.Passage) error {
		if len(p.Embedding) != width {
			return &CorruptRowError{Row: len(passages), Got: len(p.Embedding), Want: width}
		}
		passages = append(passages, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index: build: %w", err)
	}
	return FromPassages(passages, width)
}

// FromPassages builds a Snapshot directly from passages, in slice order.
func FromPassages(passages []store.Passage, width int) (*Snapshot, error) {
	if width <= 0 {
		return nil, fmt.Errorf("index: width must be positive, got %d", width)
	}

	s := &Snapshot{
		width:   width,
		raw:     make([][]uint32, len(passages)),
		texts:   make([]string, len(passages)),
		builtAt: time.Now(),
	}
	if len(passages) == 0 {
		return s, nil
	}

	data := make([]float64, 0, len(passages)*width)
	for i, p := range passages {
		if len(p.Embedding) != width {
			return nil, &CorruptRowError{Row: i, Got: len(p.Embedding), Want: width}
		}
		s.raw[i] = p.Embedding
		s.texts[i] = p.Text
		data = append(data, Normalize(toFloat(p.Embedding))...)
	}
	s.norm = mat.NewDense(len(passages), width, data)
	return s, nil
}

// Len returns the number of rows N.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.raw)
}

// Width returns the number of columns W.
func (s *Snapshot) Width() int {
	if s == nil {
		return 0
	}
	return s.width
}

// Row returns the raw token-id vector stored at row i.
func (s *Snapshot) Row(i int) []uint32 { return s.raw[i] }

// Text returns the original passage text stored at row i.
func (s *Snapshot) Text(i int) string { return s.texts[i] }

// BuiltAt returns when the snapshot was assembled.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Nearest returns the row with the highest cosine similarity to query. Ties
// resolve to the lowest row index. A zero query vector scores 0 against
// every row, so row 0 is returned.
func Nearest(query []uint32, snap *Snapshot) (Match, error) {
	if snap.Len() == 0 {
		return Match{}, ErrEmptyMatrix
	}
	if len(query) != snap.width {
		return Match{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), snap.width)
	}

	q := mat.NewVecDense(snap.width, Normalize(toFloat(query)))
	scores := mat.NewVecDense(snap.Len(), nil)
	scores.MulVec(snap.norm, q)

	raw := scores.RawVector().Data
	row := floats.MaxIdx(raw)
	return Match{Row: row, Score: raw[row]}, nil
}

// Normalize returns v scaled to unit L2 norm. A zero vector is returned
// unchanged. The input is not modified.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	n := floats.Norm(out, 2)
	if n == 0 {
		return out
	}
	floats.Scale(1/n, out)
	return out
}

func toFloat(ids []uint32) []float64 {
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = float64(id)
	}
	return out
}
