package rag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/54b3r/lexrag/internal/index"
)

// Engine holds the live index snapshot. Readers call Snapshot without locking;
// Rebuild builds a fresh snapshot off to the side and publishes it with a
// single pointer swap.
type Engine struct {
	scanner index.Scanner
	width   int

	current atomic.Pointer[index.Snapshot]
	// rebuildMu serialises rebuilds so two admin calls cannot interleave
	// their scans. Readers never take it.
	rebuildMu sync.Mutex
}

// NewEngine builds the initial snapshot from scanner. A failure here is a
// fatal startup error.
func NewEngine(ctx context.Context, scanner index.Scanner, width int) (*Engine, error) {
	if scanner == nil {
		return nil, fmt.Errorf("rag: scanner must not be nil")
	}
	e := &Engine{scanner: scanner, width: width}
	if _, err := e.Rebuild(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEngineFromSnapshot wraps an already-built snapshot. Rebuild is
// unavailable when scanner is nil.
func NewEngineFromSnapshot(snap *index.Snapshot, scanner index.Scanner) *Engine {
	e := &Engine{scanner: scanner, width: snap.Width()}
	e.current.Store(snap)
	return e
}

// Snapshot returns the current snapshot. It never returns nil once the
// engine has been constructed.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.current.Load()
}

// Rebuild rescans the repository and atomically replaces the current
// snapshot. On failure the previous snapshot stays in place.
func (e *Engine) Rebuild(ctx context.Context) (*index.Snapshot, error) {
	if e.scanner == nil {
		return nil, fmt.Errorf("rag: rebuild: engine has no repository")
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	snap, err := index.Build(ctx, e.scanner, e.width)
	if err != nil {
		return nil, fmt.Errorf("rag: rebuild: %w", err)
	}
	e.current.Store(snap)
	return snap, nil
}
