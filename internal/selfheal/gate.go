package selfheal

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Gate decides whether a pending patch may be applied. Decide blocks
// until a decision arrives or its own deadline passes; no decision means
// denied.
type Gate interface {
	Decide(ctx context.Context, patchID string) (approved bool, err error)
}

// FileSignal is a Gate driven by marker files. An operator approves
// patch P by creating <dir>/P.approved, or denies it with <dir>/P.denied.
// The gate polls at a fixed interval up to a fixed deadline; silence is
// a denial.
type FileSignal struct {
	Dir      string
	Interval time.Duration
	Deadline time.Duration
}

// NewFileSignal creates a file-marker gate with the given poll bounds.
func NewFileSignal(dir string, interval, deadline time.Duration) *FileSignal {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &FileSignal{Dir: dir, Interval: interval, Deadline: deadline}
}

// Decide polls for a marker file until one appears or the deadline
// passes.
func (g *FileSignal) Decide(ctx context.Context, patchID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Deadline)
	defer cancel()

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		if decided, approved := g.check(patchID); decided {
			return approved, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

func (g *FileSignal) check(patchID string) (decided, approved bool) {
	if _, err := os.Stat(filepath.Join(g.Dir, patchID+".approved")); err == nil {
		return true, true
	}
	if _, err := os.Stat(filepath.Join(g.Dir, patchID+".denied")); err == nil {
		return true, false
	}
	return false, false
}

// StaticGate answers every decision the same way. Used in tests and for
// unattended environments where core patches should always be denied.
type StaticGate struct {
	Approve bool
}

// Decide returns the configured answer immediately.
func (g StaticGate) Decide(context.Context, string) (bool, error) {
	return g.Approve, nil
}
