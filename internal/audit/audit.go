// Package audit provides the append-only action log: one line per dispatched
// action and per self-heal terminal transition. This file is the runtime's
// only externally observable self-heal evidence, so writes must never be
// skipped and write failures must never crash the caller.
package audit

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Log appends audit lines to a single file. A nil *Log is a valid no-op sink
// so components can run without audit wiring (mirrors optional stores).
type Log struct {
	mu     sync.Mutex
	f      *os.File
	logger *zap.Logger
}

// Open opens (or creates) the audit log at path in append-only mode.
func Open(path string, logger *zap.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &Log{f: f, logger: logger}, nil
}

// Line appends a single formatted line. Failures are logged and swallowed:
// observability must not crash the loop.
func (l *Log) Line(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.f, format+"\n", args...); err != nil {
		l.logger.Warn("audit write failed", zap.Error(err))
	}
}

// Close syncs and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
