package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestLineAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log")
	log, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	log.Line("EXECUTING: %s mock=%v reasoning_id=%s", "peek_file", true, "r1")
	log.Line("Heal cycle simulated")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "peek_file") {
		t.Errorf("first line %q missing skill name", lines[0])
	}
	if lines[1] != "Heal cycle simulated" {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestNilLogIsNoop(t *testing.T) {
	var log *Log
	log.Line("ignored")
	if err := log.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
