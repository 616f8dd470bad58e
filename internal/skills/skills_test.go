package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/dispatch"
)

func newTestRegistry(t *testing.T) (*dispatch.Registry, string, *Catalog) {
	t.Helper()
	root := t.TempDir()
	catalog := NewCatalog(filepath.Join(root, ".skills"))
	reg := dispatch.NewRegistry()
	RegisterBuiltins(reg, root, catalog)
	return reg, root, catalog
}

func run(t *testing.T, reg *dispatch.Registry, name string, params map[string]string) dispatch.Observation {
	t.Helper()
	def, ok := reg.Get(name)
	if !ok {
		t.Fatalf("skill %s not registered", name)
	}
	return def.Handler(context.Background(), params)
}

func TestListDir(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	os.Mkdir(filepath.Join(root, "sub"), 0o755)

	obs := run(t, reg, "list_dir", map[string]string{"path": "."})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if !strings.Contains(obs.Obs, "a.txt") || !strings.Contains(obs.Obs, "sub/") {
		t.Errorf("obs = %q", obs.Obs)
	}
}

func TestListDirPatternAndCap(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	for _, name := range []string{"a.go", "b.go", "c.go", "notes.txt"} {
		os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644)
	}

	obs := run(t, reg, "list_dir", map[string]string{"path": ".", "pattern": "*.go"})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if strings.Contains(obs.Obs, "notes.txt") {
		t.Errorf("pattern should filter entries: %q", obs.Obs)
	}

	obs = run(t, reg, "list_dir", map[string]string{"path": ".", "pattern": "*.go", "max_items": "2"})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	lines := strings.Split(obs.Obs, "\n")
	if len(lines) != 3 || lines[2] != "... [truncated]" {
		t.Errorf("capped listing = %q", obs.Obs)
	}

	obs = run(t, reg, "list_dir", map[string]string{"path": ".", "max_items": "zero"})
	if obs.OK {
		t.Error("expected failure for non-numeric max_items")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	for _, skill := range []string{"list_dir", "read_file_safe"} {
		obs := run(t, reg, skill, map[string]string{"path": "../../etc"})
		if obs.OK {
			t.Errorf("%s should reject escaping path", skill)
		}
		if !strings.Contains(obs.Err, "escapes project root") {
			t.Errorf("%s err = %q", skill, obs.Err)
		}
	}
}

func TestPeekFile(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	content := "l1\nl2\nl3\nl4\nl5"
	os.WriteFile(filepath.Join(root, "f.txt"), []byte(content), 0o644)

	obs := run(t, reg, "peek_file", map[string]string{"path": "f.txt", "lines": "2"})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if obs.Obs != "l1\nl2" {
		t.Errorf("obs = %q", obs.Obs)
	}

	obs = run(t, reg, "peek_file", map[string]string{"path": "f.txt", "lines": "bogus"})
	if obs.OK {
		t.Error("expected failure for non-numeric lines")
	}
}

func TestPeekFileCharCap(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	long := strings.Repeat("y", maxPeekChars+500)
	os.WriteFile(filepath.Join(root, "long.txt"), []byte(long), 0o644)

	obs := run(t, reg, "peek_file", map[string]string{"path": "long.txt"})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if len(obs.Obs) != maxPeekChars {
		t.Errorf("peek length = %d, want %d", len(obs.Obs), maxPeekChars)
	}
}

func TestReadFileSafeCap(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	big := make([]byte, maxReadBytes+1)
	os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644)

	obs := run(t, reg, "read_file_safe", map[string]string{"path": "big.bin"})
	if obs.OK {
		t.Fatal("expected failure for oversized file")
	}
	if !strings.Contains(obs.Err, "too large") {
		t.Errorf("err = %q", obs.Err)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	obs := run(t, reg, "write_file_safe", map[string]string{"path": "out/new.txt", "content": "hello"})
	if !obs.OK {
		t.Fatalf("write failed: %+v", obs)
	}
	obs = run(t, reg, "read_file_safe", map[string]string{"path": "out/new.txt"})
	if !obs.OK || obs.Obs != "hello" {
		t.Fatalf("read back got %+v", obs)
	}
}

func TestListFilesRecursive(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	os.MkdirAll(filepath.Join(root, "a/b"), 0o755)
	os.WriteFile(filepath.Join(root, "a/b/deep.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644)

	obs := run(t, reg, "list_files_recursive", map[string]string{})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if !strings.Contains(obs.Obs, filepath.Join("a", "b", "deep.txt")) {
		t.Errorf("missing nested file in %q", obs.Obs)
	}
}

func TestSearchCodebase(t *testing.T) {
	reg, root, _ := newTestRegistry(t)
	os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644)

	obs := run(t, reg, "search_codebase", map[string]string{"query": "func main"})
	if !obs.OK {
		t.Fatalf("failed: %+v", obs)
	}
	if !strings.Contains(obs.Obs, "main.go:2") {
		t.Errorf("obs = %q", obs.Obs)
	}

	obs = run(t, reg, "search_codebase", map[string]string{"query": "nowhere_to_be_found"})
	if !obs.OK || obs.Obs != "no matches" {
		t.Errorf("no-match obs = %+v", obs)
	}
}

func TestCatalogSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir)

	if _, err := c.Save("summarize_logs", "summarizes logs", "read then condense"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := c.Save("Bad Name", "x", "y"); err == nil {
		t.Error("expected invalid name error")
	}

	entries, err := c.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "summarize_logs" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestCatalogLoadMissingDir(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "nope"))
	entries, err := c.Load()
	if err != nil || entries != nil {
		t.Fatalf("missing dir should be empty catalog, got %v, %v", entries, err)
	}
}

func TestCatalogEvolve(t *testing.T) {
	c := NewCatalog(t.TempDir())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	if _, err := c.Save("parser", "parses things", "original content"); err != nil {
		t.Fatalf("save: %v", err)
	}

	evolved, err := c.Evolve("parser", "patched content")
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if evolved.Name != "evolved_1700000000" {
		t.Errorf("name = %q", evolved.Name)
	}
	if evolved.Parent != "parser" {
		t.Errorf("parent = %q", evolved.Parent)
	}
	if evolved.Content != "patched content" {
		t.Errorf("content = %q", evolved.Content)
	}
}

func TestCatalogEvolveTruncatesPatch(t *testing.T) {
	c := NewCatalog(t.TempDir())
	if _, err := c.Save("parser", "d", "c"); err != nil {
		t.Fatalf("save: %v", err)
	}

	patch := strings.Repeat("x", maxPatchBytes+100)
	evolved, err := c.Evolve("parser", patch)
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if len(evolved.Content) != maxPatchBytes {
		t.Errorf("content length = %d, want %d", len(evolved.Content), maxPatchBytes)
	}
}

func TestCatalogEvolveUnknownSkill(t *testing.T) {
	c := NewCatalog(t.TempDir())
	if _, err := c.Evolve("ghost", "patch"); err == nil {
		t.Fatal("expected error for unknown skill")
	}
}

func TestSaveSkillHandler(t *testing.T) {
	reg, _, catalog := newTestRegistry(t)

	obs := run(t, reg, "save_skill", map[string]string{
		"name": "fetcher", "description": "fetches", "content": "do fetch",
	})
	if !obs.OK {
		t.Fatalf("save_skill failed: %+v", obs)
	}
	entries, _ := catalog.Load()
	if len(entries) != 1 {
		t.Fatalf("catalog entries = %d", len(entries))
	}

	// The saved skill is dispatchable right away and replays its content.
	obs = run(t, reg, "fetcher", nil)
	if !obs.OK || obs.Obs != "do fetch" {
		t.Errorf("dispatching saved skill got %+v", obs)
	}
}

func TestRegisterCataloged(t *testing.T) {
	reg := dispatch.NewRegistry()
	RegisterCataloged(reg, []*Entry{
		{Name: "triage", Description: "triages issues", Content: "read, label, assign"},
	})

	def, ok := reg.Get("triage")
	if !ok {
		t.Fatal("cataloged skill not registered")
	}
	obs := def.Handler(context.Background(), nil)
	if !obs.OK || obs.Obs != "read, label, assign" {
		t.Errorf("obs = %+v", obs)
	}
}

func TestCoreSkillsRequireHITL(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	for _, name := range []string{"save_skill", "evolve_skill_from_patch"} {
		def, _ := reg.Get(name)
		if def.Component != dispatch.ComponentCore || !def.RequiresHITL {
			t.Errorf("%s should be core with HITL", name)
		}
	}
}
