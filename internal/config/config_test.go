package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("LOOM_TEST_PORT", "9191")
	path := writeConfig(t, `{
		"server": {"port": ${LOOM_TEST_PORT:8080}, "log_level": "${LOOM_TEST_LEVEL:debug}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191 from env", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log_level = %q, want default debug", cfg.Server.LogLevel)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Loop.MaxDepth != 5 {
		t.Errorf("max_depth = %d, want 5", cfg.Loop.MaxDepth)
	}
	if cfg.Loop.ContextCap != 10000 {
		t.Errorf("context_cap = %d, want 10000", cfg.Loop.ContextCap)
	}
	if cfg.Dispatch.Mode != "local" {
		t.Errorf("dispatch mode = %q, want local", cfg.Dispatch.Mode)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("embedding dimension = %d, want 1536", cfg.Embedding.Dimension)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}
