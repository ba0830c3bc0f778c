package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"chronicle/internal/config"
)

func TestLoadReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronicle.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("demo")), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "demo" {
		t.Fatalf("expected project id demo, got %q", cfg.Project.ID)
	}
	if cfg.Guardrails.AutoSend {
		t.Fatal("auto_send must default to off")
	}

	same, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if same.Project.ID != cfg.Project.ID {
		t.Fatalf("path and workspace reads disagree: %q vs %q", same.Project.ID, cfg.Project.ID)
	}
}

func TestLoadMissingConfigFails(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing chronicle.yml")
	}
}

func TestLoadOptionalMissingIsNil(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for empty workspace, got %+v", cfg)
	}
}

func TestFromYAMLRejectsBadKind(t *testing.T) {
	_, err := config.FromYAML([]byte("project:\n  id: demo\n  kind: other\n"))
	if err == nil {
		t.Fatal("expected kind validation error")
	}
}
