package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadITConfig_EmptyPathReturnsDefaults(t *testing.T) {
	t.Setenv("GOLIVE_CONFIG", "")

	cfg, err := loadITConfig("")
	if err != nil {
		t.Fatalf("loadITConfig: %v", err)
	}
	if cfg.Model != "models/gemini-2.0-flash-live-001" {
		t.Fatalf("Model = %q, want default", cfg.Model)
	}
	if !cfg.OutputTranscription {
		t.Fatal("OutputTranscription should default to true")
	}
	if got := cfg.turnTimeout(); got != 30*time.Second {
		t.Fatalf("turnTimeout = %s, want 30s", got)
	}
}

func TestLoadITConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "it.yaml")
	body := `
model: models/custom-live
voice: Puck
enable_resumption: true
turn_timeout_ms: 5000
script:
  - hello
  - goodbye
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadITConfig(path)
	if err != nil {
		t.Fatalf("loadITConfig: %v", err)
	}
	if cfg.Model != "models/custom-live" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.Voice != "Puck" {
		t.Fatalf("Voice = %q", cfg.Voice)
	}
	if !cfg.EnableResumption {
		t.Fatal("EnableResumption not set")
	}
	if len(cfg.Script) != 2 || cfg.Script[0] != "hello" {
		t.Fatalf("Script = %#v", cfg.Script)
	}
	if got := cfg.turnTimeout(); got != 5*time.Second {
		t.Fatalf("turnTimeout = %s, want 5s", got)
	}
}

func TestLoadITConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "it.json")
	body := `{"model": "models/custom-live", "metrics_addr": ":9090"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadITConfig(path)
	if err != nil {
		t.Fatalf("loadITConfig: %v", err)
	}
	if cfg.Model != "models/custom-live" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadITConfig_EnvFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "it.yml")
	if err := os.WriteFile(path, []byte("voice: Kore\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOLIVE_CONFIG", path)

	cfg, err := loadITConfig("")
	if err != nil {
		t.Fatalf("loadITConfig: %v", err)
	}
	if cfg.Voice != "Kore" {
		t.Fatalf("Voice = %q, want Kore", cfg.Voice)
	}
}
