package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefault(t *testing.T) {
	cfg := Load("/nonexistent/path")
	if cfg.Describe.BaseURL != "" {
		t.Errorf("expected empty base_url, got %q", cfg.Describe.BaseURL)
	}
	if !cfg.EffectiveReuse() {
		t.Error("expected default reuse true")
	}
	if cfg.EffectiveBatchSize() != 0 {
		t.Errorf("expected batch size 0, got %d", cfg.EffectiveBatchSize())
	}
	if cfg.EffectiveMinConfidence() != 0.25 {
		t.Errorf("expected min confidence 0.25, got %f", cfg.EffectiveMinConfidence())
	}
	if !cfg.EffectiveFuzzyMatching() {
		t.Error("expected default fuzzy matching true")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
describe:
  base_url: https://api.example.com/v1
  model: gpt-4o-mini
  batch_size: 4
  rate_limit: 0.5
  max_retries: 5
build:
  languages: [python, go]
  entry_points:
    - app/main.py:main
  reuse: false
link:
  exclude_paths: [/internal/debug]
  min_confidence: 0.4
  fuzzy_matching: false
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(dir)
	if cfg.Describe.BaseURL != "https://api.example.com/v1" {
		t.Errorf("base_url = %q", cfg.Describe.BaseURL)
	}
	if cfg.Describe.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Describe.Model)
	}
	if cfg.EffectiveBatchSize() != 4 {
		t.Errorf("batch_size = %d", cfg.EffectiveBatchSize())
	}
	if cfg.EffectiveRateLimit() != 0.5 {
		t.Errorf("rate_limit = %f", cfg.EffectiveRateLimit())
	}
	if cfg.EffectiveMaxRetries() != 5 {
		t.Errorf("max_retries = %d", cfg.EffectiveMaxRetries())
	}
	if len(cfg.Build.Languages) != 2 || cfg.Build.Languages[0] != "python" {
		t.Errorf("languages = %v", cfg.Build.Languages)
	}
	if len(cfg.Build.EntryPoints) != 1 || cfg.Build.EntryPoints[0] != "app/main.py:main" {
		t.Errorf("entry_points = %v", cfg.Build.EntryPoints)
	}
	if cfg.EffectiveReuse() {
		t.Error("expected reuse false")
	}
	if len(cfg.Link.ExcludePaths) != 1 || cfg.Link.ExcludePaths[0] != "/internal/debug" {
		t.Errorf("exclude_paths = %v", cfg.Link.ExcludePaths)
	}
	if cfg.EffectiveMinConfidence() != 0.4 {
		t.Errorf("min_confidence = %f", cfg.EffectiveMinConfidence())
	}
	if cfg.EffectiveFuzzyMatching() {
		t.Error("expected fuzzy_matching false")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("describe: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir)
	if !cfg.EffectiveReuse() {
		t.Error("expected defaults on invalid yaml")
	}
}

func TestAPIKeyEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("CODETREE_API_KEY", "default-key")
	if cfg.APIKey() != "default-key" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}

	cfg.Describe.APIKeyEnv = "OTHER_KEY"
	t.Setenv("OTHER_KEY", "other-key")
	if cfg.APIKey() != "other-key" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
}
