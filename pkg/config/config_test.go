package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sdejongh/salvage/pkg/models"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Scan.DamagedSuffix != ".damaged" {
		t.Errorf("DamagedSuffix = %q, want .damaged", cfg.Scan.DamagedSuffix)
	}
	if !cfg.Hashing.UseManifests {
		t.Error("manifests should be used by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"negative workers", func(c *Config) { c.Hashing.Workers = -1 }, "hashing.workers"},
		{"small buffer", func(c *Config) { c.Hashing.BufferSize = 10 }, "hashing.buffer_size"},
		{"negative retries", func(c *Config) { c.Hashing.Retries = -1 }, "hashing.retries"},
		{"negative bandwidth", func(c *Config) { c.Hashing.BandwidthLimit = -1 }, "hashing.bandwidth_limit"},
		{"empty suffix", func(c *Config) { c.Scan.DamagedSuffix = "" }, "scan.damaged_suffix"},
		{"negative min delete", func(c *Config) { c.Dedup.MinDeleteBytes = -1 }, "dedup.min_delete_bytes"},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "csv" }, "logging.format"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `collections:
  - path: /recovered/photorec
    priority: 2
  - path: /recovered/originals
    priority: 1
    names: true
hashing:
  workers: 3
scan:
  exclude:
    - "**/*.tmp"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if len(cfg.Collections) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(cfg.Collections))
	}
	if cfg.Collections[1].Root != "/recovered/originals" || cfg.Collections[1].Priority != 1 {
		t.Errorf("unexpected collection %+v", cfg.Collections[1])
	}
	if cfg.Collections[0].Names || !cfg.Collections[1].Names {
		t.Errorf("names opt-in not read: %+v", cfg.Collections)
	}
	if cfg.Hashing.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Hashing.Workers)
	}
	// Unset keys keep their defaults
	if cfg.Hashing.BufferSize != 65536 {
		t.Errorf("BufferSize = %d, want default", cfg.Hashing.BufferSize)
	}
	if len(cfg.Scan.Exclude) != 1 {
		t.Errorf("Exclude = %v", cfg.Scan.Exclude)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("output:\n  format: xml\n"), 0644)
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected validation error")
	}

	broken := filepath.Join(dir, "broken.yaml")
	os.WriteFile(broken, []byte("hashing: [unclosed"), 0644)
	if _, err := LoadFromFile(broken); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Dedup.Verify = true
	cfg.Match.RequireSameExtension = true

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if !loaded.Dedup.Verify || !loaded.Match.RequireSameExtension {
		t.Errorf("settings lost in round trip: %+v", loaded)
	}
}
