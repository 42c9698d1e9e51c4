package config

import (
	"github.com/sdejongh/salvage/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Collections []models.Collection `yaml:"collections"`
	SizeTables  []string            `yaml:"size_tables"`
	Hashing     HashingConfig       `yaml:"hashing"`
	Scan        ScanConfig          `yaml:"scan"`
	Dedup       DedupConfig         `yaml:"dedup"`
	Match       MatchConfig         `yaml:"match"`
	Output      OutputConfig        `yaml:"output"`
	Logging     LoggingConfig       `yaml:"logging"`
}

// HashingConfig holds content hashing settings
type HashingConfig struct {
	Workers        int   `yaml:"workers"`         // 0 = one per CPU
	BufferSize     int   `yaml:"buffer_size"`     // read chunk size in bytes
	Retries        int   `yaml:"retries"`         // extra attempts per file
	BandwidthLimit int64 `yaml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	UseManifests   bool  `yaml:"use_manifests"`   // prefill digests from hashes.txt
}

// ScanConfig holds collection scanning settings
type ScanConfig struct {
	DamagedSuffix string   `yaml:"damaged_suffix"`
	Exclude       []string `yaml:"exclude"`
}

// DedupConfig holds deduplication settings
type DedupConfig struct {
	MinDeleteBytes int64 `yaml:"min_delete_bytes"`
	Verify         bool  `yaml:"verify"` // byte-compare before deleting
}

// MatchConfig holds damaged-file matching settings
type MatchConfig struct {
	RequireSameExtension bool `yaml:"require_same_extension"`
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show progress bars
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "json" or "text"
	Level   string `yaml:"level"`  // "debug", "info", "warn", "error"
	File    string `yaml:"file"`   // Log file path (empty = no file log)
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Hashing: HashingConfig{
			Workers:        0,
			BufferSize:     65536,
			Retries:        2,
			BandwidthLimit: 0,
			UseManifests:   true,
		},
		Scan: ScanConfig{
			DamagedSuffix: ".damaged",
			Exclude:       []string{},
		},
		Dedup: DedupConfig{
			MinDeleteBytes: 0,
			Verify:         false,
		},
		Match: MatchConfig{
			RequireSameExtension: false,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
			Quiet:    false,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Format:  "text",
			Level:   "info",
			File:    "",
		},
	}
}

// Validate checks if the configuration is valid.
// Collections are checked by models.OrderCollections when a run starts.
func (c *Config) Validate() error {
	if c.Hashing.Workers < 0 {
		return &models.ConfigurationError{
			Field:   "hashing.workers",
			Message: "must not be negative",
		}
	}

	if c.Hashing.BufferSize < 1024 {
		return &models.ConfigurationError{
			Field:   "hashing.buffer_size",
			Message: "must be at least 1024 bytes",
		}
	}

	if c.Hashing.Retries < 0 {
		return &models.ConfigurationError{
			Field:   "hashing.retries",
			Message: "must not be negative",
		}
	}

	if c.Hashing.BandwidthLimit < 0 {
		return &models.ConfigurationError{
			Field:   "hashing.bandwidth_limit",
			Message: "must not be negative",
		}
	}

	if c.Scan.DamagedSuffix == "" {
		return &models.ConfigurationError{
			Field:   "scan.damaged_suffix",
			Message: "must not be empty",
		}
	}

	if c.Dedup.MinDeleteBytes < 0 {
		return &models.ConfigurationError{
			Field:   "dedup.min_delete_bytes",
			Message: "must not be negative",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ConfigurationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ConfigurationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ConfigurationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}
