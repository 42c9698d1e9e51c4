package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sdejongh/salvage/internal/platform"
	"github.com/sdejongh/salvage/pkg/config"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
)

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globalFlags.ConfigFile != "" {
		cfg, err = config.LoadFromFile(globalFlags.ConfigFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	applyGlobalFlagsToConfig(cfg)
	return cfg, nil
}

// applyGlobalFlagsToConfig overrides config values with global flags
func applyGlobalFlagsToConfig(cfg *config.Config) {
	if globalFlags.LogFile != "" {
		cfg.Logging.File = globalFlags.LogFile
		cfg.Logging.Enabled = true
	}
	if globalFlags.LogFormat != "" {
		cfg.Logging.Format = globalFlags.LogFormat
	}
	if globalFlags.LogLevel != "" {
		cfg.Logging.Level = globalFlags.LogLevel
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}
}

// validateLogFlags checks the logging settings after flags are applied
func validateLogFlags(cfg *config.Config) error {
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return &models.ConfigurationError{Field: "log-format", Message: "must be 'text' or 'json'"}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &models.ConfigurationError{Field: "log-level", Message: "must be 'debug', 'info', 'warn', or 'error'"}
	}
	return nil
}

// createLogger creates a logger based on configuration: a file logger when a
// log file is set, a stderr logger with --verbose, both combined, or nothing
func createLogger(cfg *config.Config) (logging.Logger, error) {
	if err := validateLogFlags(cfg); err != nil {
		return nil, err
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	level := logging.ParseLevel(cfg.Logging.Level)

	var loggers []logging.Logger
	if cfg.Logging.Enabled && cfg.Logging.File != "" {
		fileLogger, err := logging.NewFileLogger(logging.FileLoggerConfig{
			Path:       cfg.Logging.File,
			Format:     format,
			Level:      level,
			MaxSize:    10 * 1024 * 1024, // 10 MB
			MaxBackups: 5,
		})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fileLogger)
	}
	if globalFlags.Verbose {
		loggers = append(loggers, logging.NewWriterLogger(os.Stderr, format, level))
	}

	switch len(loggers) {
	case 0:
		return logging.NewNullLogger(), nil
	case 1:
		return loggers[0], nil
	default:
		return logging.NewMultiLogger(loggers...), nil
	}
}

// collectionsFromArgs builds the ordered collection list: the flag list when
// given (priority from position), the config file list otherwise
func collectionsFromArgs(paths []string, cfg *config.Config) ([]models.Collection, error) {
	if len(paths) == 0 {
		if len(cfg.Collections) == 0 {
			return nil, &models.ConfigurationError{
				Field:   "collections",
				Message: "no collections given (use --collections or the config file)",
			}
		}
		return cfg.Collections, nil
	}

	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := platform.ValidatePath(p); err != nil {
			return nil, &models.ConfigurationError{Field: "collections", Message: err.Error()}
		}
		cleaned = append(cleaned, platform.NormalizePath(p))
	}
	return models.CollectionsFromPaths(cleaned), nil
}

// requireDirectory checks a directory argument
func requireDirectory(path string) error {
	if err := platform.ValidatePath(path); err != nil {
		return &models.ConfigurationError{Field: "directory", Message: err.Error()}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &models.ConfigurationError{Field: "directory", Message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.IsDir() {
		return &models.ConfigurationError{Field: "directory", Message: path + " is not a directory"}
	}
	return nil
}

// requireConfirmation refuses to mutate anything without --yes
func requireConfirmation(dryRun, yes bool) error {
	if !dryRun && !yes {
		return &models.ConfigurationError{
			Field:   "dry-run",
			Message: "--dry-run=false requires --yes to confirm changes to the collections",
		}
	}
	return nil
}

// parseBandwidth parses a rate such as "512K", "10M" or "1G" into bytes per
// second; "" and "0" mean unlimited
func parseBandwidth(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, &models.ConfigurationError{Field: "bandwidth", Message: fmt.Sprintf("invalid rate %q", s)}
	}
	return n * multiplier, nil
}
