package output

import (
	"fmt"
	"io"

	"github.com/sdejongh/salvage/pkg/models"
)

// Formatter defines the interface for output formatting
// Implementations include human-readable and JSON formatters
type Formatter interface {
	// Start initializes the formatter for a new run
	Start(writer io.Writer, command string, dryRun bool) error

	// Action reports one plan action after the reporter has handled it
	Action(action models.Action) error

	// Complete finalizes output and displays summary
	Complete(report *models.RunReport) error

	// Error reports a fatal error
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// NewFormatter returns the formatter for a format name
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "", "human":
		return NewHumanFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
