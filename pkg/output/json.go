package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/sdejongh/salvage/pkg/models"
)

// JSONFormatter formats output as JSON for automation and scripting.
// Nothing is written until Complete, so the output stays one document.
type JSONFormatter struct {
	writer  io.Writer
	command string
	dryRun  bool
	fatal   string
}

// JSONReportData represents the final report
type JSONReportData struct {
	OperationID string          `json:"operation_id"`
	Command     string          `json:"command"`
	DryRun      bool            `json:"dry_run"`
	Status      string          `json:"status"`
	ExitCode    int             `json:"exit_code"`
	Duration    string          `json:"duration"`
	DurationMs  int64           `json:"duration_ms"`
	Stats       JSONStatsData   `json:"stats"`
	Plan        *JSONPlanData   `json:"plan,omitempty"`
	Errors      []JSONErrorData `json:"errors,omitempty"`
	Fatal       string          `json:"fatal,omitempty"`
}

// JSONStatsData represents statistics in JSON format
type JSONStatsData struct {
	Scanned JSONScannedData `json:"scanned"`
	Hashing JSONHashingData `json:"hashing"`
	Planned JSONPlannedData `json:"planned"`
	Actions JSONActionsData `json:"actions"`
}

// JSONScannedData represents scanning statistics
type JSONScannedData struct {
	Collections int   `json:"collections"`
	Files       int   `json:"files"`
	Bytes       int64 `json:"bytes"`
	Damaged     int   `json:"damaged"`
	ZeroFilled  int   `json:"zero_filled"`
}

// JSONHashingData represents hashing statistics
type JSONHashingData struct {
	Hashed        int `json:"hashed"`
	FromManifests int `json:"from_manifests"`
	UniqueDigests int `json:"unique_digests"`
	ReadFailures  int `json:"read_failures"`
}

// JSONPlannedData represents plan statistics
type JSONPlannedData struct {
	Duplicates int `json:"duplicates"`
	Renames    int `json:"renames"`
	Replaces   int `json:"replaces"`
	Ambiguous  int `json:"ambiguous"`
	Unresolved int `json:"unresolved"`
	Skipped    int `json:"skipped"`
}

// JSONActionsData represents application statistics
type JSONActionsData struct {
	Applied        int   `json:"applied"`
	Failed         int   `json:"failed"`
	Skipped        int   `json:"skipped"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
}

// JSONPlanData represents the merge plan
type JSONPlanData struct {
	ID          string              `json:"id"`
	CreatedAt   string              `json:"created_at"`
	Collections []models.Collection `json:"collections"`
	Actions     []models.Action     `json:"actions"`
}

// JSONErrorData represents an error entry
type JSONErrorData struct {
	Kind  string `json:"kind"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Start initializes the formatter
func (f *JSONFormatter) Start(writer io.Writer, command string, dryRun bool) error {
	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.command = command
	f.dryRun = dryRun
	return nil
}

// Action is a no-op: actions are part of the final document
func (f *JSONFormatter) Action(models.Action) error {
	return nil
}

// Complete writes the report as a single JSON document
func (f *JSONFormatter) Complete(report *models.RunReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}

	s := report.Stats
	data := JSONReportData{
		OperationID: report.OperationID,
		Command:     report.Command,
		DryRun:      report.DryRun,
		Status:      string(report.Status),
		ExitCode:    report.Status.ExitCode(),
		Duration:    report.Duration.Round(time.Millisecond).String(),
		DurationMs:  report.Duration.Milliseconds(),
		Stats: JSONStatsData{
			Scanned: JSONScannedData{
				Collections: s.CollectionsScanned,
				Files:       s.FilesScanned,
				Bytes:       s.BytesScanned,
				Damaged:     s.FilesDamaged,
				ZeroFilled:  s.FilesZeroFilled,
			},
			Hashing: JSONHashingData{
				Hashed:        s.FilesHashed,
				FromManifests: s.ManifestDigests,
				UniqueDigests: s.UniqueDigests,
				ReadFailures:  s.ReadFailures,
			},
			Planned: JSONPlannedData{
				Duplicates: s.Duplicates,
				Renames:    s.Renames,
				Replaces:   s.Replaces,
				Ambiguous:  s.Ambiguous,
				Unresolved: s.Unresolved,
				Skipped:    s.Skipped,
			},
			Actions: JSONActionsData{
				Applied:        s.ActionsApplied,
				Failed:         s.ActionsFailed,
				Skipped:        s.ActionsSkipped,
				BytesReclaimed: s.BytesReclaimed,
			},
		},
		Fatal: f.fatal,
	}

	if report.Plan != nil {
		data.Plan = &JSONPlanData{
			ID:          report.Plan.ID,
			CreatedAt:   report.Plan.CreatedAt.Format(time.RFC3339),
			Collections: report.Plan.Collections,
			Actions:     report.Plan.Actions,
		}
	}

	for _, e := range report.Errors {
		data.Errors = append(data.Errors, JSONErrorData{
			Kind:  string(e.Kind),
			Path:  e.FilePath,
			Error: e.Error,
		})
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Error records a fatal error for the final document
func (f *JSONFormatter) Error(err error) error {
	f.fatal = err.Error()
	return nil
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}
