package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sdejongh/salvage/pkg/models"
)

// HumanFormatter formats output in human-readable format
type HumanFormatter struct {
	writer  io.Writer
	command string
	dryRun  bool
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Start initializes the formatter
func (f *HumanFormatter) Start(writer io.Writer, command string, dryRun bool) error {
	f.writer = writer
	f.command = command
	f.dryRun = dryRun

	if writer != nil {
		mode := "live"
		if dryRun {
			mode = "dry run"
		}
		fmt.Fprintf(writer, "salvage %s (%s)\n", command, mode)
	}
	return nil
}

// Action prints one line per mutating action and per ambiguous match
func (f *HumanFormatter) Action(a models.Action) error {
	if f.writer == nil {
		return nil
	}

	switch a.Outcome {
	case models.OutcomePlanned:
		fmt.Fprintf(f.writer, "[DRY RUN] %s\n", describe(a))
	case models.OutcomeApplied:
		fmt.Fprintf(f.writer, "✓ %s\n", describe(a))
	case models.OutcomeFailed:
		fmt.Fprintf(f.writer, "✗ %s: %s\n", describe(a), a.Error)
	case models.OutcomeSkipped:
		if len(a.Candidates) > 0 {
			fmt.Fprintf(f.writer, "? %s: %s [%s]\n", a.Target, a.Reason, strings.Join(a.Candidates, ", "))
		}
	}
	return nil
}

// describe renders an action the way dry-run output shows it
func describe(a models.Action) string {
	switch a.Kind {
	case models.ActionDelete:
		return fmt.Sprintf("delete %s (duplicate of %s)", a.Target, a.Reference)
	case models.ActionRename:
		return fmt.Sprintf("%s -> %s", a.Target, a.NewPath)
	case models.ActionReplace:
		return fmt.Sprintf("%s -> %s (content of %s)", a.Target, a.NewPath, a.Reference)
	}
	return fmt.Sprintf("%s %s (%s)", a.Kind, a.Target, a.Reason)
}

// Complete finalizes output and displays summary
func (f *HumanFormatter) Complete(report *models.RunReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}
	w := f.writer
	s := report.Stats

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "%s completed in %s\n", report.Command, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Scanned:\n")
	fmt.Fprintf(w, "    Collections:    %d\n", s.CollectionsScanned)
	fmt.Fprintf(w, "    Files:          %d (%s)\n", s.FilesScanned, formatBytes(s.BytesScanned))
	fmt.Fprintf(w, "    Damaged:        %d (%d zero-filled)\n", s.FilesDamaged, s.FilesZeroFilled)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Hashing:\n")
	fmt.Fprintf(w, "    Files hashed:   %d\n", s.FilesHashed)
	fmt.Fprintf(w, "    From manifests: %d\n", s.ManifestDigests)
	fmt.Fprintf(w, "    Unique digests: %d\n", s.UniqueDigests)
	fmt.Fprintf(w, "    Read failures:  %d\n", s.ReadFailures)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Plan:\n")
	fmt.Fprintf(w, "    Duplicates:     %d\n", s.Duplicates)
	fmt.Fprintf(w, "    Renames:        %d\n", s.Renames)
	fmt.Fprintf(w, "    Replaces:       %d\n", s.Replaces)
	fmt.Fprintf(w, "    Ambiguous:      %d\n", s.Ambiguous)
	fmt.Fprintf(w, "    Unresolved:     %d\n", s.Unresolved)
	fmt.Fprintf(w, "    Skipped:        %d\n", s.Skipped)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Actions:\n")
	fmt.Fprintf(w, "    Applied:        %d\n", s.ActionsApplied)
	fmt.Fprintf(w, "    Failed:         %d\n", s.ActionsFailed)
	fmt.Fprintf(w, "    Skipped:        %d\n", s.ActionsSkipped)
	fmt.Fprintf(w, "    Reclaimed:      %s\n", formatBytes(s.BytesReclaimed))

	if report.Plan != nil {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Plan ID: %s\n", report.Plan.ID)
	}
	fmt.Fprintf(w, "Status: %s\n", report.Status)

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, err := range report.Errors {
			fmt.Fprintf(w, "  [%s] %s: %s\n", err.Kind, err.FilePath, err.Error)
		}
	}

	return nil
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	if f.writer != nil {
		fmt.Fprintf(f.writer, "Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}
