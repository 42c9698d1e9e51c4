package models

import (
	"errors"
	"time"
)

// RunReport represents the results of one salvage run
type RunReport struct {
	// Run details
	OperationID string
	Command     string
	DryRun      bool

	// Timing
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Statistics
	Stats Statistics

	// Plan produced (and possibly applied) by the run
	Plan *MergePlan

	// Errors encountered
	Errors []RunError

	// Overall status
	Status RunStatus
}

// Statistics holds run metrics
type Statistics struct {
	// Scanning
	CollectionsScanned int
	FilesScanned       int
	BytesScanned       int64
	FilesDamaged       int
	FilesZeroFilled    int

	// Hashing
	FilesHashed     int
	ManifestDigests int // digests taken from a hash manifest instead of hashing
	UniqueDigests   int
	ReadFailures    int

	// Planning
	Duplicates int
	Renames    int
	Replaces   int
	Ambiguous  int
	Unresolved int
	Skipped    int

	// Application
	ActionsApplied int
	ActionsFailed  int
	ActionsSkipped int
	BytesReclaimed int64
}

// RunStatus represents the overall result
type RunStatus string

const (
	// StatusSuccess indicates every action was applied or reported
	StatusSuccess RunStatus = "success"
	// StatusPartial indicates at least one mutating action failed
	StatusPartial RunStatus = "partial"
	// StatusFailed indicates a fatal error aborted the run
	StatusFailed RunStatus = "failed"
)

// RunError represents a per-file error collected during a run
type RunError struct {
	Kind      ErrorKind
	FilePath  string
	Error     string
	Timestamp time.Time
}

// ExitCode returns the process exit code for the run status
func (s RunStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	default:
		return 2
	}
}

// NewRunReport creates a report with the start time set
func NewRunReport(operationID, command string, dryRun bool) *RunReport {
	return &RunReport{
		OperationID: operationID,
		Command:     command,
		DryRun:      dryRun,
		StartTime:   time.Now(),
		Errors:      []RunError{},
		Status:      StatusSuccess,
	}
}

// AddError classifies err by its type and appends it to the report
func (r *RunReport) AddError(err error) {
	if err == nil {
		return
	}
	re := RunError{
		Kind:      ClassifyError(err),
		Error:     err.Error(),
		Timestamp: time.Now(),
	}

	var rf *ReadFailure
	var am *AmbiguousMatch
	var mf *MutationFailure
	switch {
	case errors.As(err, &rf):
		re.FilePath = rf.Path
	case errors.As(err, &am):
		re.FilePath = am.Path
	case errors.As(err, &mf):
		re.FilePath = mf.Path
	}

	r.Errors = append(r.Errors, re)
}

// ErrorCount returns the number of collected errors of the given kind
func (r *RunReport) ErrorCount(kind ErrorKind) int {
	n := 0
	for _, e := range r.Errors {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Finalize stamps the end time and derives the status.
// A fatal error always wins; otherwise any mutation failure makes the run partial.
func (r *RunReport) Finalize(fatal error) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)

	switch {
	case fatal != nil:
		r.AddError(fatal)
		r.Status = StatusFailed
	case r.Stats.ActionsFailed > 0 || r.ErrorCount(KindMutationFailure) > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSuccess
	}
}

// ClassifyError maps an error to its ErrorKind
func ClassifyError(err error) ErrorKind {
	var rf *ReadFailure
	var am *AmbiguousMatch
	var mf *MutationFailure
	var ce *ConfigurationError
	switch {
	case errors.As(err, &rf):
		return KindReadFailure
	case errors.As(err, &am):
		return KindAmbiguousMatch
	case errors.As(err, &mf):
		return KindMutationFailure
	case errors.As(err, &ce):
		return KindConfiguration
	default:
		return KindUnknown
	}
}
