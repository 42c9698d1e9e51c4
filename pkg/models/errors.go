package models

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes errors collected in a run report
type ErrorKind string

const (
	KindReadFailure     ErrorKind = "read_failure"
	KindAmbiguousMatch  ErrorKind = "ambiguous_match"
	KindMutationFailure ErrorKind = "mutation_failure"
	KindConfiguration   ErrorKind = "configuration"
	KindUnknown         ErrorKind = "unknown"
)

// ReadFailure is reported for a file that could not be read or vanished.
// The record is excluded from the hash index.
type ReadFailure struct {
	Path string
	Err  error
}

func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read failure: %s: %v", e.Path, e.Err)
}

func (e *ReadFailure) Unwrap() error {
	return e.Err
}

// AmbiguousMatch is reported when a damaged file has several size-table
// candidates and no automatic action can be taken
type AmbiguousMatch struct {
	Path       string
	Size       int64
	Candidates []string
}

func (e *AmbiguousMatch) Error() string {
	return fmt.Sprintf("ambiguous match: %s (%d bytes): %d candidates: %s",
		e.Path, e.Size, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// MutationFailure is reported when an action fails at apply time
type MutationFailure struct {
	Action ActionKind
	Path   string
	Err    error
}

func (e *MutationFailure) Error() string {
	return fmt.Sprintf("%s failed: %s: %v", e.Action, e.Path, e.Err)
}

func (e *MutationFailure) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal and aborts the run before any mutation
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Field + ": " + e.Message
}
