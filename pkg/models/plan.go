package models

import (
	"time"
)

// ActionKind is what a plan action does to its target
type ActionKind string

const (
	// ActionDelete removes a duplicate of content owned by a more trusted collection
	ActionDelete ActionKind = "delete"
	// ActionRename gives a damaged file its probable original name
	ActionRename ActionKind = "rename"
	// ActionReplace swaps a damaged file for a good copy under the original name
	ActionReplace ActionKind = "replace"
	// ActionSkip leaves the target untouched and records why
	ActionSkip ActionKind = "skip"
)

// Outcome is the state of an action after the reporter has seen it
type Outcome string

const (
	OutcomePlanned Outcome = "planned"
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Action is one entry of a merge plan
type Action struct {
	Kind ActionKind `json:"kind"`

	// Target is the file the action applies to
	Target string `json:"target"`

	// NewPath is where a rename or replace puts the result
	NewPath string `json:"new_path,omitempty"`

	// Reference is the file that justified the action (kept owner, good copy)
	Reference string `json:"reference,omitempty"`

	Reason string `json:"reason"`
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size"`

	// Candidates lists every candidate name for unresolved matches
	Candidates []string `json:"candidates,omitempty"`

	// Verify forces a byte comparison with Reference before a delete, set
	// when a digest involved was read from a manifest
	Verify bool `json:"verify,omitempty"`

	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Mutates reports whether the action changes the filesystem when applied
func (a Action) Mutates() bool {
	return a.Kind == ActionDelete || a.Kind == ActionRename || a.Kind == ActionReplace
}

// MergePlan is the ordered list of actions produced before any mutation
type MergePlan struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	DryRun      bool         `json:"dry_run"`
	Collections []Collection `json:"collections"`
	Actions     []Action     `json:"actions"`
}

// NewMergePlan creates an empty plan
func NewMergePlan(id string, collections []Collection, dryRun bool) *MergePlan {
	return &MergePlan{
		ID:          id,
		CreatedAt:   time.Now(),
		DryRun:      dryRun,
		Collections: collections,
		Actions:     []Action{},
	}
}

// Add appends actions in order, marking them planned
func (p *MergePlan) Add(actions ...Action) {
	for _, a := range actions {
		if a.Outcome == "" {
			a.Outcome = OutcomePlanned
		}
		p.Actions = append(p.Actions, a)
	}
}

// Count returns the number of actions of the given kind
func (p *MergePlan) Count(kind ActionKind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Targets returns the set of paths targeted by actions of the given kind
func (p *MergePlan) Targets(kind ActionKind) map[string]bool {
	targets := make(map[string]bool)
	for _, a := range p.Actions {
		if a.Kind == kind {
			targets[a.Target] = true
		}
	}
	return targets
}

// Tally counts outcomes across the plan
func (p *MergePlan) Tally() (applied, failed, skipped int) {
	for _, a := range p.Actions {
		switch a.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return applied, failed, skipped
}
