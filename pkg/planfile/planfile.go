// Package planfile persists merge plans so a reviewed dry run can be applied
// later.
package planfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdejongh/salvage/pkg/models"
)

const (
	fileVersion = 1
	extension   = ".json"
)

// File is the on-disk form of a plan
type File struct {
	// Version for plan file format compatibility
	Version int `json:"version"`

	// SavedAt is when the plan was written
	SavedAt time.Time `json:"saved_at"`

	// Command is the command that produced the plan
	Command string `json:"command"`

	Plan *models.MergePlan `json:"plan"`
}

// Save writes plan to path atomically, creating parent directories
func Save(path, command string, plan *models.MergePlan) error {
	if plan == nil {
		return fmt.Errorf("no plan to save")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}

	data, err := json.MarshalIndent(File{
		Version: fileVersion,
		SavedAt: time.Now(),
		Command: command,
		Plan:    plan,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize plan file: %w", err)
	}
	return nil
}

// Load reads a plan file written by Save
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("plan file version %d is newer than supported version %d", f.Version, fileVersion)
	}
	if f.Plan == nil {
		return nil, fmt.Errorf("plan file %s contains no plan", path)
	}
	if f.Plan.Actions == nil {
		f.Plan.Actions = []models.Action{}
	}
	return &f, nil
}

// Dir returns the directory where plans are kept by default
func Dir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir, _ = os.UserHomeDir()
		configDir = filepath.Join(configDir, ".config")
	}
	return filepath.Join(configDir, "salvage", "plans")
}

// DefaultPath returns where a plan with the given ID is kept by default
func DefaultPath(id string) string {
	return filepath.Join(Dir(), id+extension)
}

// Resolve turns a plan reference into a file path: an existing file is used
// as is, anything else is taken as a plan ID in Dir
func Resolve(ref string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}
	if strings.ContainsRune(ref, filepath.Separator) || strings.HasSuffix(ref, extension) {
		return "", fmt.Errorf("plan file %s not found", ref)
	}
	p := DefaultPath(ref)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("no plan with ID %s in %s", ref, Dir())
	}
	return p, nil
}
