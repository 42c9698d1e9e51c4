package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdejongh/salvage/pkg/models"
)

// PlanFormat defines the format of a plan listing
type PlanFormat string

const (
	PlanFormatHuman PlanFormat = "human"
	PlanFormatJSON  PlanFormat = "json"
)

// kindOrder is the section order of a human plan listing
var kindOrder = []models.ActionKind{
	models.ActionDelete,
	models.ActionRename,
	models.ActionReplace,
	models.ActionSkip,
}

var kindTitles = map[models.ActionKind]string{
	models.ActionDelete:  "Duplicates to delete",
	models.ActionRename:  "Damaged files to rename",
	models.ActionReplace: "Damaged files to replace with a good copy",
	models.ActionSkip:    "Left untouched",
}

// WritePlanFile writes the plan listing to a file
func WritePlanFile(plan *models.MergePlan, path string, format PlanFormat) error {
	if plan == nil {
		return nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plan listing: %w", err)
	}
	defer file.Close()

	return WritePlan(file, plan, format)
}

// WritePlan writes the plan actions grouped by kind
func WritePlan(w io.Writer, plan *models.MergePlan, format PlanFormat) error {
	if format == PlanFormatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(plan)
	}

	fmt.Fprintf(w, "Merge plan %s\n", plan.ID)
	fmt.Fprintf(w, "Created: %s\n", plan.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Collections (most trusted first):\n")
	for _, c := range plan.Collections {
		fmt.Fprintf(w, "  %d. %s (priority %d)\n", c.Rank+1, c.Root, c.Priority)
	}
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 80))

	groups := make(map[models.ActionKind][]models.Action)
	for _, a := range plan.Actions {
		groups[a.Kind] = append(groups[a.Kind], a)
	}

	for _, kind := range kindOrder {
		actions := groups[kind]
		if len(actions) == 0 {
			continue
		}

		fmt.Fprintf(w, "\n%s (%d):\n", kindTitles[kind], len(actions))
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
		for _, a := range actions {
			if kind == models.ActionSkip {
				fmt.Fprintf(w, "  %s: %s\n", a.Target, a.Reason)
				for _, c := range a.Candidates {
					fmt.Fprintf(w, "      candidate: %s\n", c)
				}
				continue
			}
			fmt.Fprintf(w, "  %s", describe(a))
			if a.Outcome != models.OutcomePlanned {
				fmt.Fprintf(w, " [%s]", a.Outcome)
			}
			if a.Error != "" {
				fmt.Fprintf(w, ": %s", a.Error)
			}
			fmt.Fprintf(w, "\n")
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 80))
	fmt.Fprintf(w, "Total: %d delete, %d rename, %d replace, %d skip\n",
		len(groups[models.ActionDelete]), len(groups[models.ActionRename]),
		len(groups[models.ActionReplace]), len(groups[models.ActionSkip]))
	return nil
}
