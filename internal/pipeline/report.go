package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Process exit codes derived from a run report
const (
	ExitOK               = 0
	ExitFatal            = 1
	ExitValidationFailed = 2
)

// EntityReport collects the phase results of one entity
type EntityReport struct {
	Entity     string            `json:"entity"`
	Phases     []PhaseResult     `json:"phases"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Error      string            `json:"error,omitempty"`
	Cancelled  bool              `json:"cancelled,omitempty"`
}

// Summary totals the counters of every entity in the run
type Summary struct {
	Extracted        int `json:"extracted"`
	Skipped          int `json:"skipped"`
	ExcludedDeleted  int `json:"excluded_deleted"`
	ExcludedInactive int `json:"excluded_inactive"`
	Duplicates       int `json:"duplicates"`
	Malformed        int `json:"malformed"`
	Created          int `json:"created"`
	Existing         int `json:"existing"`
	Failed           int `json:"failed"`
	Missing          int `json:"missing"`
	Orphaned         int `json:"orphaned"`
	Mismatched       int `json:"mismatched"`
	FailedEntities   int `json:"failed_entities"`
}

// RunReport is the persisted outcome of an orchestrator run
type RunReport struct {
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Duration         string         `json:"duration"`
	Phases           []Phase        `json:"phases"`
	DryRun           bool           `json:"dry_run"`
	Success          bool           `json:"success"`
	Validated        bool           `json:"validated"`
	ValidationPassed bool           `json:"validation_passed"`
	Cancelled        bool           `json:"cancelled"`
	Entities         []EntityReport `json:"entities"`
	Summary          Summary        `json:"summary"`
}

func newRunReport(phases []Phase, dryRun bool) *RunReport {
	return &RunReport{
		StartedAt: time.Now().UTC(),
		Phases:    phases,
		DryRun:    dryRun,
		Entities:  []EntityReport{},
	}
}

// finish computes the summary and overall flags
func (r *RunReport) finish() {
	r.FinishedAt = time.Now().UTC()
	r.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	r.Success = !r.Cancelled
	r.ValidationPassed = true

	var s Summary
	for _, er := range r.Entities {
		if er.Error != "" {
			r.Success = false
			s.FailedEntities++
		}
		for _, p := range er.Phases {
			switch p.Phase {
			case PhaseExtract:
				s.Extracted += p.Stats[StatExtracted]
				s.Skipped += p.Stats[StatSkipped]
				s.ExcludedDeleted += p.Stats[StatExcludedDeleted]
				s.ExcludedInactive += p.Stats[StatExcludedInactive]
				s.Duplicates += p.Stats[StatDuplicates]
				s.Malformed += p.Stats[StatMalformed]
			case PhaseCreate:
				s.Created += p.Stats[StatCreated]
				s.Existing += p.Stats[StatExisting]
				s.Failed += p.Stats[StatFailed]
			}
		}
		if er.Validation != nil {
			r.Validated = true
			s.Missing += len(er.Validation.Missing)
			s.Orphaned += len(er.Validation.Orphaned)
			s.Mismatched += len(er.Validation.Mismatched)
			if !er.Validation.Passed {
				r.ValidationPassed = false
			}
		}
	}
	r.Summary = s
}

// Outcome maps the report to a process exit code
func (r *RunReport) Outcome() int {
	switch {
	case !r.Success:
		return ExitFatal
	case r.Validated && !r.ValidationPassed:
		return ExitValidationFailed
	default:
		return ExitOK
	}
}

// Save writes the report as indented JSON
func (r *RunReport) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}
