package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrCancelled is returned when a phase stops early because its context was cancelled
var ErrCancelled = errors.New("migration cancelled")

// Phase is one step of an entity's migration
type Phase string

const (
	PhaseExtract  Phase = "extract"
	PhaseCreate   Phase = "create"
	PhaseValidate Phase = "validate"
)

// AllPhases lists the phases of a full run in execution order
var AllPhases = []Phase{PhaseExtract, PhaseCreate, PhaseValidate}

// Checkpoint document names besides the phases themselves
const (
	docExtract      = "extract"
	docSkipped      = "extract_skipped"
	docCreateFailed = "create_failed"
	docValidate     = "validate"
)

// ParsePhase converts a command-line phase name
func ParsePhase(s string) (Phase, error) {
	for _, p := range AllPhases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Stats are named counters reported by a phase
type Stats map[string]int

// Keys returns the stat names sorted
func (s Stats) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields flattens the stats into logger key/value arguments
func (s Stats) Fields() []interface{} {
	fields := make([]interface{}, 0, len(s)*2)
	for _, k := range s.Keys() {
		fields = append(fields, k, s[k])
	}
	return fields
}

// Stat names shared across entities
const (
	StatSourceRows       = "source_rows"
	StatMalformed        = "malformed"
	StatExtracted        = "extracted"
	StatSkipped          = "skipped"
	StatExcludedDeleted  = "excluded_deleted"
	StatExcludedInactive = "excluded_inactive"
	StatDuplicates       = "duplicates"
	StatCreated          = "created"
	StatExisting         = "existing"
	StatFailed           = "failed"
)

// SkipRecord explains why a source row produced no target record
type SkipRecord struct {
	Entity   string `json:"entity"`
	LegacyID string `json:"legacy_id"`
	Source   string `json:"source"` // legacy table the row came from
	Reason   string `json:"reason"`
}

// FailedRecord is a record the create phase could not write
type FailedRecord struct {
	Entity   string `json:"entity"`
	LegacyID string `json:"legacy_id"`
	Key      string `json:"key"`
	Error    string `json:"error"`
}

// PhaseResult is the outcome of one phase for one entity
type PhaseResult struct {
	Phase    Phase     `json:"phase"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Duration string    `json:"duration"`
	Stats    Stats     `json:"stats,omitempty"`
	Error    string    `json:"error,omitempty"`
}
