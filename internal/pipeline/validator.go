package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/shahariaz/legacy_dump_migrator/internal/checkpoint"
	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// Discrepancy is one validation finding
type Discrepancy struct {
	Table    string `json:"table"`
	LegacyID string `json:"legacy_id"`
	Key      string `json:"key,omitempty"`
	ID       string `json:"id,omitempty"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Detail   string `json:"detail"`
}

// ValidationReport compares the expected population of an entity with the destination
type ValidationReport struct {
	Entity           string        `json:"entity"`
	Table            string        `json:"table"`
	Expected         int           `json:"expected"`
	Found            int           `json:"found"`
	ChildRows        int           `json:"child_rows"` // child table rows checked
	ChildrenFound    int           `json:"children_found"`
	DestinationCount int64         `json:"destination_count"`
	CountDrift       int64         `json:"count_drift"` // informational only
	Sampled          int           `json:"sampled"`
	Missing          []Discrepancy `json:"missing"`
	Orphaned         []Discrepancy `json:"orphaned"`
	Mismatched       []Discrepancy `json:"mismatched"`
	Passed           bool          `json:"passed"`
}

// Stats summarises the report
func (r *ValidationReport) Stats() Stats {
	return Stats{
		"expected":       r.Expected,
		"found":          r.Found,
		"child_rows":     r.ChildRows,
		"children_found": r.ChildrenFound,
		"sampled":        r.Sampled,
		"missing":        len(r.Missing),
		"orphaned":       len(r.Orphaned),
		"mismatched":     len(r.Mismatched),
	}
}

// sampleIndexes returns up to n evenly spaced indexes into a slice of length total
func sampleIndexes(total, n int) map[int]bool {
	if n > total {
		n = total
	}
	picked := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		picked[i*total/n] = true
	}
	return picked
}

// Validate recomputes the expected records from the dump and checks each against the
// destination: presence by natural key, referential integrity and sampled field equality.
func (m *entityMigrator[T]) Validate(ctx context.Context, env *Env) (*ValidationReport, error) {
	name := m.def.Name
	env.Logger.Info("Starting validation", "entity", name)

	x, err := m.transform(ctx, env.input(false))
	if err != nil {
		return nil, fmt.Errorf("%s transform failed: %w", name, err)
	}

	report := &ValidationReport{
		Entity:     name,
		Table:      m.def.Table,
		Expected:   len(x.Records),
		Missing:    []Discrepancy{},
		Orphaned:   []Discrepancy{},
		Mismatched: []Discrepancy{},
	}
	sample := sampleIndexes(len(x.Records), env.ValidationSample)
	env.Progress.Begin(name, PhaseValidate, len(x.Records))

	for i := range x.Records {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%s validation stopped: %w", name, ErrCancelled)
		}
		env.Progress.Advance(1, 0)

		rec := &x.Records[i]
		key := m.def.Key(rec)
		legacyID := m.def.legacyID(rec)

		id, ok, err := env.Destination.Lookup(ctx, m.def.Table, key)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Missing = append(report.Missing, Discrepancy{
				Table:    m.def.Table,
				LegacyID: legacyID,
				Key:      key.String(),
				Detail:   "no destination row with this natural key",
			})
			continue
		}
		report.Found++

		if err := m.validateChildren(ctx, env, rec, legacyID, id, report); err != nil {
			return report, err
		}

		if len(m.def.References) == 0 && !sample[i] {
			continue
		}
		row, err := env.Destination.Get(ctx, m.def.Table, id)
		if err != nil {
			return report, fmt.Errorf("failed to read %s %s: %w", m.def.Table, id, err)
		}
		if err := checkReferences(ctx, env, m.def.Table, m.def.References, row, legacyID, id, report); err != nil {
			return report, err
		}

		if sample[i] {
			report.Sampled++
			want := m.def.Row(rec)
			for _, col := range m.def.Compare {
				expected, actual := destination.Normalize(want[col]), destination.Normalize(row[col])
				if expected != actual {
					report.Mismatched = append(report.Mismatched, Discrepancy{
						Table:    m.def.Table,
						LegacyID: legacyID,
						ID:       id,
						Field:    col,
						Expected: expected,
						Actual:   actual,
						Detail:   "field differs from the source",
					})
				}
			}
		}
	}

	count, err := env.Destination.Count(ctx, m.def.Table)
	if err != nil {
		return report, err
	}
	report.DestinationCount = count
	report.CountDrift = count - int64(report.Expected)
	report.Passed = len(report.Missing) == 0 && len(report.Orphaned) == 0 && len(report.Mismatched) == 0

	if err := env.Checkpoints.Save(docValidate, name, checkpoint.Metadata{Counts: report.Stats()}, report); err != nil {
		return report, fmt.Errorf("failed to save %s validation report: %w", name, err)
	}
	env.Metrics.SetDiscrepancies(name, len(report.Missing), len(report.Orphaned), len(report.Mismatched))

	printValidationSummary(env.Logger, report)
	return report, nil
}

// validateChildren checks that every child row of a found record exists by its
// natural key and that its references resolve
func (m *entityMigrator[T]) validateChildren(ctx context.Context, env *Env, rec *T, legacyID, parentID string, report *ValidationReport) error {
	for _, child := range m.def.Children {
		for _, cr := range child.Rows(rec, parentID) {
			report.ChildRows++
			childLegacyID := cr.LegacyID
			if childLegacyID == "" {
				childLegacyID = legacyID
			}

			id, ok, err := env.Destination.Lookup(ctx, child.Table, cr.Key)
			if err != nil {
				return err
			}
			if !ok {
				report.Missing = append(report.Missing, Discrepancy{
					Table:    child.Table,
					LegacyID: childLegacyID,
					Key:      cr.Key.String(),
					Detail:   fmt.Sprintf("no %s row with this natural key", child.Table),
				})
				continue
			}
			report.ChildrenFound++

			if len(child.References) == 0 {
				continue
			}
			row, err := env.Destination.Get(ctx, child.Table, id)
			if err != nil {
				return fmt.Errorf("failed to read %s %s: %w", child.Table, id, err)
			}
			if err := checkReferences(ctx, env, child.Table, child.References, row, childLegacyID, id, report); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkReferences records an orphan for every non-null reference of row whose target is gone
func checkReferences(ctx context.Context, env *Env, table string, refs []Reference, row destination.Row, legacyID, id string, report *ValidationReport) error {
	for _, ref := range refs {
		v := row[ref.Column]
		if destination.IsNull(v) {
			continue
		}
		refID := destination.Normalize(v)
		if _, err := env.Destination.Get(ctx, ref.Table, refID); err != nil {
			if !errors.Is(err, destination.ErrNotFound) {
				return err
			}
			report.Orphaned = append(report.Orphaned, Discrepancy{
				Table:    table,
				LegacyID: legacyID,
				ID:       id,
				Field:    ref.Column,
				Actual:   refID,
				Detail:   fmt.Sprintf("%s.%s references a missing %s row", table, ref.Column, ref.Table),
			})
		}
	}
	return nil
}

func printValidationSummary(log *logger.Logger, r *ValidationReport) {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}

	fields := []interface{}{
		"status", status,
		"entity", r.Entity,
		"expected", r.Expected,
		"found", r.Found,
		"child_rows", r.ChildRows,
		"destination_count", r.DestinationCount,
		"missing", len(r.Missing),
		"orphaned", len(r.Orphaned),
		"mismatched", len(r.Mismatched),
	}
	if r.CountDrift != 0 {
		fields = append(fields, "count_drift", r.CountDrift)
	}

	if r.Passed {
		log.Info("Validation summary", fields...)
		return
	}
	log.Error("Validation summary", fields...)

	for _, d := range r.Missing {
		log.Warn("Missing record", "entity", r.Entity, "table", d.Table, "legacy_id", d.LegacyID, "key", d.Key)
	}
	for _, d := range r.Orphaned {
		log.Warn("Orphaned reference", "entity", r.Entity, "table", d.Table, "legacy_id", d.LegacyID, "field", d.Field, "ref", d.Actual)
	}
	for _, d := range r.Mismatched {
		log.Warn("Field mismatch", "entity", r.Entity, "legacy_id", d.LegacyID, "field", d.Field,
			"expected", d.Expected, "actual", d.Actual)
	}
}
