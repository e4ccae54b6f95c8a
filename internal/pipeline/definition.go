package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/shahariaz/legacy_dump_migrator/internal/coerce"
	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
	"github.com/shahariaz/legacy_dump_migrator/internal/geocode"
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// Input is what a transform reads: the dump, the mappings written by earlier entities
// and, during extraction only, the geocoder.
type Input struct {
	Dump     *dump.Dump
	Mapper   *legacy.Mapper
	IDs      *idmap.Store
	Enricher *geocode.Enricher // nil when validating
	Logger   *logger.Logger
}

// Rows returns the parsed rows of a dump table and tallies its size and malformed rows.
// Soft-deleted rows are excluded here, before any mapping.
func (in *Input) Rows(table string, t *Tally) ([]dump.RawRow, error) {
	parsed, err := in.Dump.Table(table)
	if err != nil {
		return nil, err
	}
	t.SourceRows += len(parsed.Rows)
	t.Malformed += len(parsed.Malformed)
	for _, m := range parsed.Malformed {
		in.Logger.Warn("Dropped malformed row",
			"table", table,
			"statement", m.Statement,
			"row", m.Row,
			"got", m.Got,
			"want", m.Want,
			"snippet", m.Snippet)
	}

	rows := make([]dump.RawRow, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		if coerce.OptionalTimestamp(row.Value("deleted_at")) != nil {
			t.ExcludedDeleted++
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// OptionalRows is Rows for a table that may be absent from the dump
func (in *Input) OptionalRows(table string, t *Tally) ([]dump.RawRow, error) {
	rows, err := in.Rows(table, t)
	if errors.Is(err, dump.ErrSchemaNotFound) {
		in.Logger.Warn("Optional table not present in dump", "table", table)
		return nil, nil
	}
	return rows, err
}

// Tally collects the non-record outcomes of a transform
type Tally struct {
	SourceRows       int
	Malformed        int
	ExcludedDeleted  int
	ExcludedInactive int
	Duplicates       int
	Skipped          []SkipRecord
	Extra            map[string]int
}

// Skip records a row that produced no target record
func (t *Tally) Skip(entity, source, legacyID, reason string) {
	t.Skipped = append(t.Skipped, SkipRecord{Entity: entity, LegacyID: legacyID, Source: source, Reason: reason})
}

// Add bumps an entity-specific counter
func (t *Tally) Add(name string, n int) {
	if t.Extra == nil {
		t.Extra = make(map[string]int)
	}
	t.Extra[name] += n
}

// Excluded applies the soft-delete and inactive filters, counting what they remove
func (t *Tally) Excluded(a legacy.Audit, active bool) bool {
	if a.Deleted() {
		t.ExcludedDeleted++
		return true
	}
	if !active {
		t.ExcludedInactive++
		return true
	}
	return false
}

// Stats renders the tally as phase stats
func (t *Tally) Stats() Stats {
	s := Stats{
		StatSourceRows:       t.SourceRows,
		StatMalformed:        t.Malformed,
		StatSkipped:          len(t.Skipped),
		StatExcludedDeleted:  t.ExcludedDeleted,
		StatExcludedInactive: t.ExcludedInactive,
		StatDuplicates:       t.Duplicates,
	}
	for k, v := range t.Extra {
		s[k] = v
	}
	return s
}

// Extraction is the result of transforming the dump into target records
type Extraction[T any] struct {
	Records []T
	Tally
}

// LegacyRef names one legacy row that a target record stands for
type LegacyRef struct {
	Mapping string `json:"mapping"` // idmap name, e.g. "buyers"
	ID      string `json:"id"`
}

// Reference is a foreign key column checked for orphans
type Reference struct {
	Column string
	Table  string
}

// Child is a dependent table written with every record, such as the line items of a
// booking. Child rows are upserted by their own natural key after the record itself
// and are checked by Validate like the primary table.
type Child[T any] struct {
	Table string
	// Rows projects a record onto the child table; parentID is the record's destination id
	Rows       func(rec *T, parentID string) []ChildRow
	References []Reference
}

// ChildRow is one row of a child table
type ChildRow struct {
	LegacyID string // legacy row it stands for; empty means the parent's
	Key      destination.Key
	Row      destination.Row
}

// Definition describes how one entity type is migrated
type Definition[T any] struct {
	Name      string
	Table     string   // primary destination table
	DependsOn []string // entities whose mappings the transform reads

	// Transform builds target records from the dump
	Transform func(ctx context.Context, in *Input) (*Extraction[T], error)
	// Sources lists the legacy rows a record stands for; the first is reported in diagnostics
	Sources func(rec *T) []LegacyRef
	// Key is the natural uniqueness key in Table
	Key func(rec *T) destination.Key
	// Row projects a record onto Table's columns
	Row func(rec *T) destination.Row
	// Merge folds a duplicate into the record that shares its key. When nil duplicates are skipped.
	Merge func(into, dup *T)
	Children   []Child[T]
	References []Reference
	Compare    []string // columns compared on sampled records
}

func (d *Definition[T]) legacyID(rec *T) string {
	if refs := d.Sources(rec); len(refs) > 0 {
		return refs[0].ID
	}
	return ""
}

// dedupe collapses records sharing a natural key, preserving first-seen order
func (d *Definition[T]) dedupe(x *Extraction[T]) {
	seen := make(map[string]int, len(x.Records))
	kept := x.Records[:0]
	for _, rec := range x.Records {
		rec := rec
		key := d.Key(&rec).String()
		if i, ok := seen[key]; ok {
			x.Duplicates++
			if d.Merge != nil {
				d.Merge(&kept[i], &rec)
			} else {
				x.Skip(d.Name, d.Table, d.legacyID(&rec),
					fmt.Sprintf("duplicate of legacy id %s (%s)", d.legacyID(&kept[i]), key))
			}
			continue
		}
		seen[key] = len(kept)
		kept = append(kept, rec)
	}
	x.Records = kept
}

// Writer performs idempotent writes against the destination
type Writer struct {
	dest destination.Destination
}

// NewWriter wraps a destination
func NewWriter(dest destination.Destination) *Writer {
	return &Writer{dest: dest}
}

// Upsert returns the id of the row matching key, inserting row when there is none.
// A unique violation on insert means a concurrent writer won; its id is returned.
func (w *Writer) Upsert(ctx context.Context, table string, key destination.Key, row destination.Row) (string, bool, error) {
	id, ok, err := w.dest.Lookup(ctx, table, key)
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, false, nil
	}

	id, err = w.dest.Insert(ctx, table, row)
	if errors.Is(err, destination.ErrDuplicate) {
		existing, ok, lookupErr := w.dest.Lookup(ctx, table, key)
		if lookupErr == nil && ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
