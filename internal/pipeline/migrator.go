package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shahariaz/legacy_dump_migrator/internal/checkpoint"
	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
	"github.com/shahariaz/legacy_dump_migrator/internal/geocode"
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/metrics"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// Env holds the collaborators shared by every entity migration in a run
type Env struct {
	Dump        *dump.Dump
	Mapper      *legacy.Mapper
	IDs         *idmap.Store
	Checkpoints checkpoint.Repository
	Destination destination.Destination
	Enricher    *geocode.Enricher
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	Progress    *ProgressTracker

	BatchSize        int
	ValidationSample int
}

func (e *Env) input(enrich bool) *Input {
	in := &Input{Dump: e.Dump, Mapper: e.Mapper, IDs: e.IDs, Logger: e.Logger}
	if enrich {
		in.Enricher = e.Enricher
	}
	return in
}

// Migrator runs the phases of one entity type
type Migrator interface {
	Name() string
	DependsOn() []string
	Extract(ctx context.Context, env *Env) (Stats, error)
	Create(ctx context.Context, env *Env) (Stats, error)
	Validate(ctx context.Context, env *Env) (*ValidationReport, error)
}

type entityMigrator[T any] struct {
	def Definition[T]
}

// New turns an entity definition into a Migrator
func New[T any](def Definition[T]) Migrator {
	return &entityMigrator[T]{def: def}
}

func (m *entityMigrator[T]) Name() string {
	return m.def.Name
}

func (m *entityMigrator[T]) DependsOn() []string {
	return m.def.DependsOn
}

func (m *entityMigrator[T]) transform(ctx context.Context, in *Input) (*Extraction[T], error) {
	x, err := m.def.Transform(ctx, in)
	if err != nil {
		return nil, err
	}
	m.def.dedupe(x)
	return x, nil
}

// Extract transforms the dump and checkpoints the records and skips
func (m *entityMigrator[T]) Extract(ctx context.Context, env *Env) (Stats, error) {
	name := m.def.Name
	env.Logger.Info("Starting extraction", "entity", name)

	x, err := m.transform(ctx, env.input(true))
	if err != nil {
		return nil, fmt.Errorf("%s transform failed: %w", name, err)
	}

	stats := x.Stats()
	stats[StatExtracted] = len(x.Records)

	if err := checkpoint.Save(env.Checkpoints, docExtract, name, x.Records, stats); err != nil {
		return stats, fmt.Errorf("failed to save %s extract checkpoint: %w", name, err)
	}
	if err := checkpoint.Save(env.Checkpoints, docSkipped, name, x.Skipped, Stats{StatSkipped: len(x.Skipped)}); err != nil {
		return stats, fmt.Errorf("failed to save %s skip list: %w", name, err)
	}

	for _, s := range x.Skipped {
		env.Logger.Debug("Skipped record", "entity", name, "source", s.Source, "legacy_id", s.LegacyID, "reason", s.Reason)
	}

	env.Metrics.Records(name, string(PhaseExtract), "extracted", len(x.Records))
	env.Metrics.Records(name, string(PhaseExtract), "skipped", len(x.Skipped))
	env.Metrics.Records(name, string(PhaseExtract), "excluded", x.ExcludedDeleted+x.ExcludedInactive)

	env.Logger.Info("Extraction completed", append([]interface{}{"entity", name}, stats.Fields()...)...)
	return stats, nil
}

// Create writes the extracted records in bounded parallel batches
func (m *entityMigrator[T]) Create(ctx context.Context, env *Env) (Stats, error) {
	name := m.def.Name
	records, _, err := checkpoint.Load[T](env.Checkpoints, docExtract, name)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("no %s extract checkpoint, run the extract phase first: %w", name, err)
		}
		return nil, err
	}

	batchSize := env.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	env.Logger.Info("Starting creation", "entity", name, "records", len(records), "batch_size", batchSize)
	env.Progress.Begin(name, PhaseCreate, len(records))

	var (
		mu     sync.Mutex
		stats  = Stats{StatCreated: 0, StatExisting: 0, StatFailed: 0}
		failed []FailedRecord
	)
	writer := NewWriter(env.Destination)

	finish := func() error {
		if err := env.IDs.Flush(); err != nil {
			return fmt.Errorf("failed to flush %s mappings: %w", name, err)
		}
		if err := checkpoint.Save(env.Checkpoints, docCreateFailed, name, failed, Stats{StatFailed: len(failed)}); err != nil {
			return fmt.Errorf("failed to save %s failures: %w", name, err)
		}
		env.Metrics.Records(name, string(PhaseCreate), "created", stats[StatCreated])
		env.Metrics.Records(name, string(PhaseCreate), "existing", stats[StatExisting])
		env.Metrics.Records(name, string(PhaseCreate), "failed", stats[StatFailed])
		return nil
	}

	for start := 0; start < len(records); start += batchSize {
		if ctx.Err() != nil {
			env.Logger.Warn("Creation interrupted", "entity", name, "processed", start, "total", len(records))
			if err := finish(); err != nil {
				return stats, err
			}
			return stats, fmt.Errorf("%s create stopped after %d of %d records: %w", name, start, len(records), ErrCancelled)
		}

		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		var g errgroup.Group
		g.SetLimit(batchSize)
		for i := start; i < end; i++ {
			rec := &records[i]
			g.Go(func() error {
				id, created, err := m.write(ctx, writer, env.IDs, rec)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					stats[StatFailed]++
					failed = append(failed, FailedRecord{
						Entity:   name,
						LegacyID: m.def.legacyID(rec),
						Key:      m.def.Key(rec).String(),
						Error:    err.Error(),
					})
					env.Logger.Warn("Failed to create record",
						"entity", name,
						"legacy_id", m.def.legacyID(rec),
						"error", err)
				case created:
					stats[StatCreated]++
				default:
					stats[StatExisting]++
					env.Logger.Debug("Record already present", "entity", name, "legacy_id", m.def.legacyID(rec), "id", id)
				}
				return nil
			})
		}
		g.Wait()

		if err := env.IDs.Flush(); err != nil {
			return stats, fmt.Errorf("failed to flush %s mappings: %w", name, err)
		}
		env.Progress.Advance(end-start, stats[StatFailed])
	}

	if err := finish(); err != nil {
		return stats, err
	}

	env.Logger.Info("Creation completed", append([]interface{}{"entity", name}, stats.Fields()...)...)
	return stats, nil
}

// write persists one record and maps every legacy id it stands for
func (m *entityMigrator[T]) write(ctx context.Context, w *Writer, ids *idmap.Store, rec *T) (string, bool, error) {
	id, created, err := w.Upsert(ctx, m.def.Table, m.def.Key(rec), m.def.Row(rec))
	if err != nil {
		return "", false, err
	}

	// children go in before the mapping so a failed child leaves the record retryable
	for _, child := range m.def.Children {
		for _, cr := range child.Rows(rec, id) {
			if _, _, err := w.Upsert(ctx, child.Table, cr.Key, cr.Row); err != nil {
				return id, created, fmt.Errorf("failed to write %s: %w", child.Table, err)
			}
		}
	}

	for _, ref := range m.def.Sources(rec) {
		if err := ids.Put(ref.Mapping, ref.ID, id); err != nil {
			return id, created, err
		}
	}
	return id, created, nil
}
