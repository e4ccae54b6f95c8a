// Package main provides the entry point for the legacy dump migrator.
// It reads a legacy MySQL dump and migrates buyers, stylists and their bookings into the
// target schema in three resumable phases: extract, create and validate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shahariaz/legacy_dump_migrator/internal/checkpoint"
	"github.com/shahariaz/legacy_dump_migrator/internal/config"
	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
	"github.com/shahariaz/legacy_dump_migrator/internal/entity"
	"github.com/shahariaz/legacy_dump_migrator/internal/geocode"
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/metrics"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

type options struct {
	configPath string
	entities   []string
	dryRun     bool
}

var (
	opts     options
	exitCode = pipeline.ExitOK
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a legacy MySQL dump into the target schema",
	Long: `Migrates buyers, stylists, addresses, services, bookings, payments, chats and
reviews from a legacy MySQL dump. Each entity runs three phases:

  extract   parse the dump and checkpoint the transformed records
  create    write checkpointed records idempotently and record id mappings
  validate  compare the destination against the dump

Exit codes: 0 success, 1 fatal error, 2 validation found discrepancies.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVarP(&opts.entities, "entities", "e", nil,
		"Entities to migrate, comma-separated (default: all, or pipeline.entities)")
	rootCmd.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Write to an in-memory destination only")

	rootCmd.AddCommand(
		phaseCommand("run", "Run extract, create and validate", nil),
		phaseCommand("extract", "Parse the dump and checkpoint transformed records", []pipeline.Phase{pipeline.PhaseExtract}),
		phaseCommand("create", "Write checkpointed records to the destination", []pipeline.Phase{pipeline.PhaseCreate}),
		phaseCommand("validate", "Validate the destination against the dump", []pipeline.Phase{pipeline.PhaseValidate}),
	)
}

func phaseCommand(use, short string, phases []pipeline.Phase) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd.Context(), opts, phases)
			exitCode = code
			return err
		},
	}
}

func main() {
	// Setup graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if exitCode == pipeline.ExitOK {
			exitCode = pipeline.ExitFatal
		}
	}
	os.Exit(exitCode)
}

// run executes the requested phases and returns the process exit code
func run(ctx context.Context, o options, phases []pipeline.Phase) (int, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return pipeline.ExitFatal, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.dryRun {
		cfg.Pipeline.DryRun = true
	}
	if cfg.Pipeline.DryRun {
		// dry runs keep their own mappings and checkpoints so they never feed a real run
		cfg.Output.Directory = filepath.Join(cfg.Output.Directory, "dry_run")
	}
	entities := cfg.Pipeline.Entities
	if len(o.entities) > 0 {
		entities = o.entities
	}
	phases = phasesFor(phases, cfg.Pipeline.SkipValidation)

	log, err := logger.NewRun(cfg.Logger.Level, cfg.Logger.Format, cfg.LogPath())
	if err != nil {
		return pipeline.ExitFatal, err
	}
	defer log.Close()

	log.Info("Starting legacy dump migration",
		"config", o.configPath,
		"dump", cfg.Dump.Path,
		"driver", cfg.Destination.Driver,
		"dry_run", cfg.Pipeline.DryRun,
		"batch_size", cfg.Pipeline.BatchSize)

	env, cleanup, err := setup(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize migration", "error", err)
		return pipeline.ExitFatal, err
	}
	defer cleanup()

	orchestrator := pipeline.NewOrchestrator(env, entity.Migrators(), pipeline.Options{
		ReportPath:       cfg.ReportPath(),
		ProgressInterval: cfg.Pipeline.ProgressInterval,
		DryRun:           cfg.Pipeline.DryRun,
	})

	report, err := orchestrator.Run(ctx, entities, phases)
	if err != nil && !errors.Is(err, pipeline.ErrCancelled) {
		log.Error("Migration failed", "error", err)
		return pipeline.ExitFatal, err
	}
	if report == nil {
		return pipeline.ExitFatal, err
	}

	code := report.Outcome()
	switch code {
	case pipeline.ExitOK:
		log.Info("Migration completed successfully", "duration", report.Duration)
	case pipeline.ExitValidationFailed:
		log.Warn("Migration completed with validation discrepancies", "report", cfg.ReportPath())
	default:
		log.Error("Migration finished with errors", "report", cfg.ReportPath())
	}
	return code, nil
}

// phasesFor resolves the phases of a command; nil means a full run
func phasesFor(phases []pipeline.Phase, skipValidation bool) []pipeline.Phase {
	if phases != nil {
		return phases
	}
	if skipValidation {
		return []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate}
	}
	return pipeline.AllPhases
}

// setup wires the collaborators of a run. The returned cleanup closes the destination.
func setup(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline.Env, func(), error) {
	var dumpOpts []dump.Option
	if cfg.Dump.BackslashEscapes {
		dumpOpts = append(dumpOpts, dump.WithBackslashEscapes())
	}
	d, err := dump.Load(cfg.Dump.Path, dumpOpts...)
	if err != nil {
		return nil, nil, err
	}

	var dest destination.Destination
	if cfg.Pipeline.DryRun || cfg.Destination.Driver == config.DriverMemory {
		log.Info("Using in-memory destination")
		dest = destination.NewMemory()
	} else {
		sqlDest, err := destination.Open(ctx, cfg.Destination, log)
		if err != nil {
			return nil, nil, err
		}
		dest = sqlDest
	}
	cleanup := func() {
		if err := dest.Close(); err != nil {
			log.Warn("Failed to close destination", "error", err)
		}
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.Error("Metrics server stopped", "error", err)
			}
		}()
		log.Info("Serving metrics", "address", cfg.Metrics.Address)
	}

	var enricher *geocode.Enricher
	if cfg.Geocoding.Enabled {
		client := geocode.NewClient(cfg.Geocoding, log, m)
		if !client.Available() {
			log.Warn("Geocoding has no access token, addresses without coordinates keep confidence none")
		}
		enricher = geocode.NewEnricher(client, cfg.Geocoding.BatchSize, cfg.Geocoding.BatchDelay, log)
	}

	return &pipeline.Env{
		Dump:             d,
		Mapper:           legacy.NewMapper(nil),
		IDs:              idmap.NewStore(cfg.MappingPath()),
		Checkpoints:      checkpoint.NewFileRepository(cfg.CheckpointPath()),
		Destination:      dest,
		Enricher:         enricher,
		Metrics:          m,
		Logger:           log,
		Progress:         pipeline.NewProgressTracker(),
		BatchSize:        cfg.Pipeline.BatchSize,
		ValidationSample: cfg.Pipeline.ValidationSample,
	}, cleanup, nil
}
