// Package pipeline runs the phased migration of legacy entities: extract records from
// the dump into checkpoints, create them in the destination and validate the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// Orchestrator runs entity migrations in dependency order
type Orchestrator struct {
	env        *Env
	migrators  []Migrator
	logger     *logger.Logger
	reportPath string
	interval   time.Duration
	dryRun     bool
}

// Options tune an Orchestrator
type Options struct {
	ReportPath       string        // Where the run report is written; empty disables it
	ProgressInterval time.Duration // How often progress is logged; zero disables it
	DryRun           bool
}

// NewOrchestrator creates an orchestrator over migrators, listed in declaration order
func NewOrchestrator(env *Env, migrators []Migrator, opts Options) *Orchestrator {
	if env.Progress == nil {
		env.Progress = NewProgressTracker()
	}
	return &Orchestrator{
		env:        env,
		migrators:  migrators,
		logger:     env.Logger,
		reportPath: opts.ReportPath,
		interval:   opts.ProgressInterval,
		dryRun:     opts.DryRun,
	}
}

// Names returns every known entity in execution order
func (o *Orchestrator) Names() []string {
	ordered, _ := o.plan(nil)
	names := make([]string, len(ordered))
	for i, m := range ordered {
		names[i] = m.Name()
	}
	return names
}

// plan selects the requested migrators (all when empty) and orders them so that
// every entity runs after the entities it depends on.
func (o *Orchestrator) plan(entities []string) ([]Migrator, error) {
	byName := make(map[string]Migrator, len(o.migrators))
	for _, m := range o.migrators {
		byName[m.Name()] = m
	}

	wanted := make(map[string]bool)
	if len(entities) == 0 {
		for _, m := range o.migrators {
			wanted[m.Name()] = true
		}
	}
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := byName[e]; !ok {
			return nil, fmt.Errorf("unknown entity %q", e)
		}
		wanted[e] = true
	}

	// Kahn's algorithm over the full graph, stable in declaration order
	done := make(map[string]bool, len(o.migrators))
	var ordered []Migrator
	for len(done) < len(o.migrators) {
		progressed := false
		for _, m := range o.migrators {
			if done[m.Name()] {
				continue
			}
			ready := true
			for _, dep := range m.DependsOn() {
				if _, known := byName[dep]; known && !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[m.Name()] = true
			progressed = true
			if wanted[m.Name()] {
				ordered = append(ordered, m)
			}
		}
		if !progressed {
			return nil, fmt.Errorf("entity dependencies form a cycle")
		}
	}
	return ordered, nil
}

// Run executes phases for the requested entities and writes the run report. A phase
// error stops the remaining phases of that entity only; later entities still run.
func (o *Orchestrator) Run(ctx context.Context, entities []string, phases []Phase) (*RunReport, error) {
	ordered, err := o.plan(entities)
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		phases = AllPhases
	}

	report := newRunReport(phases, o.dryRun)
	o.logger.Info("Starting migration",
		"entities", strings.Join(namesOf(ordered), ","),
		"phases", joinPhases(phases),
		"dry_run", o.dryRun)

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go o.env.Progress.Report(progressCtx, o.logger, o.interval)

	for _, m := range ordered {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		report.Entities = append(report.Entities, o.runEntity(ctx, m, phases))
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
	}

	report.finish()
	o.logSummary(report)

	if o.reportPath != "" {
		if err := report.Save(o.reportPath); err != nil {
			return report, err
		}
		o.logger.Info("Run report written", "path", o.reportPath)
	}

	if report.Cancelled {
		return report, ErrCancelled
	}
	return report, nil
}

func (o *Orchestrator) runEntity(ctx context.Context, m Migrator, phases []Phase) EntityReport {
	er := EntityReport{Entity: m.Name()}

	for _, phase := range phases {
		result := PhaseResult{Phase: phase, Started: time.Now().UTC()}

		var (
			stats Stats
			err   error
		)
		switch phase {
		case PhaseExtract:
			stats, err = m.Extract(ctx, o.env)
		case PhaseCreate:
			stats, err = m.Create(ctx, o.env)
		case PhaseValidate:
			var vr *ValidationReport
			vr, err = m.Validate(ctx, o.env)
			if vr != nil {
				stats = vr.Stats()
				if err == nil {
					er.Validation = vr
				}
			}
		default:
			err = fmt.Errorf("unknown phase %q", phase)
		}

		result.Finished = time.Now().UTC()
		elapsed := result.Finished.Sub(result.Started)
		result.Duration = elapsed.Round(time.Millisecond).String()
		result.Stats = stats
		o.env.Metrics.ObservePhase(m.Name(), string(phase), elapsed)

		if err != nil {
			result.Error = err.Error()
			er.Phases = append(er.Phases, result)
			er.Error = err.Error()
			if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
				er.Cancelled = true
				o.logger.Warn("Phase cancelled", "entity", m.Name(), "phase", phase)
			} else {
				o.logger.Error("Phase failed, skipping remaining phases of entity",
					"entity", m.Name(),
					"phase", phase,
					"error", err)
			}
			return er
		}
		er.Phases = append(er.Phases, result)
	}
	return er
}

func (o *Orchestrator) logSummary(r *RunReport) {
	o.logger.Info("=== MIGRATION SUMMARY ===")
	for _, er := range r.Entities {
		status := "OK"
		switch {
		case er.Cancelled:
			status = "CANCELLED"
		case er.Error != "":
			status = "FAILED"
		case er.Validation != nil && !er.Validation.Passed:
			status = "INVALID"
		}
		fields := []interface{}{"entity", er.Entity, "status", status}
		for _, p := range er.Phases {
			fields = append(fields, string(p.Phase), p.Duration)
		}
		if er.Error != "" {
			fields = append(fields, "error", er.Error)
			o.logger.Error("Entity result", fields...)
			continue
		}
		o.logger.Info("Entity result", fields...)
	}
	o.logger.Info("Migration finished",
		"success", r.Success,
		"validation_passed", r.ValidationPassed,
		"duration", r.Duration,
		"created", r.Summary.Created,
		"existing", r.Summary.Existing,
		"failed", r.Summary.Failed,
		"skipped", r.Summary.Skipped)
}

func namesOf(ms []Migrator) []string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name()
	}
	return names
}

func joinPhases(phases []Phase) string {
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
