package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// ProgressTracker monitors the phase currently running. A nil tracker ignores updates.
type ProgressTracker struct {
	mu             sync.RWMutex
	CurrentEntity  string    // Entity being migrated
	CurrentPhase   Phase     // Phase being run
	Total          int       // Records the phase will handle
	Processed      int       // Records handled so far
	ErrorCount     int       // Records that failed
	StartTime      time.Time // Run start time
	PhaseStartTime time.Time // Current phase start time
}

// NewProgressTracker creates a tracker starting now
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{StartTime: time.Now()}
}

// Begin resets the counters for a new phase
func (p *ProgressTracker) Begin(entity string, phase Phase, total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentEntity = entity
	p.CurrentPhase = phase
	p.Total = total
	p.Processed = 0
	p.ErrorCount = 0
	p.PhaseStartTime = time.Now()
}

// Advance records processed records and the running failure count
func (p *ProgressTracker) Advance(processed, failed int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Processed += processed
	p.ErrorCount = failed
}

// Log reports the current progress with rate and ETA
func (p *ProgressTracker) Log(log *logger.Logger) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.CurrentEntity == "" {
		return
	}
	elapsed := time.Since(p.PhaseStartTime)

	var perSecond float64
	if elapsed.Seconds() > 0 {
		perSecond = float64(p.Processed) / elapsed.Seconds()
	}

	var eta time.Duration
	if perSecond > 0 && p.Total > p.Processed {
		eta = time.Duration(float64(p.Total-p.Processed)/perSecond) * time.Second
	}

	log.Info("Migration progress report",
		"entity", p.CurrentEntity,
		"phase", p.CurrentPhase,
		"processed", p.Processed,
		"total", p.Total,
		"records_per_second", fmt.Sprintf("%.2f", perSecond),
		"elapsed", time.Since(p.StartTime).Round(time.Second),
		"eta", eta.Round(time.Second),
		"errors", p.ErrorCount,
	)
}

// Report logs progress every interval until ctx is done
func (p *ProgressTracker) Report(ctx context.Context, log *logger.Logger, interval time.Duration) {
	if p == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Log(log)
		}
	}
}
