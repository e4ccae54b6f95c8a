package geocode

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// Confidence grades how much a geocoded position can be trusted
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Result is the outcome of enriching one address
type Result struct {
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Matched    string     `json:"matched,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Query joins the non-empty address parts into a free-text search query
func Query(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// Score grades a candidate against the postcode the caller expects. A candidate whose
// postcode disagrees with the expected one is never better than low.
func Score(c Candidate, postcode string) Confidence {
	var conf Confidence
	switch {
	case c.Relevance >= 0.9:
		conf = ConfidenceHigh
	case c.Relevance >= 0.7:
		conf = ConfidenceMedium
	case c.Relevance > 0:
		conf = ConfidenceLow
	default:
		return ConfidenceNone
	}

	if postcode != "" {
		if got, ok := c.Components["postcode"]; ok && !samePostcode(got, postcode) {
			return ConfidenceLow
		}
	}
	return conf
}

func samePostcode(a, b string) bool {
	norm := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	}
	return norm(a) == norm(b)
}

// Request is one address awaiting enrichment
type Request struct {
	Query    string
	Postcode string
}

// Enricher runs lookups in bounded batches with a pause between batches
type Enricher struct {
	searcher  Searcher
	batchSize int
	delay     time.Duration
	logger    *logger.Logger
}

// NewEnricher creates an enricher. A nil searcher makes every lookup return ConfidenceNone.
func NewEnricher(searcher Searcher, batchSize int, delay time.Duration, logger *logger.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Enricher{searcher: searcher, batchSize: batchSize, delay: delay, logger: logger}
}

// Lookup enriches one address; it never fails
func (e *Enricher) Lookup(ctx context.Context, req Request) Result {
	if e == nil || e.searcher == nil || req.Query == "" {
		return Result{Confidence: ConfidenceNone}
	}

	candidates, err := e.searcher.Search(ctx, req.Query)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			e.logger.Warn("Geocoding failed", "query", req.Query, "error", err)
		}
		return Result{Confidence: ConfidenceNone}
	}
	if len(candidates) == 0 {
		e.logger.Debug("No geocoding match", "query", req.Query)
		return Result{Confidence: ConfidenceNone}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Relevance > best.Relevance {
			best = c
		}
	}

	lat, lng := best.Latitude, best.Longitude
	return Result{
		Latitude:   &lat,
		Longitude:  &lng,
		Matched:    best.Text,
		Confidence: Score(best, req.Postcode),
	}
}

// Batch enriches all requests, batchSize at a time. Results line up with requests.
// Cancellation stops before the next batch; unprocessed requests get ConfidenceNone.
func (e *Enricher) Batch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	for i := range results {
		results[i] = Result{Confidence: ConfidenceNone}
	}
	if e == nil || e.searcher == nil {
		return results
	}

	for start := 0; start < len(reqs); start += e.batchSize {
		if ctx.Err() != nil {
			e.logger.Warn("Geocoding interrupted", "processed", start, "total", len(reqs))
			return results
		}
		if start > 0 && e.delay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(e.delay):
			}
		}

		end := start + e.batchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.batchSize)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = e.Lookup(gctx, reqs[i])
				return nil
			})
		}
		g.Wait()

		e.logger.Debug("Geocoding batch completed", "processed", end, "total", len(reqs))
	}
	return results
}
