// Package geocode fills in missing coordinates through an external geocoding API.
// Enrichment is best effort: every failure degrades to Confidence None.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shahariaz/legacy_dump_migrator/internal/config"
	"github.com/shahariaz/legacy_dump_migrator/internal/metrics"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// ErrUnavailable means the provider cannot be used (no credentials)
var ErrUnavailable = errors.New("geocoding unavailable")

// Candidate is one ranked search result
type Candidate struct {
	Text       string            `json:"text"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Components map[string]string `json:"components,omitempty"` // postcode, place, region, country...
	Relevance  float64           `json:"relevance"`
}

// Searcher resolves a free-text query into ranked candidates
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Client talks to a Mapbox-style forward geocoding endpoint:
// GET {base}/{query}.json?access_token=...
type Client struct {
	baseURL string
	token   string
	country string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewClient creates a geocoding client
func NewClient(cfg config.GeocodingConfig, logger *logger.Logger, m *metrics.Metrics) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.ProviderURL, "/"),
		token:   cfg.AccessToken,
		country: cfg.Country,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: m,
	}
}

// Available reports whether the client has credentials
func (c *Client) Available() bool {
	return c.token != ""
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string    `json:"id"`
	PlaceName string    `json:"place_name"`
	Center    []float64 `json:"center"` // [lon, lat]
	Relevance float64   `json:"relevance"`
	Context   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"context"`
}

// Search runs one forward geocoding request
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	if !c.Available() {
		c.metrics.Geocode("unavailable")
		return nil, ErrUnavailable
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("access_token", c.token)
	params.Set("limit", "5")
	if c.country != "" {
		params.Set("country", c.country)
	}
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(query), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.Geocode("error")
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.Geocode("error")
		return nil, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		c.metrics.Geocode("error")
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}

	candidates := make([]Candidate, 0, len(fc.Features))
	for _, f := range fc.Features {
		if len(f.Center) < 2 {
			continue
		}
		cand := Candidate{
			Text:       f.PlaceName,
			Longitude:  f.Center[0],
			Latitude:   f.Center[1],
			Relevance:  f.Relevance,
			Components: make(map[string]string),
		}
		for _, ctxItem := range f.Context {
			kind, _, _ := strings.Cut(ctxItem.ID, ".")
			cand.Components[kind] = ctxItem.Text
		}
		if kind, _, ok := strings.Cut(f.ID, "."); ok {
			if _, exists := cand.Components[kind]; !exists {
				cand.Components[kind] = f.PlaceName
			}
		}
		candidates = append(candidates, cand)
	}

	if len(candidates) == 0 {
		c.metrics.Geocode("empty")
	} else {
		c.metrics.Geocode("found")
	}
	return candidates, nil
}
