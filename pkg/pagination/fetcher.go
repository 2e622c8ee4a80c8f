package pagination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forgeops/glbatch/pkg/client"
)

// Prometheus metrics for pagination.
var (
	forgePagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_pages_fetched_total",
		Help: "Total listing pages fetched",
	})

	forgePageLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_page_limit_hits_total",
		Help: "Total listings that hit the page safety cap",
	})
)

// ErrPageLimitExceeded marks a listing that hit the page safety cap. The
// records fetched up to the cap are still returned; the caller decides
// whether partial data is acceptable.
var ErrPageLimitExceeded = errors.New("pagination limit exceeded")

// Record is one opaque resource from a listing. The remote schema is an
// external concern; the engine only reads identity fields out of it.
type Record map[string]any

// Getter is the single-request surface the fetcher needs from the client.
type Getter interface {
	Get(ctx context.Context, path string) (*client.Response, error)
}

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the per_page value requested (default 100).
	PageSize int

	// MaxPages is the hard safety cap on pages walked per listing
	// (default 100).
	MaxPages int
}

// DefaultConfig returns safe fetcher defaults.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		MaxPages: 100,
	}
}

// Fetcher aggregates multi-page listings into one result set.
type Fetcher struct {
	client Getter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher on top of a forge client.
func NewFetcher(getter Getter, cfg Config) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	return &Fetcher{
		client: getter,
		config: cfg,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// FetchAll walks basePath page by page until a short or empty page ends the
// collection. On a terminal page failure it returns the error with no
// records. On hitting the page cap it returns the records gathered so far
// together with ErrPageLimitExceeded.
func (f *Fetcher) FetchAll(ctx context.Context, basePath string) ([]Record, error) {
	var records []Record

	for page := 1; page <= f.config.MaxPages; page++ {
		resp, err := f.client.Get(ctx, pagePath(basePath, page, f.config.PageSize))
		if err != nil {
			return nil, fmt.Errorf("fetch page %d of %s: %w", page, basePath, err)
		}
		if !resp.Success() {
			return nil, &client.APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: client.ErrorClassClient,
				Message:    fmt.Sprintf("list %s page %d: %s", basePath, page, string(resp.Body)),
				Attempts:   resp.Attempts,
			}
		}

		var pageRecords []Record
		if err := resp.DecodeJSON(&pageRecords); err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", page, basePath, err)
		}

		forgePagesFetchedTotal.Inc()
		records = append(records, pageRecords...)

		f.logger.Debug().
			Str("path", basePath).
			Int("page", page).
			Int("page_records", len(pageRecords)).
			Int("total_records", len(records)).
			Msg("Fetched listing page")

		if len(pageRecords) < f.config.PageSize {
			return records, nil
		}
	}

	forgePageLimitHitsTotal.Inc()
	f.logger.Warn().
		Str("path", basePath).
		Int("max_pages", f.config.MaxPages).
		Int("records", len(records)).
		Msg("Listing hit page safety cap - returning partial results")

	return records, fmt.Errorf("%w: %s after %d pages", ErrPageLimitExceeded, basePath, f.config.MaxPages)
}

// pagePath appends page/per_page parameters to a listing path.
func pagePath(basePath string, page, perPage int) string {
	sep := "?"
	if strings.Contains(basePath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d&per_page=%d", basePath, sep, page, perPage)
}
