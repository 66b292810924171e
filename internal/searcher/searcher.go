// Package searcher is the public surface of the index engine: it ties the
// configuration store, the filesystem scanner, and the index store
// together behind one handle.
//
// A Searcher is constructed explicitly and owned by its caller; there is
// no implicit global instance. One logical index session per process is
// enforced through a registry of open database locations: constructing a
// second Searcher against a location that is already open fails with
// ErrLocationInUse, which prevents two in-process connections from
// holding independent locks on the same index file.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsearch/fsearch/internal/config"
	"github.com/fsearch/fsearch/internal/index"
	"github.com/fsearch/fsearch/internal/observability"
	"github.com/fsearch/fsearch/internal/scan"
)

// ErrLocationInUse reports that another Searcher in this process already
// owns the requested index location.
var ErrLocationInUse = errors.New("searcher: index location already open in this process")

// ErrClosed is returned by operations on a closed Searcher.
var ErrClosed = errors.New("searcher: closed")

var (
	registryMu    sync.Mutex
	openLocations = map[string]bool{}
)

func acquireLocation(location string) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if openLocations[location] {
		return fmt.Errorf("%w: %s", ErrLocationInUse, location)
	}
	openLocations[location] = true
	return nil
}

func releaseLocation(location string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(openLocations, location)
}

// Searcher is the facade consumed by UI and tooling layers.
type Searcher struct {
	mu       sync.Mutex
	cfgStore *config.Store
	cfg      *config.Config
	store    *index.Store
	scanner  *scan.Scanner
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
	closed   bool
}

// New loads configuration through cfgStore and opens the index at the
// resolved database location. A nil logger logs to stderr.
func New(cfgStore *config.Store, logger *observability.Logger) (*Searcher, error) {
	if logger == nil {
		logger = observability.NewLogger("searcher", nil)
	}

	cfg, err := cfgStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	location := cfgStore.ResolveDBPath(cfg)
	if err := acquireLocation(location); err != nil {
		return nil, err
	}

	store, err := index.Open(location, logger)
	if err != nil {
		releaseLocation(location)
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Searcher{
		cfgStore: cfgStore,
		cfg:      cfg,
		store:    store,
		scanner:  scan.New(logger),
		logger:   logger,
		metrics:  observability.NewMetricsCollector(0),
	}, nil
}

// RefreshConfig reloads the configuration from disk and, if the resolved
// database location changed, moves the index connection there.
func (s *Searcher) RefreshConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	cfg, err := s.cfgStore.Load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	oldLocation := s.store.Location()
	newLocation := s.cfgStore.ResolveDBPath(cfg)
	if newLocation != oldLocation {
		if err := acquireLocation(newLocation); err != nil {
			return err
		}
		if err := s.store.SwitchLocation(newLocation); err != nil {
			releaseLocation(newLocation)
			return fmt.Errorf("switch index location: %w", err)
		}
		releaseLocation(oldLocation)
	}

	s.cfg = cfg
	return nil
}

// snapshot returns the store and config under the facade lock so calls
// observe a consistent pair even across a concurrent RefreshConfig.
func (s *Searcher) snapshot() (*index.Store, *config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	return s.store, s.cfg, nil
}

// Rebuild scans the configured roots and replaces the index contents.
// Roots, extensions, and the include-folders flag are resolved from the
// current configuration at call time. onProgress may be nil.
func (s *Searcher) Rebuild(ctx context.Context, onProgress func(string)) (int, error) {
	store, cfg, err := s.snapshot()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	entries := s.scanner.Scan(ctx, cfg.Roots, cfg.NormalizedExtensions(), cfg.IncludeFolders)
	count, err := store.Rebuild(ctx, entries, onProgress)
	if err != nil {
		s.metrics.Increment("rebuild_errors")
		return 0, err
	}

	s.metrics.Increment("rebuilds")
	s.metrics.Record(observability.MetricRebuildItems, float64(count), nil)
	s.metrics.Record(observability.MetricRebuildMillis, float64(time.Since(start).Milliseconds()), nil)
	return count, nil
}

// Search answers a tokenized ranked query. A non-positive limit falls
// back to the configured max_results.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	store, cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = cfg.MaxResults
	}

	start := time.Now()
	results, err := store.Search(ctx, query, limit)
	if err != nil {
		s.metrics.Increment("search_errors")
		return nil, err
	}
	s.metrics.Increment("searches")
	s.metrics.Record(observability.MetricSearchMillis,
		float64(time.Since(start).Milliseconds()), observability.Labels{"mode": "tokenized"})
	s.metrics.Record(observability.MetricResults, float64(len(results)), nil)
	return results, nil
}

// RegexSearch answers a regular-expression query. A non-positive limit
// falls back to the configured max_results. An invalid pattern returns an
// *index.InvalidPatternError.
func (s *Searcher) RegexSearch(ctx context.Context, pattern string, limit int) ([]index.SearchResult, error) {
	store, cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = cfg.MaxResults
	}

	start := time.Now()
	results, err := store.RegexSearch(ctx, pattern, limit)
	if err != nil {
		s.metrics.Increment("search_errors")
		return nil, err
	}
	s.metrics.Increment("searches")
	s.metrics.Record(observability.MetricSearchMillis,
		float64(time.Since(start).Milliseconds()), observability.Labels{"mode": "regex"})
	s.metrics.Record(observability.MetricResults, float64(len(results)), nil)
	return results, nil
}

// IsIndexed reports whether the index holds at least one entry.
func (s *Searcher) IsIndexed(ctx context.Context) (bool, error) {
	store, _, err := s.snapshot()
	if err != nil {
		return false, err
	}
	return store.IsIndexed(ctx)
}

// Stats returns the index statistics.
func (s *Searcher) Stats(ctx context.Context) (index.Stats, error) {
	store, _, err := s.snapshot()
	if err != nil {
		return index.Stats{}, err
	}
	return store.GetStats(ctx)
}

// Config returns the configuration loaded at construction or by the last
// RefreshConfig.
func (s *Searcher) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Metrics exposes the in-memory metrics collector.
func (s *Searcher) Metrics() *observability.MetricsCollector {
	return s.metrics
}

// Close releases the index connection and the location registration.
// Closing twice is a no-op.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	location := s.store.Location()
	err := s.store.Close()
	releaseLocation(location)
	if err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}
