// Package dataset keeps the country list in memory once it has been fetched.
package dataset

import (
	"context"
	"sync"
	"time"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/logging"
	"country-stats/internal/metrics"

	"github.com/DmitriyVTitov/size"
	"github.com/samber/hot"
	log "github.com/sirupsen/logrus"
)

const datasetKey = "countries"

// Fetcher retrieves the full dataset.
type Fetcher interface {
	Fetch(ctx context.Context) ([]country.Country, error)
}

// Status describes the last load of the dataset.
type Status struct {
	Loaded      bool      `json:"loaded"`
	Count       int       `json:"count"`
	SizeBytes   int       `json:"size_bytes"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
	Loads       int64     `json:"loads"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Store caches the dataset under a single key. With a zero TTL the first
// successful fetch is kept for the life of the process; failed fetches are
// never cached.
type Store struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher Fetcher
	cache   *hot.HotCache[string, []country.Country]
	metrics *metrics.Metrics
	ttl     time.Duration

	mu     sync.RWMutex
	status Status
}

// NewStore creates a store. ctx bounds every fetch the store starts.
func NewStore(ctx context.Context, fetcher Fetcher, ttl time.Duration, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.GetMetrics()
	}

	s := &Store{
		fetcher: fetcher,
		metrics: m,
		ttl:     ttl,
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	builder := hot.NewHotCache[string, []country.Country](hot.LRU, 1).
		WithLoaders(s.load).
		WithPrometheusMetrics("countries")
	if ttl > 0 {
		builder = builder.WithTTL(ttl).WithJanitor()
	}
	s.cache = builder.Build()

	if err := m.Register(s.cache); err != nil {
		log.Warnf("Failed to register dataset cache metrics: %v", err)
	}

	return s
}

// load is the hot loader. Concurrent misses share a single call.
func (s *Store) load(keys []string) (map[string][]country.Country, error) {
	countries, err := s.fetcher.Fetch(s.ctx)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	s.recordLoad(countries)

	found := make(map[string][]country.Country, len(keys))
	for _, key := range keys {
		found[key] = countries
	}
	return found, nil
}

// recordLoad marks a successful fetch. An earlier failure no longer applies.
func (s *Store) recordLoad(countries []country.Country) {
	bytes := size.Of(countries)

	s.mu.Lock()
	s.status.Loaded = true
	s.status.Count = len(countries)
	s.status.SizeBytes = bytes
	s.status.LoadedAt = time.Now()
	s.status.Loads++
	s.status.LastError = ""
	s.status.LastErrorAt = time.Time{}
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"countries": len(countries),
		"bytes":     bytes,
		"ttl":       s.ttl,
	}).Info("Country dataset cached")
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.LastErrorAt = time.Now()

	// The failure is returned to every caller; log it once per window.
	logging.LogOncePerDuration(log.WarnLevel, "Country dataset fetch failed: "+err.Error())
}

// Countries returns the cached dataset, fetching it on a miss.
func (s *Store) Countries(ctx context.Context) ([]country.Country, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	countries, found, err := s.cache.Get(datasetKey)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrTypeUpstream, apperrors.ErrDatasetUnavailable.Error(), err)
	}
	if !found {
		return nil, apperrors.ErrDatasetUnavailable
	}
	return countries, nil
}

// Warm fetches the dataset ahead of the first search. Failure is logged,
// not returned; the next search tries again.
func (s *Store) Warm(ctx context.Context) {
	if _, err := s.Countries(ctx); err != nil {
		log.WithError(err).Error("Initial country dataset load failed")
	}
}

// Refresh fetches the dataset and replaces the cached copy. When the fetch
// fails the previous copy, if any, keeps serving searches.
func (s *Store) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	countries, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.recordError(err)
		return apperrors.New(apperrors.ErrTypeUpstream, apperrors.ErrDatasetUnavailable.Error(), err)
	}

	s.cache.Set(datasetKey, countries)
	s.recordLoad(countries)
	return nil
}

// Status returns a copy of the load status
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.Loaded && s.ttl > 0 && !s.cache.Has(datasetKey) {
		st.Loaded = false
	}
	return st
}

// Close stops background work and unregisters metrics.
func (s *Store) Close() {
	s.cancel()
	if s.ttl > 0 {
		s.cache.StopJanitor()
	}
	s.metrics.Unregister(s.cache)
}
