package service

import (
	"context"
	"time"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"
	"country-stats/internal/stats"

	log "github.com/sirupsen/logrus"
)

// CountrySource supplies the cached dataset
type CountrySource interface {
	Countries(ctx context.Context) ([]country.Country, error)
}

// Service runs searches against the dataset
type Service struct {
	source       CountrySource
	defaultField country.NameField
	metrics      *metrics.Metrics
}

func NewService(source CountrySource, defaultField country.NameField, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.GetMetrics()
	}
	if defaultField == "" {
		defaultField = country.Common
	}
	return &Service{
		source:       source,
		defaultField: defaultField,
		metrics:      m,
	}
}

// DefaultField is the name field used when a request does not pick one.
func (s *Service) DefaultField() country.NameField {
	return s.defaultField
}

// ParseQuery builds a query from raw request values. An empty field falls
// back to the default.
func (s *Service) ParseQuery(term, field string) (stats.Query, error) {
	q := stats.Query{Term: term, Field: s.defaultField}
	if field == "" {
		return q, nil
	}
	f, err := country.ParseNameField(field)
	if err != nil {
		return q, err
	}
	q.Field = f
	return q, nil
}

// Search filters and aggregates the dataset. It returns ErrNoMatches when
// the query matched nothing and an upstream error when the dataset could
// not be loaded.
func (s *Service) Search(ctx context.Context, q stats.Query) (*stats.Summary, error) {
	start := time.Now()
	entry := log.WithFields(log.Fields{"term": q.Term, "field": q.Field})

	countries, err := s.source.Countries(ctx)
	if err != nil {
		s.metrics.RecordSearch(metrics.OutcomeError)
		entry.WithError(err).Warn("Search failed, dataset unavailable")
		return nil, err
	}

	summary, err := stats.Summarize(countries, q)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoMatches) {
			s.metrics.RecordSearch(metrics.OutcomeEmpty)
			entry.Debug("Search matched no countries")
		} else {
			s.metrics.RecordSearch(metrics.OutcomeError)
		}
		return nil, err
	}

	s.metrics.RecordSearch(metrics.OutcomeMatch)
	entry.WithFields(log.Fields{
		"matches":  summary.Total,
		"duration": time.Since(start),
	}).Debug("Search served")

	return summary, nil
}
