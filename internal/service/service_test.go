package service

import (
	"context"
	"testing"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"
	"country-stats/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	countries []country.Country
	err       error
}

func (s sliceSource) Countries(ctx context.Context) ([]country.Country, error) {
	return s.countries, s.err
}

func testCountries() []country.Country {
	return []country.Country{
		{Name: country.Name{Common: "Ireland", Official: "Republic of Ireland"}, Population: 4994724, Region: "Europe",
			Currencies: map[string]country.Currency{"EUR": {Name: "Euro"}}},
		{Name: country.Name{Common: "Iceland", Official: "Iceland"}, Population: 366425, Region: "Europe",
			Currencies: map[string]country.Currency{"ISK": {Name: "Icelandic króna"}}},
	}
}

func TestParseQuery(t *testing.T) {
	s := NewService(sliceSource{}, country.Official, metrics.New())

	q, err := s.ParseQuery("land", "")
	require.NoError(t, err)
	assert.Equal(t, stats.Query{Term: "land", Field: country.Official}, q)

	q, err = s.ParseQuery("land", "COMMON")
	require.NoError(t, err)
	assert.Equal(t, country.Common, q.Field)

	_, err = s.ParseQuery("land", "altSpellings")
	assert.ErrorIs(t, err, apperrors.ErrInvalidNameField)
}

func TestSearch(t *testing.T) {
	s := NewService(sliceSource{countries: testCountries()}, "", metrics.New())
	assert.Equal(t, country.Common, s.DefaultField())

	summary, err := s.Search(context.Background(), stats.Query{Term: "LAND", Field: country.Common})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, []stats.Count{{Label: "Europe", Count: 2}}, summary.Regions)

	_, err = s.Search(context.Background(), stats.Query{Term: "republic", Field: country.Common})
	assert.ErrorIs(t, err, apperrors.ErrNoMatches)
}

func TestSearchDatasetUnavailable(t *testing.T) {
	s := NewService(sliceSource{err: apperrors.ErrDatasetUnavailable}, country.Common, metrics.New())

	_, err := s.Search(context.Background(), stats.Query{Term: "a"})
	require.Error(t, err)
	assert.Equal(t, apperrors.DatasetAlert, apperrors.UserMessage(err))
}
