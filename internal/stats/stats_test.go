package stats

import (
	"testing"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(common, official, region string, pop int64, currencies map[string]string) country.Country {
	c := country.Country{
		Name:       country.Name{Common: common, Official: official},
		Region:     region,
		Population: pop,
	}
	if currencies != nil {
		c.Currencies = make(map[string]country.Currency, len(currencies))
		for code, name := range currencies {
			c.Currencies[code] = country.Currency{Name: name}
		}
	}
	return c
}

func fixtures() []country.Country {
	return []country.Country{
		mk("Cuba", "Republic of Cuba", "Americas", 11326616, map[string]string{"CUC": "Cuban convertible peso", "CUP": "Cuban peso"}),
		mk("Namibia", "Republic of Namibia", "Africa", 2540916, map[string]string{"NAD": "Namibian dollar", "ZAR": "South African rand"}),
		mk("South Africa", "Republic of South Africa", "Africa", 59308690, map[string]string{"ZAR": "South African rand"}),
		mk("Antarctica", "Antarctica", "Antarctic", 1000, nil),
		mk("France", "French Republic", "Europe", 67391582, map[string]string{"EUR": "Euro"}),
	}
}

func TestFilter(t *testing.T) {
	all := fixtures()

	got := Filter(all, Query{Term: "REPUBLIC", Field: country.Official})
	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name.Common)
	}
	assert.Equal(t, []string{"Cuba", "Namibia", "South Africa", "France"}, names)

	assert.Empty(t, Filter(all, Query{Term: "republic", Field: country.Common}))
	assert.Len(t, Filter(all, Query{Term: "", Field: country.Common}), len(all))
}

func TestGroupCountKeepsFirstSeenOrder(t *testing.T) {
	counts := GroupCount(fixtures(), byRegion)
	assert.Equal(t, []Count{
		{Label: "Americas", Count: 1},
		{Label: "Africa", Count: 2},
		{Label: "Antarctic", Count: 1},
		{Label: "Europe", Count: 1},
	}, counts)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(fixtures(), Query{Term: "a", Field: country.Common})
	require.NoError(t, err)

	// Every common name contains an "a".
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, int64(11326616+2540916+59308690+1000+67391582), s.TotalPopulation)
	assert.Equal(t, s.TotalPopulation/5, s.AveragePopulation)

	require.Len(t, s.Countries, 5)
	assert.Equal(t, CountryRow{
		Name:       "Cuba",
		Population: 11326616,
		Currencies: []string{"Cuban convertible peso", "Cuban peso"},
	}, s.Countries[0])
	assert.Equal(t, []string{country.NoCurrency}, s.Countries[3].Currencies)

	assert.Equal(t, []Count{
		{Label: "Cuban convertible peso", Count: 1},
		{Label: "Cuban peso", Count: 1},
		{Label: "Namibian dollar", Count: 1},
		{Label: "South African rand", Count: 2},
		{Label: country.NoCurrency, Count: 1},
		{Label: "Euro", Count: 1},
	}, s.Currencies)
}

func TestSummarizeUsesSelectedNameField(t *testing.T) {
	s, err := Summarize(fixtures(), Query{Term: "south", Field: country.Official})
	require.NoError(t, err)
	require.Equal(t, 1, s.Total)
	assert.Equal(t, "Republic of South Africa", s.Countries[0].Name)
	assert.Equal(t, []Count{{Label: "Africa", Count: 1}}, s.Regions)
}

func TestSummarizeAverageIsFloored(t *testing.T) {
	countries := []country.Country{
		mk("Aa", "Aa", "X", 1, nil),
		mk("Ab", "Ab", "X", 2, nil),
	}
	s, err := Summarize(countries, Query{Term: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.AveragePopulation)
	assert.Equal(t, country.Common, s.Query.Field)
}

func TestSummarizeNoMatches(t *testing.T) {
	_, err := Summarize(fixtures(), Query{Term: "atlantis", Field: country.Common})
	assert.ErrorIs(t, err, apperrors.ErrNoMatches)

	_, err = Summarize(nil, Query{})
	assert.ErrorIs(t, err, apperrors.ErrNoMatches)
}
