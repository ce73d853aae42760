// Package stats filters the country list and computes the figures shown in a report.
package stats

import (
	"strings"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
)

// Query describes one search. An empty Term matches every country.
type Query struct {
	Term  string            `json:"term"`
	Field country.NameField `json:"field"`
}

// Count is one row of a breakdown table.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountryRow is one row of the per-country table.
type CountryRow struct {
	Name       string   `json:"name"`
	Population int64    `json:"population"`
	Currencies []string `json:"currencies"`
}

// Summary holds everything a results view needs.
type Summary struct {
	Query             Query        `json:"query"`
	Total             int          `json:"total"`
	TotalPopulation   int64        `json:"total_population"`
	AveragePopulation int64        `json:"average_population"`
	Countries         []CountryRow `json:"countries"`
	Regions           []Count      `json:"regions"`
	Currencies        []Count      `json:"currencies"`
}

// Filter keeps the countries whose selected name contains the term,
// ignoring case. Input order is preserved.
func Filter(countries []country.Country, q Query) []country.Country {
	term := strings.ToLower(q.Term)
	matched := make([]country.Country, 0, len(countries))
	for _, c := range countries {
		if strings.Contains(strings.ToLower(c.DisplayName(q.Field)), term) {
			matched = append(matched, c)
		}
	}
	return matched
}

func SumPopulation(countries []country.Country) int64 {
	var total int64
	for _, c := range countries {
		total += c.Population
	}
	return total
}

// GroupCount counts countries per key in first-seen order. keyFn may
// return several keys for one country; each is counted once.
func GroupCount(countries []country.Country, keyFn func(country.Country) []string) []Count {
	index := make(map[string]int)
	counts := make([]Count, 0)

	for _, c := range countries {
		for _, key := range keyFn(c) {
			if i, ok := index[key]; ok {
				counts[i].Count++
				continue
			}
			index[key] = len(counts)
			counts = append(counts, Count{Label: key, Count: 1})
		}
	}
	return counts
}

func byRegion(c country.Country) []string {
	return []string{c.Region}
}

func byCurrency(c country.Country) []string {
	return c.CurrencyNames()
}

// Summarize filters countries by q and aggregates the matches.
// It returns ErrNoMatches when nothing matched.
func Summarize(countries []country.Country, q Query) (*Summary, error) {
	if q.Field == "" {
		q.Field = country.Common
	}

	matched := Filter(countries, q)
	if len(matched) == 0 {
		return nil, apperrors.ErrNoMatches
	}

	total := SumPopulation(matched)
	rows := make([]CountryRow, 0, len(matched))
	for _, c := range matched {
		rows = append(rows, CountryRow{
			Name:       c.DisplayName(q.Field),
			Population: c.Population,
			Currencies: c.CurrencyNames(),
		})
	}

	return &Summary{
		Query:             q,
		Total:             len(matched),
		TotalPopulation:   total,
		AveragePopulation: total / int64(len(matched)),
		Countries:         rows,
		Regions:           GroupCount(matched, byRegion),
		Currencies:        GroupCount(matched, byCurrency),
	}, nil
}
