// Package country models the records served by the REST Countries v3.1 API.
package country

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	apperrors "country-stats/internal/errors"
)

// NoCurrency is reported for countries the API lists without a currencies field (Antarctica, for one).
const NoCurrency = "No currency used"

// NameField selects which variant of a country's name is searched and displayed.
type NameField string

const (
	Common   NameField = "common"
	Official NameField = "official"
)

// ParseNameField accepts "common" or "official" in any case.
func ParseNameField(s string) (NameField, error) {
	switch NameField(strings.ToLower(strings.TrimSpace(s))) {
	case Common:
		return Common, nil
	case Official:
		return Official, nil
	default:
		return "", apperrors.New(apperrors.ErrTypeSearch, fmt.Sprintf("name field %q", s), apperrors.ErrInvalidNameField)
	}
}

func (f NameField) String() string {
	return string(f)
}

// Name holds the naming variants of a country.
type Name struct {
	Common     string                `json:"common"`
	Official   string                `json:"official"`
	NativeName map[string]NativeName `json:"nativeName,omitempty"`
}

type NativeName struct {
	Common   string `json:"common"`
	Official string `json:"official"`
}

type Currency struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol,omitempty"`
}

// Country is one element of the upstream dataset. Only the fields the
// reports use are decoded.
type Country struct {
	Name       Name                `json:"name"`
	CCA3       string              `json:"cca3,omitempty"`
	Population int64               `json:"population"`
	Region     string              `json:"region"`
	Subregion  string              `json:"subregion,omitempty"`
	Capital    []string            `json:"capital,omitempty"`
	Flag       string              `json:"flag,omitempty"`
	Currencies map[string]Currency `json:"currencies,omitempty"`
}

// DisplayName returns the name variant selected by field.
func (c Country) DisplayName(field NameField) string {
	if field == Official {
		return c.Name.Official
	}
	return c.Name.Common
}

// CurrencyNames lists the names of the currencies in use, ordered by ISO code.
func (c Country) CurrencyNames() []string {
	if len(c.Currencies) == 0 {
		return []string{NoCurrency}
	}

	codes := make([]string, 0, len(c.Currencies))
	for code := range c.Currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	names := make([]string, 0, len(codes))
	for _, code := range codes {
		names = append(names, c.Currencies[code].Name)
	}
	return names
}

// Decode reads a JSON array of countries.
func Decode(r io.Reader) ([]Country, error) {
	var countries []Country
	if err := json.NewDecoder(r).Decode(&countries); err != nil {
		return nil, apperrors.New(apperrors.ErrTypeDecode, "failed to decode country list", err)
	}
	if countries == nil {
		return nil, apperrors.Newf(apperrors.ErrTypeDecode, "country list is null")
	}
	return countries, nil
}
