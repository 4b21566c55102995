package currency

import (
	"errors"

	"golang.org/x/text/currency"
)

// Rates holds a conversion table keyed by origin currency, matching the shape
// of publicly published currency data files.
type Rates struct {
	Conversions map[string]map[string]float64 `json:"conversions"`
}

func NewRates(conversions map[string]map[string]float64) *Rates {
	return &Rates{
		Conversions: conversions,
	}
}

// FindIntermediateConversionRate derives a rate through any origin currency
// that quotes both sides, or returns a ConversionNotFoundError.
func FindIntermediateConversionRate(r *Rates, from, to currency.Unit) (float64, error) {
	for _, conversions := range r.Conversions {
		toRate, hasToRate := conversions[to.String()]
		fromRate, hasFromRate := conversions[from.String()]

		if hasToRate && hasFromRate {
			return toRate / fromRate, nil
		}
	}

	return 0, ConversionNotFoundError{FromCur: from.String(), ToCur: to.String()}
}

// GetRate returns the conversion rate between two recognized ISO 4217 codes.
// Resolution order: identity, direct entry, reciprocal of the reverse entry,
// then a rate derived through an intermediate currency. A missing rate is a
// ConversionNotFoundError; malformed or unrecognized codes error out first.
func (r *Rates) GetRate(from, to string) (float64, error) {
	fromUnit, err := currency.ParseISO(from)
	if err != nil {
		return 0, err
	}
	toUnit, err := currency.ParseISO(to)
	if err != nil {
		return 0, err
	}
	if fromUnit.String() == toUnit.String() {
		return 1, nil
	}
	if r.Conversions == nil {
		return 0, errors.New("rates are nil")
	}

	if conversion, present := r.Conversions[fromUnit.String()][toUnit.String()]; present {
		return conversion, nil
	}
	if conversion, present := r.Conversions[toUnit.String()][fromUnit.String()]; present {
		return 1 / conversion, nil
	}
	return FindIntermediateConversionRate(r, fromUnit, toUnit)
}

// GetRates returns the underlying conversion table.
func (r *Rates) GetRates() *map[string]map[string]float64 {
	return &r.Conversions
}
