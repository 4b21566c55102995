package currency

import (
	"golang.org/x/text/currency"
)

// ConstantRates converts nothing: only same-currency lookups succeed, with a
// rate of 1. It is the Conversions implementation to inject when no rate
// source is available but currency codes should still be validated.
type ConstantRates struct{}

func NewConstantRates() *ConstantRates {
	return &ConstantRates{}
}

// GetRate returns 1 when from and to are the same recognized ISO 4217 code and
// a ConversionNotFoundError otherwise.
func (r *ConstantRates) GetRate(from string, to string) (float64, error) {
	fromUnit, err := currency.ParseISO(from)
	if err != nil {
		return 0, err
	}
	toUnit, err := currency.ParseISO(to)
	if err != nil {
		return 0, err
	}

	if fromUnit.String() != toUnit.String() {
		return 0, ConversionNotFoundError{FromCur: fromUnit.String(), ToCur: toUnit.String()}
	}
	return 1, nil
}

// GetRates returns nil, there is no underlying table.
func (r *ConstantRates) GetRates() *map[string]map[string]float64 {
	return nil
}
