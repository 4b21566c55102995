package currency

// Conversions allows to get a conversion rate between two currencies.
// If one of the currency strings is not a currency or if there is no conversion
// between those currencies, then an err is returned and rate is 0.
type Conversions interface {
	GetRate(from string, to string) (float64, error)
	GetRates() *map[string]map[string]float64
}
