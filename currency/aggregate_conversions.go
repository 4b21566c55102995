package currency

// AggregateConversions contains both the host-provided conversion rates and the
// publisher's custom rates. Could be extended to support more rate sources in
// the future.
type AggregateConversions struct {
	customRates, serverRates Conversions
}

// NewAggregateConversions expects both customRates and hostRates to not be nil
func NewAggregateConversions(customRates, hostRates Conversions) *AggregateConversions {
	return &AggregateConversions{
		customRates: customRates,
		serverRates: hostRates,
	}
}

// GetRate returns the conversion rate between two currencies prioritizing
// the customRates currency rate over any host-provided rate
func (re *AggregateConversions) GetRate(from string, to string) (float64, error) {
	rate, err := re.customRates.GetRate(from, to)
	if err == nil {
		return rate, nil
	} else if _, isMissingRateErr := err.(ConversionNotFoundError); !isMissingRateErr {
		// other error, return the error
		return 0, err
	}

	// because the conversion rate was not found in the custom rates, use the host rates
	return re.serverRates.GetRate(from, to)
}

// GetRates is not implemented for AggregateConversions. There is no need to call
// this function for this scenario.
func (re *AggregateConversions) GetRates() *map[string]map[string]float64 {
	return nil
}
