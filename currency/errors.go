package currency

import "fmt"

// ConversionNotFoundError is returned by Conversions.GetRate when neither the
// requested conversion nor its reciprocal is known. Callers distinguish it
// from malformed-currency errors to decide whether a fallback rate source may
// still be consulted.
type ConversionNotFoundError struct {
	FromCur, ToCur string
}

func (err ConversionNotFoundError) Error() string {
	return fmt.Sprintf("no conversion rate found from '%s' to '%s'", err.FromCur, err.ToCur)
}
