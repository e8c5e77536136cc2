package model

import "math"

// Candle represents one trading session's OHLCV summary for a single
// instrument. Prices are in rupees as returned by the provider.
type Candle struct {
	Date   string  `json:"date"` // ISO timestamp string from the provider
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Day returns the calendar-date prefix (YYYY-MM-DD) of the candle date.
// Provider dates are ISO-8601, so lexicographic comparison of Day values
// matches chronological comparison.
func (c *Candle) Day() string {
	if len(c.Date) >= 10 {
		return c.Date[:10]
	}
	return c.Date
}

// ChangePct returns the open→close percent change of the session,
// or 0 when the open is not a valid positive price.
func (c *Candle) ChangePct() float64 {
	return PctChange(c.Open, c.Close)
}

// PctChange computes the percent change from open to close.
// A non-positive open yields 0 rather than a division blow-up.
func PctChange(open, close float64) float64 {
	if open <= 0 {
		return 0
	}
	return (close - open) / open * 100
}

// Round2 rounds to two decimal places, matching how derived fields are
// persisted and served.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
