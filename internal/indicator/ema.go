package indicator

import "math"

// EMA computes the exponential moving average of a chronological
// (oldest-first) close-price series, returning the value for the most
// recent element rounded to 2 decimal places.
//
// The average is seeded with the SMA of the first `period` elements and
// then smoothed forward with multiplier k = 2/(period+1). This SMA
// warm-start has to be preserved exactly: a plain recursive EMA from the
// first sample converges to a different value over short windows.
//
// Fewer than `period` prices yields 0.0. Callers treat that as
// "insufficient history", not as an error.
func EMA(prices []float64, period int) float64 {
	if period < 1 || len(prices) < period {
		return 0.0
	}

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return round2(ema)
}

// EMASeries computes the full EMA series for a chronological close-price
// sequence: the SMA seed repeated for the first `period` positions, then
// the smoothed value for each later position, so the output length equals
// the input length. Every element is rounded to 2 decimal places.
//
// Fewer than `period` prices yields an empty slice.
func EMASeries(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return nil
	}

	out := make([]float64, 0, len(prices))

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	seed := sum / float64(period)
	for i := 0; i < period; i++ {
		out = append(out, round2(seed))
	}

	k := 2.0 / float64(period+1)
	ema := seed
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
		out = append(out, round2(ema))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
