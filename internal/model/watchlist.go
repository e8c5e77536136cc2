package model

import "math"

// WatchRecord is one instrument's persisted watchlist state: identity,
// descriptive fields, and the derived indicator snapshot written by the
// last refresh cycle. Derived fields are owned exclusively by refresh;
// every other component reads them as-is.
type WatchRecord struct {
	Group          string  `json:"group"`
	StockName      string  `json:"stock_name"`
	TradingSymbol  string  `json:"trading_symbol"`
	InstrumentKey  string  `json:"instrument_key"`
	CP             float64 `json:"cp"`
	Open           float64 `json:"open"`
	EMA5           float64 `json:"ema5"`
	EMA10          float64 `json:"ema10"`
	EMA20          float64 `json:"ema20"`
	ATH            float64 `json:"ath"`
	L5Open         float64 `json:"l5_open"`
	PrevChangePct  float64 `json:"prev_change_pct"`
	TodayChangePct float64 `json:"today_change_pct"`
	LastUpdated    string  `json:"last_updated"`
}

// Sanitize coerces any non-finite derived value to 0 so the record can
// always be serialized to JSON.
func (r *WatchRecord) Sanitize() {
	r.CP = SanitizeFloat(r.CP)
	r.Open = SanitizeFloat(r.Open)
	r.EMA5 = SanitizeFloat(r.EMA5)
	r.EMA10 = SanitizeFloat(r.EMA10)
	r.EMA20 = SanitizeFloat(r.EMA20)
	r.ATH = SanitizeFloat(r.ATH)
	r.L5Open = SanitizeFloat(r.L5Open)
	r.PrevChangePct = SanitizeFloat(r.PrevChangePct)
	r.TodayChangePct = SanitizeFloat(r.TodayChangePct)
}

// SanitizeFloat maps NaN and ±Inf to 0.0. Downstream JSON consumers
// cannot represent non-finite floats, so every output boundary applies
// this before encoding.
func SanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}

// SanitizeFloats sanitizes a slice in place and returns it.
func SanitizeFloats(vs []float64) []float64 {
	for i, v := range vs {
		vs[i] = SanitizeFloat(v)
	}
	return vs
}
