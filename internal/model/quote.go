package model

import "time"

// OHLC is one session's open/high/low/close block inside a live quote.
// TS is the provider's session timestamp in epoch milliseconds (UTC).
type OHLC struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	TS     int64   `json:"ts"`
}

// Quote is a live snapshot for the current (possibly still-forming)
// session, plus the previous completed session.
type Quote struct {
	LastPrice float64 `json:"last_price"`
	LiveOHLC  OHLC    `json:"live_ohlc"`
	PrevOHLC  OHLC    `json:"prev_ohlc"`
}

// IsZero reports whether the quote carries no usable price at all.
func (q *Quote) IsZero() bool {
	return q.LastPrice == 0 && q.LiveOHLC == (OHLC{}) && q.PrevOHLC == (OHLC{})
}

// LiveClose returns the best available live close: the live session close
// when present, else the last traded price.
func (q *Quote) LiveClose() float64 {
	if q.LiveOHLC.Close > 0 {
		return q.LiveOHLC.Close
	}
	return q.LastPrice
}

// SessionDate returns the calendar date (YYYY-MM-DD) the live quote
// belongs to in the given exchange timezone. The provider timestamp, when
// present, is authoritative; otherwise the caller's wall clock is used.
// The timezone offset is part of the provider contract: quote timestamps
// are exchange-local once shifted into loc.
func (q *Quote) SessionDate(now time.Time, loc *time.Location) string {
	if q.LiveOHLC.TS > 0 {
		return time.UnixMilli(q.LiveOHLC.TS).In(loc).Format("2006-01-02")
	}
	return now.In(loc).Format("2006-01-02")
}
