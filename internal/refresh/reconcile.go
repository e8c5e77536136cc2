// Package refresh reconciles historical candles with live quotes into
// the derived watchlist fields (EMAs, ATH, breakout reference, change
// percentages) and orchestrates the paced concurrent refresh of the
// whole watchlist.
package refresh

import (
	"errors"
	"time"

	"github.com/anuraggoyal1/stock-screener/internal/indicator"
	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

const (
	// Close-price window used for indicator computation.
	sessionWindow = 100

	// Calendar days fetched to guarantee >= sessionWindow trading
	// sessions after weekends and holidays.
	fetchWindowDays = 160

	// Long-horizon ATH seed, in years of monthly candles.
	athYears = 10
)

// ErrNoCandles marks an instrument whose historical fetch came back
// empty; the stored record is left untouched.
var ErrNoCandles = errors.New("no candle data for instrument")

// Band is the inclusive open→close percent-change band a session must
// fall in to contribute its open as the breakout reference price.
type Band struct {
	MinPct float64
	MaxPct float64
}

// DefaultBand matches the stock config shipped with the service.
var DefaultBand = Band{MinPct: 1.0, MaxPct: 5.0}

// Contains reports whether pct falls inside the inclusive band.
func (b Band) Contains(pct float64) bool {
	return pct >= b.MinPct && pct <= b.MaxPct
}

// Inputs carries everything one reconciliation needs. Reconcile itself
// performs no I/O; the orchestrator gathers these first.
type Inputs struct {
	// Candles is the raw historical window, provider order (ascending
	// or descending, detected per batch).
	Candles []model.Candle

	// Quote is the live snapshot; the zero value means no quote.
	Quote model.Quote

	// Stored is the instrument's current record, source of the ATH
	// floor and the fallback values for cp, open and l5_open.
	Stored model.WatchRecord

	// MonthlyHigh is the long-horizon monthly-candle high; zero or
	// negative means the fetch failed and the window-high fallback
	// applies.
	MonthlyHigh float64

	// Now anchors the session date when the quote has no timestamp.
	Now time.Time

	Band Band
}

// Snapshot is the derived state for one instrument after one
// reconciliation. All floats are sanitized.
type Snapshot struct {
	CP             float64
	Open           float64
	EMA5           float64
	EMA10          float64
	EMA20          float64
	ATH            float64
	L5Open         float64
	PrevChangePct  float64
	TodayChangePct float64
}

// Apply copies the snapshot onto a watchlist record.
func (s Snapshot) Apply(rec *model.WatchRecord, updatedAt string) {
	rec.CP = s.CP
	rec.Open = s.Open
	rec.EMA5 = s.EMA5
	rec.EMA10 = s.EMA10
	rec.EMA20 = s.EMA20
	rec.ATH = s.ATH
	rec.L5Open = s.L5Open
	rec.PrevChangePct = s.PrevChangePct
	rec.TodayChangePct = s.TodayChangePct
	rec.LastUpdated = updatedAt
	rec.Sanitize()
}

// reconcileMode is the three-way outcome of comparing the quote's
// session date with the last historical candle.
type reconcileMode int

const (
	modeNone    reconcileMode = iota // no usable quote
	modeAppend                       // quote is a new session, append
	modeReplace                      // quote supersedes the forming candle
	modeIgnore                       // quote is stale, history wins
)

// NormalizeChronological returns the candles in ascending date order.
// Provider batches arrive either ascending or descending; the direction
// is detected by comparing the first and last dates. Already-ascending
// input comes back unchanged.
func NormalizeChronological(candles []model.Candle) []model.Candle {
	if len(candles) < 2 {
		return candles
	}
	if candles[0].Day() <= candles[len(candles)-1].Day() {
		return candles
	}
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		out[len(candles)-1-i] = c
	}
	return out
}

// Reconcile folds one instrument's candle window and live quote into a
// Snapshot. Empty candle input is ErrNoCandles.
func Reconcile(in Inputs) (Snapshot, error) {
	candles := NormalizeChronological(in.Candles)
	if len(candles) > sessionWindow {
		candles = candles[len(candles)-sessionWindow:]
	}
	if len(candles) == 0 {
		return Snapshot{}, ErrNoCandles
	}

	hasQuote := !in.Quote.IsZero()
	liveClose := in.Quote.LiveClose()
	lastDay := candles[len(candles)-1].Day()

	mode := modeNone
	if hasQuote && liveClose > 0 {
		quoteDay := in.Quote.SessionDate(in.Now, markethours.IST)
		switch {
		case quoteDay > lastDay:
			mode = modeAppend
		case quoteDay == lastDay:
			mode = modeReplace
		default:
			mode = modeIgnore
		}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	switch mode {
	case modeAppend:
		closes = append(closes, liveClose)
	case modeReplace:
		closes[len(closes)-1] = liveClose
	}

	// The quote's last traded price is the current price whenever the
	// provider reports one, even if its session date was too old to
	// enter the series; otherwise the record keeps its previous value.
	cp := in.Stored.CP
	if liveClose > 0 {
		cp = liveClose
	}

	snap := Snapshot{
		CP:    cp,
		EMA5:  indicator.EMA(closes, 5),
		EMA10: indicator.EMA(closes, 10),
		EMA20: indicator.EMA(closes, 20),
	}

	snap.ATH = resolveATH(in.MonthlyHigh, in.Stored.ATH, candles)
	snap.Open = resolveOpen(in, mode, candles)
	snap.PrevChangePct = prevChangePct(candles, mode)
	snap.TodayChangePct = todayChangePct(in.Quote, hasQuote)
	snap.L5Open = l5Open(candles, in, mode, liveClose)

	snap.sanitize()
	return snap, nil
}

// resolveATH keeps the all-time high monotone: the long-horizon monthly
// high when available, otherwise the stored value floored by the
// current window's highs.
func resolveATH(monthlyHigh, storedATH float64, candles []model.Candle) float64 {
	if monthlyHigh > 0 {
		return max(monthlyHigh, storedATH)
	}
	windowHigh := 0.0
	for _, c := range candles {
		if c.High > windowHigh {
			windowHigh = c.High
		}
	}
	return max(storedATH, windowHigh)
}

// resolveOpen picks the live session open when the quote carries one,
// the forming candle's open when the quote replaces it, and the stored
// value otherwise.
func resolveOpen(in Inputs, mode reconcileMode, candles []model.Candle) float64 {
	if !in.Quote.IsZero() && in.Quote.LiveOHLC.Open > 0 {
		return in.Quote.LiveOHLC.Open
	}
	if mode == modeReplace {
		return candles[len(candles)-1].Open
	}
	return in.Stored.Open
}

// prevChangePct is the open→close change of the last fully completed
// session. When the live quote replaced the forming last candle, that
// is the candle before it; otherwise the last candle itself.
func prevChangePct(candles []model.Candle, mode reconcileMode) float64 {
	idx := len(candles) - 1
	if mode == modeReplace {
		idx--
	}
	if idx < 0 {
		return 0.0
	}
	c := candles[idx]
	return model.Round2(model.PctChange(c.Open, c.Close))
}

// todayChangePct comes from the live session's own open and close.
func todayChangePct(q model.Quote, hasQuote bool) float64 {
	if !hasQuote {
		return 0.0
	}
	return model.Round2(model.PctChange(q.LiveOHLC.Open, q.LiveClose()))
}

type session struct {
	open  float64
	close float64
}

// l5Open scans the five most recent sessions, newest first, and returns
// the open of the first one whose open→close change falls inside the
// band. The live session participates: appended as its own session when
// it is not yet in history, or overriding the forming candle's close
// when it is. No match keeps the stored value.
func l5Open(candles []model.Candle, in Inputs, mode reconcileMode, liveClose float64) float64 {
	sessions := make([]session, len(candles))
	for i, c := range candles {
		sessions[i] = session{open: c.Open, close: c.Close}
	}
	switch mode {
	case modeAppend:
		sessions = append(sessions, session{open: in.Quote.LiveOHLC.Open, close: liveClose})
	case modeReplace:
		sessions[len(sessions)-1].close = liveClose
	}

	lo := len(sessions) - 5
	if lo < 0 {
		lo = 0
	}
	for i := len(sessions) - 1; i >= lo; i-- {
		pct := model.PctChange(sessions[i].open, sessions[i].close)
		if in.Band.Contains(pct) {
			return sessions[i].open
		}
	}
	return in.Stored.L5Open
}

func (s *Snapshot) sanitize() {
	s.CP = model.SanitizeFloat(s.CP)
	s.Open = model.SanitizeFloat(s.Open)
	s.EMA5 = model.SanitizeFloat(s.EMA5)
	s.EMA10 = model.SanitizeFloat(s.EMA10)
	s.EMA20 = model.SanitizeFloat(s.EMA20)
	s.ATH = model.SanitizeFloat(s.ATH)
	s.L5Open = model.SanitizeFloat(s.L5Open)
	s.PrevChangePct = model.SanitizeFloat(s.PrevChangePct)
	s.TodayChangePct = model.SanitizeFloat(s.TodayChangePct)
}
