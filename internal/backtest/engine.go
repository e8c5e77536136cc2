// Package backtest runs the trend-persistence study over one
// instrument's full daily history: segment the series into strong-trend
// periods, find intraday breakout setups inside them, and measure how
// quickly each setup's gain is given back.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/anuraggoyal1/stock-screener/internal/indicator"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

const (
	// Forward sessions scanned for a reversal after each setup.
	lookAhead = 5

	// Historical fetches are split into chunks of this many calendar
	// days to stay inside provider range limits.
	chunkDays = 3650

	// A session is in-trend while its close holds above this fraction
	// of the running all-time high.
	athFraction = 0.8
)

// Request defaults, applied when the caller passes zero values.
const (
	DefaultYears       = 20
	DefaultUpCandlePct = 1.0
)

// ErrNoHistory is returned when no historical data at all came back for
// the requested instrument. Distinct from a clean run with zero setups.
var ErrNoHistory = errors.New("no historical data for instrument")

// Period is one maximal run of in-trend sessions and its setup
// outcomes. DayCounts is keyed by forward offset 1..5.
type Period struct {
	Start     string      `json:"start"`
	End       string      `json:"end"`
	Setups    int         `json:"setups"`
	DayCounts map[int]int `json:"day_counts"`
}

// Report is the outcome of one backtest run.
type Report struct {
	Sessions       int         `json:"sessions"`
	TotalSetups    int         `json:"total_setups"`
	OverallSuccess map[int]int `json:"overall_success"`
	Periods        []Period    `json:"periods"`
}

// Engine fetches instrument history and evaluates it.
type Engine struct {
	data model.MarketData
	now  func() time.Time
}

func New(data model.MarketData) *Engine {
	return &Engine{data: data, now: time.Now}
}

// Run assembles up to `years` of daily history for the instrument and
// evaluates it. Zero years and a zero threshold take the defaults.
func (e *Engine) Run(ctx context.Context, instrumentKey string, years int, upCandlePct float64) (Report, error) {
	if years <= 0 {
		years = DefaultYears
	}
	if upCandlePct == 0 {
		upCandlePct = DefaultUpCandlePct
	}
	candles, err := e.history(ctx, instrumentKey, years)
	if err != nil {
		return Report{}, err
	}
	slog.Info("backtest evaluating", "instrument", instrumentKey, "sessions", len(candles), "up_candle_pct", upCandlePct)
	return Evaluate(candles, upCandlePct), nil
}

// history fetches daily candles newest chunk first, stopping at the
// first empty or failed chunk (history exhausted), then deduplicates by
// session date and sorts ascending. On boundary overlaps the newer
// chunk's candle wins.
func (e *Engine) history(ctx context.Context, instrumentKey string, years int) ([]model.Candle, error) {
	totalDays := years * 365
	now := e.now()

	var all []model.Candle
	seen := make(map[string]bool)
	for i := 0; ; i++ {
		days := totalDays - i*chunkDays
		if days <= 0 {
			break
		}
		if days > chunkDays {
			days = chunkDays
		}
		end := now.AddDate(0, 0, -i*chunkDays)
		start := end.AddDate(0, 0, -days)
		chunk, err := e.data.Candles(ctx, instrumentKey, "days", "1", start, end)
		if err != nil {
			slog.Warn("history chunk failed", "instrument", instrumentKey, "from", start.Format("2006-01-02"), "error", err)
			break
		}
		if len(chunk) == 0 {
			break
		}
		for _, c := range chunk {
			day := c.Day()
			if seen[day] {
				continue
			}
			seen[day] = true
			all = append(all, c)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, instrumentKey)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Day() < all[j].Day() })
	return all, nil
}

// Evaluate runs the study over one chronological series.
//
// A session is in-trend when its close exceeds 80% of the running
// all-time high and EMA5 exceeds EMA10 at that index. Maximal in-trend
// runs become Periods. Inside a Period, any session whose open→close
// change is at least upCandlePct is a setup, excluding the final five
// sessions of the whole history which lack forward room. Each setup
// credits at most one forward offset: the first of the next five
// sessions to close below the setup's open.
func Evaluate(candles []model.Candle, upCandlePct float64) Report {
	n := len(candles)
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}

	// Series shorter than a period evaluate as all zeros rather than
	// dropping the session alignment.
	ema5s := padLeading(indicator.EMASeries(closes, 5), n)
	ema10s := padLeading(indicator.EMASeries(closes, 10), n)

	athSeries := make([]float64, n)
	runATH := 0.0
	for i, c := range candles {
		if c.High > runATH {
			runATH = c.High
		}
		athSeries[i] = runATH
	}

	report := Report{
		Sessions:       n,
		OverallSuccess: zeroCounts(),
		Periods:        []Period{},
	}
	inTrend := func(i int) bool {
		return closes[i] > athFraction*athSeries[i] && ema5s[i] > ema10s[i]
	}

	for i := 0; i < n; {
		if !inTrend(i) {
			i++
			continue
		}
		j := i + 1
		for j < n && inTrend(j) {
			j++
		}
		report.Periods = append(report.Periods, scanPeriod(candles, i, j, upCandlePct, &report))
		i = j
	}
	return report
}

// scanPeriod counts setups in candles[start:end) and credits, per
// setup, the first forward offset whose close undercuts the setup open.
func scanPeriod(candles []model.Candle, start, end int, upCandlePct float64, report *Report) Period {
	n := len(candles)
	p := Period{
		Start:     candles[start].Day(),
		End:       candles[end-1].Day(),
		DayCounts: zeroCounts(),
	}
	for idx := start; idx < end; idx++ {
		if idx >= n-lookAhead {
			continue
		}
		c := candles[idx]
		if c.Open <= 0 {
			continue
		}
		if model.PctChange(c.Open, c.Close) < upCandlePct {
			continue
		}
		p.Setups++
		report.TotalSetups++
		for off := 1; off <= lookAhead; off++ {
			if candles[idx+off].Close < c.Open {
				p.DayCounts[off]++
				report.OverallSuccess[off]++
				break
			}
		}
	}
	return p
}

func zeroCounts() map[int]int {
	return map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
}

// padLeading left-pads the series with zeros up to length n, so an
// empty series (insufficient history) compares as zero at every index.
func padLeading(series []float64, n int) []float64 {
	if len(series) >= n {
		return series
	}
	out := make([]float64, n)
	copy(out[n-len(series):], series)
	return out
}
