// Package screener filters the refreshed watchlist on stored indicator
// fields and annotates each surviving record with a trend signal and
// its distance from the all-time high.
package screener

import (
	"strings"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// Trend signal labels.
const (
	SignalBullish = "Bullish"
	SignalBearish = "Bearish"
	SignalNeutral = "Neutral"
)

// Filter is one screening request. Nil pointer fields and empty strings
// mean "not constrained"; a false bool likewise.
type Filter struct {
	Group        string
	CPGtEMA10    bool
	EMA10GtEMA20 bool

	// NearATHPct keeps records whose price sits within this percent
	// below the ATH. CPGtATHPct keeps records whose price exceeds this
	// percent of the ATH.
	NearATHPct *float64
	CPGtATHPct *float64

	MinCP *float64
	MaxCP *float64

	// EMAComparison is one of ema5_gt_ema10, ema10_gt_ema20,
	// ema5_gt_ema20 or the _lt_ variants. Anything else matches no
	// record.
	EMAComparison string

	// Change-percent constraints. When both bounds of a pair are set
	// they form an inclusive range, swapped into order if reversed.
	PrevChangeGt  *float64
	PrevChangeLt  *float64
	TodayChangeGt *float64
	TodayChangeLt *float64
}

// Row is a watchlist record that passed the filter, with the derived
// annotations.
type Row struct {
	model.WatchRecord
	Signal         string  `json:"signal"`
	ATHDistancePct float64 `json:"ath_distance_pct"`
}

// Apply filters records and annotates the survivors. The second return
// is the unfiltered total.
func Apply(records []model.WatchRecord, f Filter) ([]Row, int) {
	out := make([]Row, 0, len(records))
	for _, r := range records {
		if !f.matches(r) {
			continue
		}
		out = append(out, annotate(r))
	}
	return out, len(records)
}

func (f Filter) matches(r model.WatchRecord) bool {
	if f.Group != "" && !strings.EqualFold(r.Group, f.Group) {
		return false
	}
	if f.CPGtEMA10 && r.CP <= r.EMA10 {
		return false
	}
	if f.EMA10GtEMA20 && r.EMA10 <= r.EMA20 {
		return false
	}
	if f.NearATHPct != nil && !nearATH(r, *f.NearATHPct) {
		return false
	}
	if f.MinCP != nil && r.CP < *f.MinCP {
		return false
	}
	if f.MaxCP != nil && r.CP > *f.MaxCP {
		return false
	}
	if f.CPGtATHPct != nil && !aboveATHFraction(r, *f.CPGtATHPct) {
		return false
	}
	if f.EMAComparison != "" && !emaComparison(r, f.EMAComparison) {
		return false
	}
	if !inBand(r.PrevChangePct, f.PrevChangeGt, f.PrevChangeLt) {
		return false
	}
	if !inBand(r.TodayChangePct, f.TodayChangeGt, f.TodayChangeLt) {
		return false
	}
	return true
}

// nearATH reports whether the price is within pct percent below the
// ATH. Records without a positive price and ATH never match.
func nearATH(r model.WatchRecord, pct float64) bool {
	if r.ATH <= 0 || r.CP <= 0 {
		return false
	}
	return (r.ATH-r.CP)/r.ATH*100 <= pct
}

// aboveATHFraction reports whether the price exceeds pct percent of the
// ATH (90 keeps records trading above 90% of their high).
func aboveATHFraction(r model.WatchRecord, pct float64) bool {
	if r.ATH <= 0 || r.CP <= 0 {
		return false
	}
	return r.CP/r.ATH*100 > pct
}

func emaComparison(r model.WatchRecord, comparison string) bool {
	switch comparison {
	case "ema5_gt_ema10":
		return r.EMA5 > r.EMA10
	case "ema10_gt_ema20":
		return r.EMA10 > r.EMA20
	case "ema5_gt_ema20":
		return r.EMA5 > r.EMA20
	case "ema5_lt_ema10":
		return r.EMA5 < r.EMA10
	case "ema10_lt_ema20":
		return r.EMA10 < r.EMA20
	case "ema5_lt_ema20":
		return r.EMA5 < r.EMA20
	}
	return false
}

func inBand(v float64, gt, lt *float64) bool {
	switch {
	case gt != nil && lt != nil:
		lo, hi := *gt, *lt
		if lo > hi {
			lo, hi = hi, lo
		}
		return v >= lo && v <= hi
	case lt != nil:
		return v <= *lt
	case gt != nil:
		return v >= *gt
	}
	return true
}

func annotate(r model.WatchRecord) Row {
	row := Row{WatchRecord: r, Signal: SignalNeutral}
	switch {
	case r.CP > r.EMA10 && r.EMA10 > r.EMA20:
		row.Signal = SignalBullish
	case r.CP < r.EMA10 && r.EMA10 < r.EMA20:
		row.Signal = SignalBearish
	}
	if r.ATH > 0 {
		row.ATHDistancePct = model.Round2((r.CP - r.ATH) / r.ATH * 100)
	}
	return row
}
