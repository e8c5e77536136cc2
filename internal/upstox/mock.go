package upstox

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// Mock data is deterministic per instrument key and trading day, so an
// unconfigured instance shows stable values across requests and the
// indicator pipeline can be exercised end to end.

func mockSeed(instrumentKey, day string) int64 {
	h := fnv.New64a()
	h.Write([]byte(instrumentKey))
	h.Write([]byte(day))
	return int64(h.Sum64())
}

func mockBasePrice(instrumentKey string) float64 {
	h := fnv.New64a()
	h.Write([]byte(instrumentKey))
	return 50 + float64(h.Sum64()%2000)
}

// mockCandles produces a random walk over the trading days (or month
// starts) in [from, to], newest first like the real endpoint.
func mockCandles(instrumentKey, unit string, from, to time.Time) []model.Candle {
	rng := rand.New(rand.NewSource(mockSeed(instrumentKey, unit)))
	price := mockBasePrice(instrumentKey)

	var out []model.Candle
	step := func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	if unit == "months" {
		from = time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, markethours.IST)
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	}

	for day := from; !day.After(to); day = step(day) {
		if unit != "months" && !markethours.IsTradingDay(day.In(markethours.IST)) {
			continue
		}
		change := (rng.Float64() - 0.48) * 0.04
		open := price
		close := open * (1 + change)
		high := max(open, close) * (1 + rng.Float64()*0.01)
		low := min(open, close) * (1 - rng.Float64()*0.01)

		out = append(out, model.Candle{
			Date:   day.In(markethours.IST).Format("2006-01-02T15:04:05-07:00"),
			Open:   model.Round2(open),
			High:   model.Round2(high),
			Low:    model.Round2(low),
			Close:  model.Round2(close),
			Volume: 100000 + rng.Int63n(900000),
		})
		price = close
	}

	// Newest first, matching provider order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// mockQuote fabricates a live session quote around the synthetic walk.
func mockQuote(instrumentKey string) model.Quote {
	now := markethours.Now()
	day := now.Format("2006-01-02")
	rng := rand.New(rand.NewSource(mockSeed(instrumentKey, day)))

	prevClose := mockBasePrice(instrumentKey) * (1 + (rng.Float64()-0.5)*0.1)
	open := prevClose * (1 + (rng.Float64()-0.5)*0.02)
	last := open * (1 + (rng.Float64()-0.48)*0.03)
	high := max(open, last) * (1 + rng.Float64()*0.005)
	low := min(open, last) * (1 - rng.Float64()*0.005)

	sessionStart := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, markethours.IST)
	return model.Quote{
		LastPrice: model.Round2(last),
		LiveOHLC: model.OHLC{
			Open:   model.Round2(open),
			High:   model.Round2(high),
			Low:    model.Round2(low),
			Close:  model.Round2(last),
			Volume: 100000 + rng.Int63n(900000),
			TS:     sessionStart.UnixMilli(),
		},
		PrevOHLC: model.OHLC{
			Open:   model.Round2(prevClose * 0.995),
			High:   model.Round2(prevClose * 1.005),
			Low:    model.Round2(prevClose * 0.99),
			Close:  model.Round2(prevClose),
			Volume: 100000 + rng.Int63n(900000),
			TS:     sessionStart.AddDate(0, 0, -1).UnixMilli(),
		},
	}
}

