package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the refresh/backtest core from concrete
// implementations (HTTP provider client, CSV files, Redis, SQLite).
// Each implementation satisfies one or more of these interfaces.

// MarketData is the market-data provider the core consumes.
type MarketData interface {
	// Candles fetches historical candles for an instrument key over the
	// given date range. unit is a provider granularity ("days",
	// "months"), interval its multiplier ("1"). Candle order is NOT
	// guaranteed ascending; empty slice on no data.
	Candles(ctx context.Context, instrumentKey, unit, interval string, from, to time.Time) ([]Candle, error)

	// Quote fetches the live OHLC quote for one instrument key.
	Quote(ctx context.Context, instrumentKey string) (Quote, error)

	// Quotes fetches live quotes for the given instrument keys, batching
	// provider calls as needed. The result is keyed by uppercase trading
	// symbol (the segment after the last ':' or '|' of the provider's
	// response key). A partial map plus a joined error is returned when
	// some batches fail.
	Quotes(ctx context.Context, instrumentKeys []string) (map[string]Quote, error)

	// MonthlyHigh returns the highest monthly-candle high over the last
	// `years` years, or 0 when no data came back.
	MonthlyHigh(ctx context.Context, instrumentKey string, years int) (float64, error)
}

// Broker places orders with the execution broker.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// WatchlistStore is the persistent watchlist collection. Rows are keyed
// by a case-insensitive match on the trading symbol.
type WatchlistStore interface {
	All() ([]WatchRecord, error)
	Find(symbol string) (WatchRecord, bool, error)
	Add(rec WatchRecord) error

	// Update applies fn to the matching record and persists the result.
	// Returns the updated record and whether a match existed.
	Update(symbol string, fn func(*WatchRecord)) (WatchRecord, bool, error)

	Delete(symbol string) (bool, error)

	// ReplaceAll atomically replaces the whole collection.
	ReplaceAll(recs []WatchRecord) error
}

// QuoteCache is a short-lived live-quote cache. Implementations must be
// nil-safe on the read path: a missing backend is a cache miss, never an
// error surfaced to callers. Writes are best effort.
type QuoteCache interface {
	Get(ctx context.Context, instrumentKey string) (Quote, bool)
	Put(ctx context.Context, instrumentKey string, q Quote)

	// PutAll stores a batch of quotes keyed by instrument key.
	PutAll(ctx context.Context, quotes map[string]Quote)

	Close() error
}

// CycleJournal records refresh cycle outcomes for later inspection.
type CycleJournal interface {
	Record(cycle RefreshCycle) error
	History(limit int) ([]RefreshCycle, error)
	Close() error
}
