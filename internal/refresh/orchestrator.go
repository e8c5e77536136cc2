package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
	"github.com/anuraggoyal1/stock-screener/internal/notification"
)

const (
	// Concurrent refresh workers. Each worker paces itself with
	// workerDelay between instruments, so 5 workers stay near 6 req/s,
	// well under the provider's per-minute ceiling.
	workers     = 5
	workerDelay = 800 * time.Millisecond

	timestampLayout = "2006-01-02 15:04:05"
)

// ErrRefreshInProgress is returned when a refresh is requested while a
// cycle is already running. Cycles never overlap.
var ErrRefreshInProgress = errors.New("refresh cycle already running")

// ErrNotFound marks a symbol that is not in the watchlist.
var ErrNotFound = errors.New("symbol not in watchlist")

// Progress event types streamed to connected clients.
const (
	EventRefreshStarted  = "refresh_started"
	EventRefreshProgress = "refresh_progress"
	EventRefreshDone     = "refresh_done"
)

// Progress is one refresh lifecycle event.
type Progress struct {
	Type      string `json:"type"`
	Trigger   string `json:"trigger,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Refreshed int    `json:"refreshed,omitempty"`
	Errors    int    `json:"errors,omitempty"`
}

// Config wires a refresh Service. Store and Data are required; the rest
// are optional and skipped when nil.
type Config struct {
	Store    model.WatchlistStore
	Data     model.MarketData
	Cache    model.QuoteCache
	Journal  model.CycleJournal
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Band     Band
}

// Service runs refresh cycles over the watchlist. At most one cycle is
// in flight at a time; concurrent requests get ErrRefreshInProgress.
type Service struct {
	mu sync.Mutex

	store    model.WatchlistStore
	data     model.MarketData
	cache    model.QuoteCache
	journal  model.CycleJournal
	notifier notification.Notifier
	metrics  *metrics.Metrics
	band     Band

	delay      time.Duration
	now        func() time.Time
	onProgress func(Progress)
}

// NewService builds a refresh Service from its collaborators.
func NewService(cfg Config) *Service {
	band := cfg.Band
	if band == (Band{}) {
		band = DefaultBand
	}
	return &Service{
		store:    cfg.Store,
		data:     cfg.Data,
		cache:    cfg.Cache,
		journal:  cfg.Journal,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		band:     band,
		delay:    workerDelay,
		now:      time.Now,
	}
}

// SetProgressFunc installs the callback invoked for every lifecycle
// event. Must be set before the first cycle starts; events fire from
// worker goroutines.
func (s *Service) SetProgressFunc(fn func(Progress)) {
	s.onProgress = fn
}

func (s *Service) emit(ev Progress) {
	if s.onProgress != nil {
		s.onProgress(ev)
	}
}

// RefreshAll runs one full refresh cycle: batch-fetch live quotes,
// fan the watchlist out over paced workers, reconcile every record and
// write the whole collection back in one atomic replace. Records whose
// refresh failed pass through unchanged and are listed in the report.
//
// Cancellation is honored between instruments; records not yet
// processed pass through unchanged, the partial result is still
// persisted and journaled, and the context error is returned alongside
// the report.
func (s *Service) RefreshAll(ctx context.Context, trigger string) (model.RefreshReport, error) {
	if !s.mu.TryLock() {
		return model.RefreshReport{}, ErrRefreshInProgress
	}
	defer s.mu.Unlock()

	started := s.now()
	records, err := s.store.All()
	if err != nil {
		return model.RefreshReport{}, fmt.Errorf("load watchlist: %w", err)
	}
	if s.metrics != nil {
		s.metrics.WatchlistSize.Set(float64(len(records)))
	}
	if len(records) == 0 {
		slog.Info("refresh skipped, watchlist is empty", "trigger", trigger)
		return model.RefreshReport{}, nil
	}

	slog.Info("refresh cycle started", "trigger", trigger, "total", len(records))
	quotes := s.fetchQuotes(ctx, records)
	s.emit(Progress{Type: EventRefreshStarted, Trigger: trigger, Total: len(records)})

	results := make([]model.WatchRecord, len(records))
	parts := partition(records, workers)
	errsByWorker := make([][]model.RefreshError, len(parts))

	var processed atomic.Int64
	var wg sync.WaitGroup
	offset := 0
	for wi, part := range parts {
		wg.Add(1)
		go func(wi, off int, part []model.WatchRecord) {
			defer wg.Done()
			for j, rec := range part {
				if ctx.Err() != nil {
					copy(results[off+j:], part[j:])
					return
				}
				updated, err := s.refreshRecord(ctx, rec, quotes)
				if err != nil {
					slog.Warn("refresh failed", "symbol", rec.TradingSymbol, "error", err)
					errsByWorker[wi] = append(errsByWorker[wi], model.RefreshError{
						Symbol: rec.TradingSymbol,
						Error:  err.Error(),
					})
					results[off+j] = rec
				} else {
					results[off+j] = updated
				}
				done := int(processed.Add(1))
				s.emit(Progress{Type: EventRefreshProgress, Symbol: rec.TradingSymbol, Done: done, Total: len(records)})
				if j < len(part)-1 {
					select {
					case <-ctx.Done():
					case <-time.After(s.delay):
					}
				}
			}
		}(wi, offset, part)
		offset += len(part)
	}
	wg.Wait()

	var cycleErrs []model.RefreshError
	for _, es := range errsByWorker {
		cycleErrs = append(cycleErrs, es...)
	}
	refreshed := int(processed.Load()) - len(cycleErrs)
	report := model.RefreshReport{Refreshed: refreshed, Total: len(records), Errors: cycleErrs}

	if err := s.store.ReplaceAll(results); err != nil {
		return report, fmt.Errorf("persist watchlist: %w", err)
	}

	finished := s.now()
	s.journalCycle(trigger, started, finished, report)
	s.metrics.CycleFinished(trigger, refreshed, len(cycleErrs), finished.Sub(started))
	s.emit(Progress{
		Type:      EventRefreshDone,
		Trigger:   trigger,
		Done:      int(processed.Load()),
		Total:     len(records),
		Refreshed: refreshed,
		Errors:    len(cycleErrs),
	})
	s.alertOnErrors(trigger, report)
	slog.Info("refresh cycle finished",
		"trigger", trigger,
		"refreshed", refreshed,
		"total", len(records),
		"errors", len(cycleErrs),
		"took", finished.Sub(started).Round(time.Millisecond))
	return report, ctx.Err()
}

// RefreshOne refreshes a single instrument in place, bypassing the
// partitioned cycle. The same in-flight guard applies.
func (s *Service) RefreshOne(ctx context.Context, symbol string) (model.WatchRecord, error) {
	if !s.mu.TryLock() {
		return model.WatchRecord{}, ErrRefreshInProgress
	}
	defer s.mu.Unlock()

	rec, ok, err := s.store.Find(symbol)
	if err != nil {
		return model.WatchRecord{}, fmt.Errorf("load watchlist: %w", err)
	}
	if !ok {
		return model.WatchRecord{}, ErrNotFound
	}

	started := s.now()
	key := instrumentKeyOf(rec)
	q, err := s.data.Quote(ctx, key)
	if err != nil {
		slog.Warn("live quote unavailable", "symbol", rec.TradingSymbol, "error", err)
		q = model.Quote{}
	} else if s.cache != nil {
		s.cache.Put(ctx, key, q)
	}

	quotes := map[string]model.Quote{strings.ToUpper(rec.TradingSymbol): q}
	updated, err := s.refreshRecord(ctx, rec, quotes)
	report := model.RefreshReport{Total: 1}
	if err != nil {
		report.Errors = []model.RefreshError{{Symbol: rec.TradingSymbol, Error: err.Error()}}
		s.journalCycle(model.TriggerSingle, started, s.now(), report)
		return model.WatchRecord{}, err
	}

	persisted, _, err := s.store.Update(rec.TradingSymbol, func(r *model.WatchRecord) {
		*r = updated
	})
	if err != nil {
		return model.WatchRecord{}, fmt.Errorf("persist record: %w", err)
	}
	report.Refreshed = 1
	s.journalCycle(model.TriggerSingle, started, s.now(), report)
	slog.Info("instrument refreshed", "symbol", rec.TradingSymbol, "cp", persisted.CP)
	return persisted, nil
}

// RefreshATH reseeds one instrument's all-time high from long-horizon
// monthly candles without touching the rest of the record. The stored
// value only ever moves up. years <= 0 falls back to the standard
// ten-year horizon.
func (s *Service) RefreshATH(ctx context.Context, symbol string, years int) (model.WatchRecord, error) {
	if !s.mu.TryLock() {
		return model.WatchRecord{}, ErrRefreshInProgress
	}
	defer s.mu.Unlock()

	if years <= 0 {
		years = athYears
	}

	rec, ok, err := s.store.Find(symbol)
	if err != nil {
		return model.WatchRecord{}, fmt.Errorf("load watchlist: %w", err)
	}
	if !ok {
		return model.WatchRecord{}, ErrNotFound
	}

	monthly, err := s.data.MonthlyHigh(ctx, instrumentKeyOf(rec), years)
	if err != nil {
		return model.WatchRecord{}, fmt.Errorf("monthly high: %w", err)
	}
	updated, _, err := s.store.Update(rec.TradingSymbol, func(r *model.WatchRecord) {
		r.ATH = model.SanitizeFloat(max(monthly, r.ATH))
	})
	if err != nil {
		return model.WatchRecord{}, fmt.Errorf("persist record: %w", err)
	}
	slog.Info("ath reseeded", "symbol", rec.TradingSymbol, "ath", updated.ATH)
	return updated, nil
}

// refreshRecord fetches one instrument's candle window and monthly high
// and reconciles them with its live quote into an updated record.
func (s *Service) refreshRecord(ctx context.Context, rec model.WatchRecord, quotes map[string]model.Quote) (model.WatchRecord, error) {
	key := instrumentKeyOf(rec)
	now := s.now()
	candles, err := s.data.Candles(ctx, key, "days", "1", now.AddDate(0, 0, -fetchWindowDays), now)
	if err != nil {
		return rec, fmt.Errorf("candles: %w", err)
	}

	monthly, err := s.data.MonthlyHigh(ctx, key, athYears)
	if err != nil {
		slog.Debug("monthly high unavailable", "symbol", rec.TradingSymbol, "error", err)
		monthly = 0
	}

	snap, err := Reconcile(Inputs{
		Candles:     candles,
		Quote:       quotes[strings.ToUpper(rec.TradingSymbol)],
		Stored:      rec,
		MonthlyHigh: monthly,
		Now:         now,
		Band:        s.band,
	})
	if err != nil {
		return rec, err
	}
	snap.Apply(&rec, now.In(markethours.IST).Format(timestampLayout))
	return rec, nil
}

// fetchQuotes batch-fetches live quotes for the whole watchlist and
// warms the quote cache. Failed batches degrade to per-instrument
// quoteless refreshes, so the error is logged, not returned.
func (s *Service) fetchQuotes(ctx context.Context, records []model.WatchRecord) map[string]model.Quote {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, instrumentKeyOf(r))
	}
	quotes, err := s.data.Quotes(ctx, keys)
	if err != nil {
		slog.Warn("quote batch fetch incomplete", "got", len(quotes), "want", len(keys), "error", err)
	}
	if s.cache != nil && len(quotes) > 0 {
		byKey := make(map[string]model.Quote, len(quotes))
		for _, r := range records {
			if q, ok := quotes[strings.ToUpper(r.TradingSymbol)]; ok {
				byKey[instrumentKeyOf(r)] = q
			}
		}
		s.cache.PutAll(ctx, byKey)
	}
	return quotes
}

func (s *Service) journalCycle(trigger string, started, finished time.Time, rep model.RefreshReport) {
	if s.journal == nil {
		return
	}
	err := s.journal.Record(model.RefreshCycle{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: finished,
		Total:      rep.Total,
		Refreshed:  rep.Refreshed,
		ErrorCount: len(rep.Errors),
		Errors:     rep.Errors,
	})
	if err != nil {
		slog.Warn("journal write failed", "error", err)
	}
}

func (s *Service) alertOnErrors(trigger string, rep model.RefreshReport) {
	if s.notifier == nil || len(rep.Errors) == 0 {
		return
	}
	sample := make([]string, 0, 5)
	for _, e := range rep.Errors {
		if len(sample) == 5 {
			break
		}
		sample = append(sample, e.Symbol)
	}
	msg := fmt.Sprintf("%d of %d instruments failed during %s refresh: %s",
		len(rep.Errors), rep.Total, trigger, strings.Join(sample, ", "))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Refresh completed with errors",
		Message: msg,
	}); err != nil {
		slog.Warn("alert delivery failed", "error", err)
	}
}

// partition splits records into at most n contiguous near-equal parts.
// The remainder spreads one extra record over the leading parts, so
// concatenating the parts reproduces the input order exactly.
func partition(records []model.WatchRecord, n int) [][]model.WatchRecord {
	if len(records) == 0 {
		return nil
	}
	if n > len(records) {
		n = len(records)
	}
	base, extra := len(records)/n, len(records)%n
	parts := make([][]model.WatchRecord, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		parts = append(parts, records[start:start+size])
		start += size
	}
	return parts
}

func instrumentKeyOf(r model.WatchRecord) string {
	if r.InstrumentKey != "" {
		return r.InstrumentKey
	}
	return model.FallbackInstrumentKey(r.TradingSymbol)
}
