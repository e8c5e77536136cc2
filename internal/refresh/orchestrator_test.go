package refresh

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// ── Fakes ──

func symbolFromKey(key string) string {
	if i := strings.LastIndexAny(key, ":|"); i >= 0 {
		return strings.ToUpper(key[i+1:])
	}
	return strings.ToUpper(key)
}

type fakeData struct {
	mu        sync.Mutex
	candles   map[string][]model.Candle // by instrument key
	quotes    map[string]model.Quote    // by trading symbol
	monthly   map[string]float64        // by instrument key
	candleErr map[string]error

	// When set, Candles signals entered and waits for block to close.
	entered chan string
	block   chan struct{}
}

func newFakeData() *fakeData {
	return &fakeData{
		candles:   make(map[string][]model.Candle),
		quotes:    make(map[string]model.Quote),
		monthly:   make(map[string]float64),
		candleErr: make(map[string]error),
	}
}

func (f *fakeData) Candles(ctx context.Context, key, unit, interval string, from, to time.Time) ([]model.Candle, error) {
	if f.entered != nil {
		f.entered <- key
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.candleErr[key]; err != nil {
		return nil, err
	}
	return f.candles[key], nil
}

func (f *fakeData) Quote(ctx context.Context, key string) (model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbolFromKey(key)]
	if !ok {
		return model.Quote{}, errors.New("no quote")
	}
	return q, nil
}

func (f *fakeData) Quotes(ctx context.Context, keys []string) (map[string]model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.Quote)
	for _, k := range keys {
		sym := symbolFromKey(k)
		if q, ok := f.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func (f *fakeData) MonthlyHigh(ctx context.Context, key string, years int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.monthly[key]; ok {
		return v, nil
	}
	return 0, errors.New("no monthly data")
}

type fakeStore struct {
	mu           sync.Mutex
	recs         []model.WatchRecord
	replaceCalls int
}

func (f *fakeStore) All() ([]model.WatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.WatchRecord, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

func (f *fakeStore) Find(symbol string) (model.WatchRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if strings.EqualFold(r.TradingSymbol, symbol) {
			return r, true, nil
		}
	}
	return model.WatchRecord{}, false, nil
}

func (f *fakeStore) Add(rec model.WatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeStore) Update(symbol string, fn func(*model.WatchRecord)) (model.WatchRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recs {
		if strings.EqualFold(f.recs[i].TradingSymbol, symbol) {
			fn(&f.recs[i])
			return f.recs[i], true, nil
		}
	}
	return model.WatchRecord{}, false, nil
}

func (f *fakeStore) Delete(symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recs {
		if strings.EqualFold(f.recs[i].TradingSymbol, symbol) {
			f.recs = append(f.recs[:i], f.recs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReplaceAll(recs []model.WatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = make([]model.WatchRecord, len(recs))
	copy(f.recs, recs)
	f.replaceCalls++
	return nil
}

type fakeJournal struct {
	mu     sync.Mutex
	cycles []model.RefreshCycle
}

func (f *fakeJournal) Record(c model.RefreshCycle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, c)
	return nil
}

func (f *fakeJournal) History(limit int) ([]model.RefreshCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RefreshCycle, len(f.cycles))
	copy(out, f.cycles)
	return out, nil
}

func (f *fakeJournal) Close() error { return nil }

type fakeCache struct {
	mu      sync.Mutex
	puts    map[string]model.Quote
	putAlls []map[string]model.Quote
}

func newFakeCache() *fakeCache {
	return &fakeCache{puts: make(map[string]model.Quote)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (model.Quote, bool) {
	return model.Quote{}, false
}

func (f *fakeCache) Put(ctx context.Context, key string, q model.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = q
}

func (f *fakeCache) PutAll(ctx context.Context, quotes map[string]model.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]model.Quote, len(quotes))
	for k, v := range quotes {
		cp[k] = v
	}
	f.putAlls = append(f.putAlls, cp)
}

func (f *fakeCache) Close() error { return nil }

// ── Test fixtures ──

func watchRec(sym, key string) model.WatchRecord {
	return model.WatchRecord{Group: "A", StockName: sym, TradingSymbol: sym, InstrumentKey: key}
}

// seedInstrument gives an instrument a 10-session candle window ending
// 2026-02-10, a live quote for 2026-02-11 and a monthly high.
func seedInstrument(d *fakeData, key, sym string, base float64) {
	lastDay := time.Date(2026, 2, 10, 0, 0, 0, 0, markethours.IST)
	quoteDay := time.Date(2026, 2, 11, 10, 0, 0, 0, markethours.IST)
	d.candles[key] = candleSeq(10, lastDay, base)
	d.quotes[sym] = liveQuote(quoteDay, base+100, base+102)
	d.monthly[key] = base * 50
}

func newTestService(store *fakeStore, data *fakeData, cfg Config) *Service {
	cfg.Store = store
	cfg.Data = data
	if cfg.Band == (Band{}) {
		cfg.Band = DefaultBand
	}
	s := NewService(cfg)
	s.delay = 0
	s.now = func() time.Time { return testNow }
	return s
}

// ── Partitioning ──

func TestPartition(t *testing.T) {
	mk := func(n int) []model.WatchRecord {
		out := make([]model.WatchRecord, n)
		for i := range out {
			out[i] = watchRec("SYM"+strconv.Itoa(i), "")
		}
		return out
	}

	tests := []struct {
		total int
		n     int
		sizes []int
	}{
		{12, 5, []int{3, 3, 2, 2, 2}},
		{7, 5, []int{2, 2, 1, 1, 1}},
		{5, 5, []int{1, 1, 1, 1, 1}},
		{3, 5, []int{1, 1, 1}},
		{1, 5, []int{1}},
		{100, 5, []int{20, 20, 20, 20, 20}},
	}
	for _, tt := range tests {
		recs := mk(tt.total)
		parts := partition(recs, tt.n)
		if len(parts) != len(tt.sizes) {
			t.Errorf("partition(%d, %d): %d parts, want %d", tt.total, tt.n, len(parts), len(tt.sizes))
			continue
		}
		var flat []model.WatchRecord
		for i, p := range parts {
			if len(p) != tt.sizes[i] {
				t.Errorf("partition(%d, %d): part %d has %d records, want %d", tt.total, tt.n, i, len(p), tt.sizes[i])
			}
			flat = append(flat, p...)
		}
		for i := range recs {
			if flat[i].TradingSymbol != recs[i].TradingSymbol {
				t.Fatalf("partition(%d, %d): concatenation reorders records at %d", tt.total, tt.n, i)
			}
		}
	}

	if parts := partition(nil, 5); parts != nil {
		t.Errorf("partition(empty) = %v, want nil", parts)
	}
}

// ── Full cycle ──

func TestRefreshAllUpdatesEveryRecord(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	syms := []string{"SYM0", "SYM1", "SYM2", "SYM3", "SYM4", "SYM5", "SYM6"}
	for i, sym := range syms {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}

	s := newTestService(store, data, Config{})
	report, err := s.RefreshAll(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if report.Refreshed != 7 || report.Total != 7 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v, want 7/7 clean", report)
	}

	got, _ := store.All()
	if len(got) != 7 {
		t.Fatalf("store has %d records, want 7", len(got))
	}
	for i, rec := range got {
		if rec.TradingSymbol != syms[i] {
			t.Fatalf("record order changed: got %s at %d, want %s", rec.TradingSymbol, i, syms[i])
		}
		wantCP := 100 + float64(i) + 102 // live close
		if rec.CP != wantCP {
			t.Errorf("%s: CP = %v, want %v", rec.TradingSymbol, rec.CP, wantCP)
		}
		wantATH := (100 + float64(i)) * 50 // monthly high
		if rec.ATH != wantATH {
			t.Errorf("%s: ATH = %v, want %v", rec.TradingSymbol, rec.ATH, wantATH)
		}
		if rec.LastUpdated != "2026-02-11 14:30:00" {
			t.Errorf("%s: LastUpdated = %q", rec.TradingSymbol, rec.LastUpdated)
		}
	}
	store.mu.Lock()
	calls := store.replaceCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("ReplaceAll called %d times, want exactly one atomic write", calls)
	}
}

func TestRefreshAllKeepsFailedRecordsUnchanged(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"GOOD0", "BAD", "GOOD1"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}
	data.candleErr["NSE_EQ|BAD"] = errors.New("upstream 500")

	s := newTestService(store, data, Config{})
	report, err := s.RefreshAll(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if report.Refreshed != 2 || report.Total != 3 {
		t.Fatalf("report = %+v, want 2 of 3 refreshed", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Symbol != "BAD" {
		t.Fatalf("errors = %+v, want one entry for BAD", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Error, "upstream 500") {
		t.Errorf("error message %q does not carry the cause", report.Errors[0].Error)
	}

	got, _ := store.All()
	if got[1].TradingSymbol != "BAD" || got[1].CP != 0 || got[1].LastUpdated != "" {
		t.Errorf("failed record was modified: %+v", got[1])
	}
	if got[0].CP == 0 || got[2].CP == 0 {
		t.Errorf("healthy records were not refreshed: %+v, %+v", got[0], got[2])
	}
}

func TestRefreshAllEmptyWatchlist(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeData(), Config{})
	report, err := s.RefreshAll(context.Background(), model.TriggerScheduled)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if report.Total != 0 || report.Refreshed != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}

func TestRefreshRejectsOverlap(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"SYM0", "SYM1", "SYM2"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}
	data.entered = make(chan string, 16)
	data.block = make(chan struct{})

	s := newTestService(store, data, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := s.RefreshAll(context.Background(), model.TriggerScheduled)
		done <- err
	}()
	<-data.entered // a worker is inside the cycle

	if _, err := s.RefreshAll(context.Background(), model.TriggerManual); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("concurrent RefreshAll error = %v, want ErrRefreshInProgress", err)
	}
	if _, err := s.RefreshOne(context.Background(), "SYM0"); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("concurrent RefreshOne error = %v, want ErrRefreshInProgress", err)
	}
	if _, err := s.RefreshATH(context.Background(), "SYM0", 0); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("concurrent RefreshATH error = %v, want ErrRefreshInProgress", err)
	}

	close(data.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	// The guard releases once the cycle ends.
	if _, err := s.RefreshAll(context.Background(), model.TriggerManual); err != nil {
		t.Fatalf("follow-up cycle: %v", err)
	}
}

func TestRefreshAllCancelledContext(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"SYM0", "SYM1", "SYM2"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestService(store, data, Config{})
	report, err := s.RefreshAll(ctx, model.TriggerScheduled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if report.Total != 3 || report.Refreshed != 0 {
		t.Errorf("report = %+v, want 0 of 3", report)
	}

	// Unprocessed records pass through unchanged in one atomic write.
	got, _ := store.All()
	store.mu.Lock()
	calls := store.replaceCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Fatalf("ReplaceAll called %d times, want 1", calls)
	}
	for i, rec := range got {
		if rec.CP != 0 || rec.LastUpdated != "" {
			t.Errorf("record %d was modified after cancellation: %+v", i, rec)
		}
	}
}

func TestRefreshAllJournalsAndStreamsProgress(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"SYM0", "SYM1", "SYM2", "SYM3"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}
	journal := &fakeJournal{}

	s := newTestService(store, data, Config{Journal: journal})
	var mu sync.Mutex
	var events []Progress
	s.SetProgressFunc(func(ev Progress) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if _, err := s.RefreshAll(context.Background(), model.TriggerManual); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if len(journal.cycles) != 1 {
		t.Fatalf("journal has %d cycles, want 1", len(journal.cycles))
	}
	cycle := journal.cycles[0]
	if cycle.Trigger != model.TriggerManual || cycle.Total != 4 || cycle.Refreshed != 4 || cycle.ErrorCount != 0 {
		t.Errorf("cycle = %+v", cycle)
	}
	if !cycle.StartedAt.Equal(testNow) {
		t.Errorf("StartedAt = %v, want %v", cycle.StartedAt, testNow)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 6 {
		t.Fatalf("got %d events, want started + 4 progress + done", len(events))
	}
	if events[0].Type != EventRefreshStarted || events[0].Total != 4 {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != EventRefreshDone || last.Refreshed != 4 || last.Total != 4 {
		t.Errorf("last event = %+v", last)
	}
	seen := map[int]bool{}
	for _, ev := range events[1 : len(events)-1] {
		if ev.Type != EventRefreshProgress {
			t.Errorf("middle event = %+v, want progress", ev)
		}
		seen[ev.Done] = true
	}
	for want := 1; want <= 4; want++ {
		if !seen[want] {
			t.Errorf("no progress event with done=%d", want)
		}
	}
}

func TestRefreshAllWarmsQuoteCache(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"SYM0", "SYM1", "SYM2"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}
	delete(data.quotes, "SYM2") // no live quote for one instrument
	cache := newFakeCache()

	s := newTestService(store, data, Config{Cache: cache})
	if _, err := s.RefreshAll(context.Background(), model.TriggerManual); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.putAlls) != 1 {
		t.Fatalf("PutAll called %d times, want 1", len(cache.putAlls))
	}
	batch := cache.putAlls[0]
	if len(batch) != 2 {
		t.Fatalf("cached %d quotes, want 2", len(batch))
	}
	if _, ok := batch["NSE_EQ|SYM0"]; !ok {
		t.Errorf("cache batch is not keyed by instrument key: %v", batch)
	}
	if _, ok := batch["NSE_EQ|SYM2"]; ok {
		t.Errorf("quoteless instrument ended up in the cache batch")
	}
}

// ── Single instrument ──

func TestRefreshOne(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	for i, sym := range []string{"SYM0", "SYM1", "SYM2"} {
		key := "NSE_EQ|" + sym
		store.recs = append(store.recs, watchRec(sym, key))
		seedInstrument(data, key, sym, 100+float64(i))
	}
	journal := &fakeJournal{}
	cache := newFakeCache()

	s := newTestService(store, data, Config{Journal: journal, Cache: cache})
	rec, err := s.RefreshOne(context.Background(), "sym1")
	if err != nil {
		t.Fatalf("RefreshOne: %v", err)
	}
	if rec.TradingSymbol != "SYM1" || rec.CP != 203 {
		t.Errorf("refreshed record = %+v, want SYM1 at CP 203", rec)
	}

	got, _ := store.All()
	if got[1].CP != 203 {
		t.Errorf("store not updated in place: %+v", got[1])
	}
	if got[0].CP != 0 || got[2].CP != 0 {
		t.Errorf("neighbouring records were touched: %+v, %+v", got[0], got[2])
	}

	if len(journal.cycles) != 1 || journal.cycles[0].Trigger != model.TriggerSingle {
		t.Errorf("journal = %+v, want one single-trigger cycle", journal.cycles)
	}
	cache.mu.Lock()
	_, cached := cache.puts["NSE_EQ|SYM1"]
	cache.mu.Unlock()
	if !cached {
		t.Errorf("live quote was not cached")
	}
}

func TestRefreshOneUnknownSymbol(t *testing.T) {
	s := newTestService(&fakeStore{}, newFakeData(), Config{})
	if _, err := s.RefreshOne(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

// ── ATH reseed ──

func TestRefreshATH(t *testing.T) {
	data := newFakeData()
	store := &fakeStore{}
	rec := watchRec("INFY", "NSE_EQ|INFY")
	rec.ATH = 500
	store.recs = []model.WatchRecord{rec}

	s := newTestService(store, data, Config{})

	t.Run("monthly high lifts stored", func(t *testing.T) {
		data.monthly["NSE_EQ|INFY"] = 999
		got, err := s.RefreshATH(context.Background(), "INFY", 10)
		if err != nil {
			t.Fatalf("RefreshATH: %v", err)
		}
		if got.ATH != 999 {
			t.Errorf("ATH = %v, want 999", got.ATH)
		}
	})

	t.Run("stored never moves down", func(t *testing.T) {
		data.monthly["NSE_EQ|INFY"] = 100
		got, err := s.RefreshATH(context.Background(), "INFY", 10)
		if err != nil {
			t.Fatalf("RefreshATH: %v", err)
		}
		if got.ATH != 999 {
			t.Errorf("ATH = %v, want unchanged 999", got.ATH)
		}
	})

	t.Run("fetch failure is surfaced", func(t *testing.T) {
		delete(data.monthly, "NSE_EQ|INFY")
		if _, err := s.RefreshATH(context.Background(), "INFY", 10); err == nil {
			t.Fatal("expected an error when monthly data is unavailable")
		}
	})
}
