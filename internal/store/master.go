package store

import (
	"sync"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// masterHeader is the canonical column order for master.csv. Files are
// always written in this schema; reads additionally accept the legacy
// `symbol` column as an alias for trading_symbol.
var masterHeader = []string{
	"group", "stock_name", "trading_symbol", "instrument_key",
	"cp", "open", "ema5", "ema10", "ema20", "ath", "l5_open",
	"prev_change_pct", "today_change_pct", "last_updated",
}

// Master is the watchlist store backed by master.csv.
type Master struct {
	mu   sync.Mutex
	path string
}

// NewMaster opens (or prepares to create) the watchlist store at path.
func NewMaster(path string) *Master {
	return &Master{path: path}
}

// All returns every watchlist record in file order.
func (s *Master) All() ([]model.WatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *Master) readAll() ([]model.WatchRecord, error) {
	header, rows, err := readRows(s.path)
	if err != nil {
		return nil, err
	}
	recs := make([]model.WatchRecord, 0, len(rows))
	for _, row := range rows {
		rec := decodeMaster(header, row)
		if rec.TradingSymbol == "" {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func decodeMaster(header map[string]int, row []string) model.WatchRecord {
	return model.WatchRecord{
		Group:          field(header, row, "group"),
		StockName:      field(header, row, "stock_name"),
		TradingSymbol:  fieldAny(header, row, "trading_symbol", "symbol"),
		InstrumentKey:  field(header, row, "instrument_key"),
		CP:             parseFloat(field(header, row, "cp")),
		Open:           parseFloat(field(header, row, "open")),
		EMA5:           parseFloat(field(header, row, "ema5")),
		EMA10:          parseFloat(field(header, row, "ema10")),
		EMA20:          parseFloat(field(header, row, "ema20")),
		ATH:            parseFloat(field(header, row, "ath")),
		L5Open:         parseFloat(field(header, row, "l5_open")),
		PrevChangePct:  parseFloat(field(header, row, "prev_change_pct")),
		TodayChangePct: parseFloat(field(header, row, "today_change_pct")),
		LastUpdated:    field(header, row, "last_updated"),
	}
}

func encodeMaster(r model.WatchRecord) []string {
	return []string{
		r.Group, r.StockName, r.TradingSymbol, r.InstrumentKey,
		formatFloat(r.CP), formatFloat(r.Open),
		formatFloat(r.EMA5), formatFloat(r.EMA10), formatFloat(r.EMA20),
		formatFloat(r.ATH), formatFloat(r.L5Open),
		formatFloat(r.PrevChangePct), formatFloat(r.TodayChangePct),
		r.LastUpdated,
	}
}

func (s *Master) writeAll(recs []model.WatchRecord) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, encodeMaster(r))
	}
	return writeRows(s.path, masterHeader, rows)
}

// Find returns the record whose trading symbol matches (case-insensitive).
func (s *Master) Find(symbol string) (model.WatchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return model.WatchRecord{}, false, err
	}
	for _, r := range recs {
		if symbolEqual(r.TradingSymbol, symbol) {
			return r, true, nil
		}
	}
	return model.WatchRecord{}, false, nil
}

// Add appends a new record.
func (s *Master) Add(rec model.WatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	return s.writeAll(recs)
}

// Update applies fn to the matching record in place and persists the
// whole collection. Returns the updated record and whether a match
// existed.
func (s *Master) Update(symbol string, fn func(*model.WatchRecord)) (model.WatchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return model.WatchRecord{}, false, err
	}
	for i := range recs {
		if symbolEqual(recs[i].TradingSymbol, symbol) {
			fn(&recs[i])
			if err := s.writeAll(recs); err != nil {
				return model.WatchRecord{}, false, err
			}
			return recs[i], true, nil
		}
	}
	return model.WatchRecord{}, false, nil
}

// Delete removes every record matching the symbol. Reports whether any
// row was removed.
func (s *Master) Delete(symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return false, err
	}
	kept := recs[:0]
	removed := false
	for _, r := range recs {
		if symbolEqual(r.TradingSymbol, symbol) {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeAll(kept)
}

// ReplaceAll atomically replaces the whole watchlist. This is the commit
// step of a refresh cycle: one write, whole snapshot.
func (s *Master) ReplaceAll(recs []model.WatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAll(recs)
}
