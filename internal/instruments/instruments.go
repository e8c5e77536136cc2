// Package instruments loads the exchange reference file (NSE_EQ.json)
// into an immutable symbol lookup table. The table is built once at
// startup and passed by reference into whatever needs symbol resolution;
// nothing mutates it afterwards, so it is safe for concurrent readers.
package instruments

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// Table maps uppercase trading symbols to instruments.
type Table struct {
	bySymbol map[string]model.Instrument
}

// Load reads the reference file at path. A missing file is not fatal:
// the watchlist still works with fallback instrument keys, so we log and
// return an empty table.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Warn("instruments: reference file missing, using fallback keys", "path", path)
		return &Table{bySymbol: map[string]model.Instrument{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instruments: read %s: %w", path, err)
	}

	var rows []model.Instrument
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("instruments: parse %s: %w", path, err)
	}

	t := &Table{bySymbol: make(map[string]model.Instrument, len(rows))}
	for _, row := range rows {
		if row.TradingSymbol == "" || row.InstrumentKey == "" {
			continue
		}
		t.bySymbol[strings.ToUpper(row.TradingSymbol)] = row
	}
	slog.Info("instruments: reference table loaded", "path", path, "count", len(t.bySymbol))
	return t, nil
}

// NewTable builds a table directly from rows. Used by tests and tools.
func NewTable(rows []model.Instrument) *Table {
	t := &Table{bySymbol: make(map[string]model.Instrument, len(rows))}
	for _, row := range rows {
		if row.TradingSymbol == "" || row.InstrumentKey == "" {
			continue
		}
		t.bySymbol[strings.ToUpper(row.TradingSymbol)] = row
	}
	return t
}

// Lookup returns the instrument for a trading symbol (case-insensitive)
// and whether it was present in the reference file.
func (t *Table) Lookup(symbol string) (model.Instrument, bool) {
	inst, ok := t.bySymbol[strings.ToUpper(symbol)]
	return inst, ok
}

// Resolve returns the instrument key and display name for a symbol,
// falling back to the NSE_EQ segment key and the uppercased symbol when
// the reference file does not know it.
func (t *Table) Resolve(symbol string) (instrumentKey, name string) {
	if inst, ok := t.Lookup(symbol); ok {
		if inst.Name != "" {
			return inst.InstrumentKey, inst.Name
		}
		return inst.InstrumentKey, strings.ToUpper(symbol)
	}
	return model.FallbackInstrumentKey(symbol), strings.ToUpper(symbol)
}

// Len reports how many instruments the table holds.
func (t *Table) Len() int {
	return len(t.bySymbol)
}
