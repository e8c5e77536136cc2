package instruments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NSE_EQ.json")
	payload := `[
		{"trading_symbol": "INFY", "instrument_key": "NSE_EQ|INE009A01021", "name": "INFOSYS LIMITED"},
		{"trading_symbol": "tcs", "instrument_key": "NSE_EQ|INE467B01029", "name": "TATA CONSULTANCY SERV LT"},
		{"trading_symbol": "", "instrument_key": "NSE_EQ|XXX", "name": "dropped"},
		{"trading_symbol": "NOKEY", "instrument_key": "", "name": "dropped too"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (rows without symbol or key dropped)", table.Len())
	}

	// Case-insensitive lookups.
	inst, ok := table.Lookup("infy")
	if !ok {
		t.Fatal("lookup infy failed")
	}
	if inst.InstrumentKey != "NSE_EQ|INE009A01021" {
		t.Errorf("key = %q", inst.InstrumentKey)
	}
	if _, ok := table.Lookup("TCS"); !ok {
		t.Error("lookup TCS failed despite lowercase source row")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d, want 0", table.Len())
	}
}

func TestResolve_Fallback(t *testing.T) {
	table := NewTable([]model.Instrument{
		{TradingSymbol: "INFY", InstrumentKey: "NSE_EQ|INE009A01021", Name: "INFOSYS LIMITED"},
		{TradingSymbol: "BLANKNAME", InstrumentKey: "NSE_EQ|INE000000001"},
	})

	key, name := table.Resolve("INFY")
	if key != "NSE_EQ|INE009A01021" || name != "INFOSYS LIMITED" {
		t.Errorf("Resolve(INFY) = %q, %q", key, name)
	}

	// Known instrument without a name uses the uppercased symbol.
	key, name = table.Resolve("blankname")
	if key != "NSE_EQ|INE000000001" || name != "BLANKNAME" {
		t.Errorf("Resolve(blankname) = %q, %q", key, name)
	}

	// Unknown symbols fall back to the NSE_EQ segment key.
	key, name = table.Resolve("nosuch")
	if key != "NSE_EQ|NOSUCH" || name != "NOSUCH" {
		t.Errorf("Resolve(nosuch) = %q, %q", key, name)
	}
}
