// Package store persists the application's flat-file collections
// (watchlist, positions, trade log) as CSV files under the data
// directory. Each store serializes access with a mutex and replaces the
// file atomically (temp file + rename) on every write, so a crash
// mid-write leaves the previous consistent snapshot intact.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readRows reads a CSV file into a header-index map and raw rows.
// A missing or empty file yields no rows and no error.
func readRows(path string) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged legacy rows
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	header := make(map[string]int, len(all[0]))
	for i, name := range all[0] {
		header[strings.TrimSpace(strings.ToLower(name))] = i
	}
	return header, all[1:], nil
}

// writeRows atomically replaces the CSV file with header + rows.
func writeRows(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// field returns the named column of a row, "" when absent.
func field(header map[string]int, row []string, name string) string {
	idx, ok := header[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// fieldAny returns the first present column among names. Legacy schema
// aliasing (symbol vs trading_symbol) is resolved here, once, at the
// store boundary.
func fieldAny(header map[string]int, row []string, names ...string) string {
	for _, name := range names {
		if _, ok := header[name]; ok {
			return field(header, row, name)
		}
	}
	return ""
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	// Legacy files sometimes hold "2.0" in integer columns.
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// symbolEqual is the case-insensitive key match used by every store.
func symbolEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
