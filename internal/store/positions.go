package store

import (
	"sync"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

var positionsHeader = []string{
	"symbol", "stock_name", "buy_price", "buy_date", "quantity",
}

// Positions is the open-positions store backed by positions.csv.
type Positions struct {
	mu   sync.Mutex
	path string
}

func NewPositions(path string) *Positions {
	return &Positions{path: path}
}

// All returns every open position in file order.
func (s *Positions) All() ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *Positions) readAll() ([]model.Position, error) {
	header, rows, err := readRows(s.path)
	if err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(rows))
	for _, row := range rows {
		p := model.Position{
			Symbol:    field(header, row, "symbol"),
			StockName: field(header, row, "stock_name"),
			BuyPrice:  parseFloat(field(header, row, "buy_price")),
			BuyDate:   field(header, row, "buy_date"),
			Quantity:  parseInt(field(header, row, "quantity")),
		}
		if p.Symbol == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Positions) writeAll(positions []model.Position) error {
	rows := make([][]string, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, []string{
			p.Symbol, p.StockName, formatFloat(p.BuyPrice), p.BuyDate, itoa(p.Quantity),
		})
	}
	return writeRows(s.path, positionsHeader, rows)
}

// Find returns the first position for the symbol (case-insensitive).
func (s *Positions) Find(symbol string) (model.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions, err := s.readAll()
	if err != nil {
		return model.Position{}, false, err
	}
	for _, p := range positions {
		if symbolEqual(p.Symbol, symbol) {
			return p, true, nil
		}
	}
	return model.Position{}, false, nil
}

// Add appends a position.
func (s *Positions) Add(p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions, err := s.readAll()
	if err != nil {
		return err
	}
	positions = append(positions, p)
	return s.writeAll(positions)
}

// Delete removes every position for the symbol. Reports whether any row
// was removed.
func (s *Positions) Delete(symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions, err := s.readAll()
	if err != nil {
		return false, err
	}
	kept := positions[:0]
	removed := false
	for _, p := range positions {
		if symbolEqual(p.Symbol, symbol) {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeAll(kept)
}
