package store

import (
	"strconv"
	"sync"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

var tradeLogHeader = []string{
	"symbol", "stock_name", "buy_price", "sell_price", "quantity",
	"buy_date", "sell_date", "pnl", "pnl_pct",
}

// TradeLog is the completed-trades store backed by tradelog.csv.
type TradeLog struct {
	mu   sync.Mutex
	path string
}

func NewTradeLog(path string) *TradeLog {
	return &TradeLog{path: path}
}

// All returns every completed trade in file order (append order).
func (s *TradeLog) All() ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *TradeLog) readAll() ([]model.Trade, error) {
	header, rows, err := readRows(s.path)
	if err != nil {
		return nil, err
	}
	out := make([]model.Trade, 0, len(rows))
	for _, row := range rows {
		t := model.Trade{
			Symbol:    field(header, row, "symbol"),
			StockName: field(header, row, "stock_name"),
			BuyPrice:  parseFloat(field(header, row, "buy_price")),
			SellPrice: parseFloat(field(header, row, "sell_price")),
			Quantity:  parseInt(field(header, row, "quantity")),
			BuyDate:   field(header, row, "buy_date"),
			SellDate:  field(header, row, "sell_date"),
			PnL:       parseFloat(field(header, row, "pnl")),
			PnLPct:    parseFloat(field(header, row, "pnl_pct")),
		}
		if t.Symbol == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Add appends a completed trade.
func (s *TradeLog) Add(t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades, err := s.readAll()
	if err != nil {
		return err
	}
	trades = append(trades, t)

	rows := make([][]string, 0, len(trades))
	for _, tr := range trades {
		rows = append(rows, []string{
			tr.Symbol, tr.StockName,
			formatFloat(tr.BuyPrice), formatFloat(tr.SellPrice), itoa(tr.Quantity),
			tr.BuyDate, tr.SellDate,
			formatFloat(tr.PnL), formatFloat(tr.PnLPct),
		})
	}
	return writeRows(s.path, tradeLogHeader, rows)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
