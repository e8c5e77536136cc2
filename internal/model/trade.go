package model

// Trade is one completed round trip in the trade log.
type Trade struct {
	Symbol    string  `json:"symbol"`
	StockName string  `json:"stock_name"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Quantity  int     `json:"quantity"`
	BuyDate   string  `json:"buy_date"`
	SellDate  string  `json:"sell_date"`
	PnL       float64 `json:"pnl"`
	PnLPct    float64 `json:"pnl_pct"`
}
