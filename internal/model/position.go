package model

// Position is one open holding tracked in the positions file.
type Position struct {
	Symbol    string  `json:"symbol"`
	StockName string  `json:"stock_name"`
	BuyPrice  float64 `json:"buy_price"`
	BuyDate   string  `json:"buy_date"` // YYYY-MM-DD
	Quantity  int     `json:"quantity"`
}

// PositionPnL is a position enriched with live valuation for API output.
type PositionPnL struct {
	Position
	CurrentPrice float64 `json:"current_price"`
	Investment   float64 `json:"investment"`
	CurrentValue float64 `json:"current_value"`
	PnL          float64 `json:"pnl"`
	PnLPct       float64 `json:"pnl_pct"`
}

// Valued computes the live valuation of the position at cp.
func (p Position) Valued(cp float64) PositionPnL {
	investment := p.BuyPrice * float64(p.Quantity)
	current := cp * float64(p.Quantity)
	pnl := current - investment
	pnlPct := 0.0
	if investment > 0 {
		pnlPct = pnl / investment * 100
	}
	return PositionPnL{
		Position:     p,
		CurrentPrice: Round2(SanitizeFloat(cp)),
		Investment:   Round2(SanitizeFloat(investment)),
		CurrentValue: Round2(SanitizeFloat(current)),
		PnL:          Round2(SanitizeFloat(pnl)),
		PnLPct:       Round2(SanitizeFloat(pnlPct)),
	}
}
