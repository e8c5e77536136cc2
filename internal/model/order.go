package model

import "time"

// OrderRequest describes one broker order to place.
type OrderRequest struct {
	Symbol          string  `json:"symbol"`
	TransactionType string  `json:"transaction_type"` // BUY, SELL
	Quantity        int     `json:"quantity"`
	OrderType       string  `json:"order_type"` // MARKET, LIMIT
	Price           float64 `json:"price"`      // limit price (0 for market)
	Exchange        string  `json:"exchange"`   // NSE, BSE
}

// OrderResult is the broker's answer to a placement attempt.
type OrderResult struct {
	OrderID string    `json:"order_id"`
	Message string    `json:"message"`
	Mock    bool      `json:"mock"` // simulated order (no broker credentials)
	At      time.Time `json:"at"`
}
