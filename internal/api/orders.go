package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

type orderBody struct {
	Symbol    string  `json:"symbol"`
	Quantity  int     `json:"quantity"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price"`
}

func (s *Server) defaultOrderType() string {
	if s.cfg != nil && s.cfg.Defaults.OrderType != "" {
		return s.cfg.Defaults.OrderType
	}
	return "MARKET"
}

func (s *Server) exchange() string {
	if s.cfg != nil && s.cfg.Defaults.Exchange != "" {
		return s.cfg.Defaults.Exchange
	}
	return "NSE"
}

// buy places a broker buy order and opens a position at the fill price.
func (s *Server) buy(c *gin.Context) {
	var req orderBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = s.defaultQuantity()
	}
	if req.OrderType == "" {
		req.OrderType = s.defaultOrderType()
	}

	ctx := c.Request.Context()
	result, err := s.broker.PlaceOrder(ctx, model.OrderRequest{
		Symbol:          symbol,
		TransactionType: "BUY",
		Quantity:        req.Quantity,
		OrderType:       req.OrderType,
		Price:           req.Price,
		Exchange:        s.exchange(),
	})
	if err != nil {
		fail(c, http.StatusBadGateway, "place buy order: %v", err)
		return
	}

	buyPrice := req.Price
	if buyPrice <= 0 {
		buyPrice = s.currentPrice(ctx, symbol, 0)
	}
	name := symbol
	if rec, ok, err := s.watchlist.Find(symbol); err == nil && ok && rec.StockName != "" {
		name = rec.StockName
	}

	position := model.Position{
		Symbol:    symbol,
		StockName: name,
		BuyPrice:  model.Round2(buyPrice),
		BuyDate:   s.now().Format("2006-01-02"),
		Quantity:  req.Quantity,
	}
	if err := s.positions.Add(position); err != nil {
		fail(c, http.StatusInternalServerError, "save position: %v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"order":    result,
		"position": position,
		"message":  "Buy order placed and position added for " + symbol,
	})
}

// sell places a broker sell order, closes the position and appends the
// round trip to the trade log.
func (s *Server) sell(c *gin.Context) {
	var req orderBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}

	position, ok, err := s.positions.Find(symbol)
	if err != nil {
		fail(c, http.StatusInternalServerError, "load positions: %v", err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "no position found for %s", symbol)
		return
	}

	// A sell without an explicit quantity closes the whole position.
	if req.Quantity <= 0 {
		req.Quantity = position.Quantity
	}
	if req.OrderType == "" {
		req.OrderType = s.defaultOrderType()
	}

	ctx := c.Request.Context()
	result, err := s.broker.PlaceOrder(ctx, model.OrderRequest{
		Symbol:          symbol,
		TransactionType: "SELL",
		Quantity:        req.Quantity,
		OrderType:       req.OrderType,
		Price:           req.Price,
		Exchange:        s.exchange(),
	})
	if err != nil {
		fail(c, http.StatusBadGateway, "place sell order: %v", err)
		return
	}

	sellPrice := req.Price
	if sellPrice <= 0 {
		sellPrice = s.currentPrice(ctx, symbol, 0)
	}

	pnl := (sellPrice - position.BuyPrice) * float64(req.Quantity)
	pnlPct := 0.0
	if invested := position.BuyPrice * float64(req.Quantity); invested > 0 {
		pnlPct = pnl / invested * 100
	}

	trade := model.Trade{
		Symbol:    symbol,
		StockName: position.StockName,
		BuyPrice:  model.Round2(position.BuyPrice),
		SellPrice: model.Round2(sellPrice),
		Quantity:  req.Quantity,
		BuyDate:   position.BuyDate,
		SellDate:  s.now().Format("2006-01-02"),
		PnL:       model.Round2(pnl),
		PnLPct:    model.Round2(pnlPct),
	}
	if err := s.trades.Add(trade); err != nil {
		fail(c, http.StatusInternalServerError, "save trade: %v", err)
		return
	}
	if _, err := s.positions.Delete(symbol); err != nil {
		fail(c, http.StatusInternalServerError, "save positions: %v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"order":   result,
		"trade":   trade,
		"message": fmt.Sprintf("Sell order placed, P&L %.2f (%+.2f%%)", trade.PnL, trade.PnLPct),
	})
}
