package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// currentPrice resolves the freshest price available for a symbol:
// quote cache, then the watchlist snapshot, then a live provider quote
// (which also warms the cache). fallback is returned when every source
// comes up empty.
func (s *Server) currentPrice(ctx context.Context, symbol string, fallback float64) float64 {
	key := model.FallbackInstrumentKey(symbol)
	var watchCP float64
	if rec, ok, err := s.watchlist.Find(symbol); err == nil && ok {
		watchCP = rec.CP
		if rec.InstrumentKey != "" {
			key = rec.InstrumentKey
		}
	}

	if s.cache != nil {
		if q, ok := s.cache.Get(ctx, key); ok {
			if cp := q.LiveClose(); cp > 0 {
				return cp
			}
		}
	}
	if watchCP > 0 {
		return watchCP
	}
	if s.data != nil {
		if q, err := s.data.Quote(ctx, key); err == nil {
			if cp := q.LiveClose(); cp > 0 {
				if s.cache != nil {
					s.cache.Put(ctx, key, q)
				}
				return cp
			}
		}
	}
	return fallback
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.positions.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load positions: %v", err)
		return
	}

	ctx := c.Request.Context()
	rows := make([]model.PositionPnL, 0, len(positions))
	var totalInvestment, totalCurrent float64
	for _, p := range positions {
		cp := s.currentPrice(ctx, p.Symbol, p.BuyPrice)
		row := p.Valued(cp)
		rows = append(rows, row)
		totalInvestment += p.BuyPrice * float64(p.Quantity)
		totalCurrent += cp * float64(p.Quantity)
	}

	totalPnL := totalCurrent - totalInvestment
	totalPnLPct := 0.0
	if totalInvestment > 0 {
		totalPnLPct = totalPnL / totalInvestment * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   rows,
		"count":  len(rows),
		"summary": gin.H{
			"total_investment":    model.Round2(totalInvestment),
			"total_current_value": model.Round2(totalCurrent),
			"total_pnl":           model.Round2(totalPnL),
			"total_pnl_pct":       model.Round2(totalPnLPct),
		},
	})
}

func (s *Server) addPosition(c *gin.Context) {
	var req struct {
		Symbol    string  `json:"symbol"`
		StockName string  `json:"stock_name"`
		BuyPrice  float64 `json:"buy_price"`
		BuyDate   string  `json:"buy_date"`
		Quantity  int     `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.BuyPrice < 0 {
		fail(c, http.StatusBadRequest, "buy_price cannot be negative")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = s.defaultQuantity()
	}

	name := strings.TrimSpace(req.StockName)
	if name == "" {
		if rec, ok, err := s.watchlist.Find(symbol); err == nil && ok && rec.StockName != "" {
			name = rec.StockName
		} else {
			name = symbol
		}
	}
	buyDate := req.BuyDate
	if buyDate == "" {
		buyDate = s.now().Format("2006-01-02")
	}

	p := model.Position{
		Symbol:    symbol,
		StockName: name,
		BuyPrice:  model.Round2(req.BuyPrice),
		BuyDate:   buyDate,
		Quantity:  req.Quantity,
	}
	if err := s.positions.Add(p); err != nil {
		fail(c, http.StatusInternalServerError, "save position: %v", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"data":    p,
		"message": "Position added for " + symbol,
	})
}

func (s *Server) deletePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	removed, err := s.positions.Delete(symbol)
	if err != nil {
		fail(c, http.StatusInternalServerError, "save positions: %v", err)
		return
	}
	if !removed {
		fail(c, http.StatusNotFound, "position for %s not found", symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Position for " + strings.ToUpper(symbol) + " removed",
	})
}

func (s *Server) defaultQuantity() int {
	if s.cfg != nil && s.cfg.Defaults.DefaultQuantity > 0 {
		return s.cfg.Defaults.DefaultQuantity
	}
	return 1
}
