package api

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func tradeTotals(trades []model.Trade) (winning, losing int, netPnL, invested float64) {
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			winning++
		case t.PnL < 0:
			losing++
		}
		netPnL += t.PnL
		invested += t.BuyPrice * float64(t.Quantity)
	}
	return winning, losing, netPnL, invested
}

// listTrades returns completed trades, optionally filtered by symbol and
// sell-date range, with summary stats over the filtered set.
func (s *Server) listTrades(c *gin.Context) {
	trades, err := s.trades.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load trade log: %v", err)
		return
	}

	symbol := strings.TrimSpace(c.Query("symbol"))
	start := c.Query("start_date")
	end := c.Query("end_date")

	kept := trades[:0]
	for _, t := range trades {
		if symbol != "" && !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		// Dates are YYYY-MM-DD so string order is date order.
		if start != "" && t.SellDate < start {
			continue
		}
		if end != "" && t.SellDate > end {
			continue
		}
		kept = append(kept, t)
	}
	trades = kept
	if trades == nil {
		trades = []model.Trade{}
	}

	winning, losing, netPnL, invested := tradeTotals(trades)
	winRate, netPnLPct := 0.0, 0.0
	if len(trades) > 0 {
		winRate = round1(float64(winning) / float64(len(trades)) * 100)
	}
	if invested > 0 {
		netPnLPct = model.Round2(netPnL / invested * 100)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   trades,
		"count":  len(trades),
		"summary": gin.H{
			"total_trades":   len(trades),
			"winning_trades": winning,
			"losing_trades":  losing,
			"win_rate":       winRate,
			"net_pnl":        model.Round2(netPnL),
			"net_pnl_pct":    netPnLPct,
			"total_invested": model.Round2(invested),
		},
	})
}

// tradeSummary returns aggregate performance stats with the best and
// worst single trade.
func (s *Server) tradeSummary(c *gin.Context) {
	trades, err := s.trades.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load trade log: %v", err)
		return
	}

	if len(trades) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"summary": gin.H{
				"total_trades":   0,
				"winning_trades": 0,
				"losing_trades":  0,
				"win_rate":       0.0,
				"net_pnl":        0.0,
				"net_pnl_pct":    0.0,
				"avg_pnl":        0.0,
				"best_trade":     nil,
				"worst_trade":    nil,
			},
		})
		return
	}

	winning, losing, netPnL, invested := tradeTotals(trades)
	best, worst := 0, 0
	for i, t := range trades {
		if t.PnL > trades[best].PnL {
			best = i
		}
		if t.PnL < trades[worst].PnL {
			worst = i
		}
	}
	netPnLPct := 0.0
	if invested > 0 {
		netPnLPct = model.Round2(netPnL / invested * 100)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"summary": gin.H{
			"total_trades":   len(trades),
			"winning_trades": winning,
			"losing_trades":  losing,
			"win_rate":       round1(float64(winning) / float64(len(trades)) * 100),
			"net_pnl":        model.Round2(netPnL),
			"net_pnl_pct":    netPnLPct,
			"avg_pnl":        model.Round2(netPnL / float64(len(trades))),
			"best_trade":     trades[best],
			"worst_trade":    trades[worst],
		},
	})
}
