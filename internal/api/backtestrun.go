package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/backtest"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// runBacktest serves the trend-persistence backtest for one symbol.
func (s *Server) runBacktest(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}
	years, err := strconv.Atoi(c.DefaultQuery("years", "20"))
	if err != nil || years < 0 {
		fail(c, http.StatusBadRequest, "years must be a non-negative integer")
		return
	}
	pct, err := strconv.ParseFloat(c.DefaultQuery("up_candle_pct", "1.0"), 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "up_candle_pct must be a number")
		return
	}

	key := model.FallbackInstrumentKey(symbol)
	if rec, ok, err := s.watchlist.Find(symbol); err == nil && ok && rec.InstrumentKey != "" {
		key = rec.InstrumentKey
	} else if s.refs != nil {
		key, _ = s.refs.Resolve(symbol)
	}

	report, err := s.backtester.Run(c.Request.Context(), key, years, pct)
	switch {
	case errors.Is(err, backtest.ErrNoHistory):
		fail(c, http.StatusNotFound, "no historical data found for %s", symbol)
		return
	case err != nil:
		fail(c, http.StatusBadGateway, "backtest %s: %v", symbol, err)
		return
	}
	s.metrics.BacktestRunInc()

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"symbol":          symbol,
		"years":           years,
		"up_candle_pct":   pct,
		"sessions":        report.Sessions,
		"total_setups":    report.TotalSetups,
		"overall_success": report.OverallSuccess,
		"periods":         report.Periods,
	})
}
