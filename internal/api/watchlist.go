package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/model"
	"github.com/anuraggoyal1/stock-screener/internal/refresh"
)

func (s *Server) listWatchlist(c *gin.Context) {
	recs, err := s.watchlist.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load watchlist: %v", err)
		return
	}
	if group := c.Query("group"); group != "" {
		kept := recs[:0]
		for _, r := range recs {
			if strings.EqualFold(r.Group, group) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if recs == nil {
		recs = []model.WatchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": recs, "count": len(recs)})
}

func (s *Server) listGroups(c *gin.Context) {
	recs, err := s.watchlist.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load watchlist: %v", err)
		return
	}
	seen := make(map[string]bool)
	groups := []string{}
	for _, r := range recs {
		if r.Group == "" || seen[r.Group] {
			continue
		}
		seen[r.Group] = true
		groups = append(groups, r.Group)
	}
	sort.Strings(groups)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": groups})
}

func (s *Server) getStock(c *gin.Context) {
	symbol := c.Param("symbol")
	rec, ok, err := s.watchlist.Find(symbol)
	if err != nil {
		fail(c, http.StatusInternalServerError, "load watchlist: %v", err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "stock %s not found", symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": rec})
}

func (s *Server) addStock(c *gin.Context) {
	var req struct {
		Group         string `json:"group"`
		StockName     string `json:"stock_name"`
		TradingSymbol string `json:"trading_symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.TradingSymbol))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "trading_symbol is required")
		return
	}

	if _, exists, err := s.watchlist.Find(symbol); err != nil {
		fail(c, http.StatusInternalServerError, "load watchlist: %v", err)
		return
	} else if exists {
		fail(c, http.StatusConflict, "stock %s already exists", symbol)
		return
	}

	// Reference file name wins, then the caller's, then the symbol.
	key, name := model.FallbackInstrumentKey(symbol), ""
	if s.refs != nil {
		if inst, ok := s.refs.Lookup(symbol); ok {
			key, name = inst.InstrumentKey, inst.Name
		}
	}
	if name == "" {
		name = strings.TrimSpace(req.StockName)
	}
	if name == "" {
		name = symbol
	}

	rec := model.WatchRecord{
		Group:         strings.TrimSpace(req.Group),
		StockName:     name,
		TradingSymbol: symbol,
		InstrumentKey: key,
		LastUpdated:   s.now().Format(timeLayout),
	}
	if err := s.watchlist.Add(rec); err != nil {
		fail(c, http.StatusInternalServerError, "save watchlist: %v", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"data":    rec,
		"message": "Stock " + symbol + " added",
	})
}

func (s *Server) updateStock(c *gin.Context) {
	symbol := c.Param("symbol")
	var req struct {
		Group     *string  `json:"group"`
		StockName *string  `json:"stock_name"`
		ATH       *float64 `json:"ath"`
		CP        *float64 `json:"cp"`
		EMA5      *float64 `json:"ema5"`
		EMA10     *float64 `json:"ema10"`
		EMA20     *float64 `json:"ema20"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Group == nil && req.StockName == nil && req.ATH == nil &&
		req.CP == nil && req.EMA5 == nil && req.EMA10 == nil && req.EMA20 == nil {
		fail(c, http.StatusBadRequest, "no updates provided")
		return
	}

	updated, ok, err := s.watchlist.Update(symbol, func(r *model.WatchRecord) {
		if req.Group != nil {
			r.Group = *req.Group
		}
		if req.StockName != nil {
			r.StockName = *req.StockName
		}
		if req.ATH != nil {
			r.ATH = *req.ATH
		}
		if req.CP != nil {
			r.CP = *req.CP
		}
		if req.EMA5 != nil {
			r.EMA5 = *req.EMA5
		}
		if req.EMA10 != nil {
			r.EMA10 = *req.EMA10
		}
		if req.EMA20 != nil {
			r.EMA20 = *req.EMA20
		}
		r.Sanitize()
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "save watchlist: %v", err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "stock %s not found", symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    updated,
		"message": "Stock " + updated.TradingSymbol + " updated",
	})
}

func (s *Server) deleteStock(c *gin.Context) {
	symbol := c.Param("symbol")
	removed, err := s.watchlist.Delete(symbol)
	if err != nil {
		fail(c, http.StatusInternalServerError, "save watchlist: %v", err)
		return
	}
	if !removed {
		fail(c, http.StatusNotFound, "stock %s not found", symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Stock " + strings.ToUpper(symbol) + " removed",
	})
}

// ── Refresh triggers ──

func (s *Server) refreshAll(c *gin.Context) {
	report, err := s.refresher.RefreshAll(c.Request.Context(), model.TriggerManual)
	if errors.Is(err, refresh.ErrRefreshInProgress) {
		fail(c, http.StatusConflict, "a refresh cycle is already running")
		return
	}
	body := gin.H{
		"status":    "success",
		"message":   "Refreshed " + strconv.Itoa(report.Refreshed) + "/" + strconv.Itoa(report.Total) + " stocks",
		"refreshed": report.Refreshed,
		"total":     report.Total,
		"errors":    report.Errors,
	}
	if err != nil {
		// Context cancellation: the partial cycle is persisted.
		body["detail"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) refreshOne(c *gin.Context) {
	symbol := c.Param("symbol")
	rec, err := s.refresher.RefreshOne(c.Request.Context(), symbol)
	switch {
	case errors.Is(err, refresh.ErrRefreshInProgress):
		fail(c, http.StatusConflict, "a refresh cycle is already running")
		return
	case errors.Is(err, refresh.ErrNotFound):
		fail(c, http.StatusNotFound, "stock %s not found", symbol)
		return
	case err != nil:
		fail(c, http.StatusBadGateway, "refresh %s: %v", symbol, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    rec,
		"message": "Stock " + rec.TradingSymbol + " refreshed",
	})
}

func (s *Server) refreshATH(c *gin.Context) {
	symbol := c.Param("symbol")
	years, err := strconv.Atoi(c.DefaultQuery("years", "10"))
	if err != nil || years < 0 {
		fail(c, http.StatusBadRequest, "years must be a non-negative integer")
		return
	}
	rec, err := s.refresher.RefreshATH(c.Request.Context(), symbol, years)
	switch {
	case errors.Is(err, refresh.ErrRefreshInProgress):
		fail(c, http.StatusConflict, "a refresh cycle is already running")
		return
	case errors.Is(err, refresh.ErrNotFound):
		fail(c, http.StatusNotFound, "stock %s not found", symbol)
		return
	case err != nil:
		fail(c, http.StatusBadGateway, "reseed ATH for %s: %v", symbol, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    rec,
		"message": "ATH reseeded for " + rec.TradingSymbol,
	})
}

func (s *Server) refreshHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": []model.RefreshCycle{}, "count": 0})
		return
	}
	cycles, err := s.journal.History(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "load journal: %v", err)
		return
	}
	if cycles == nil {
		cycles = []model.RefreshCycle{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": cycles, "count": len(cycles)})
}
