package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/screener"
)

// screen serves the filtered watchlist view. Every filter is optional;
// with none set the whole annotated watchlist comes back.
func (s *Server) screen(c *gin.Context) {
	f := screener.Filter{
		Group:         c.Query("group"),
		CPGtEMA10:     queryBool(c, "cp_gt_ema10"),
		EMA10GtEMA20:  queryBool(c, "ema10_gt_ema20"),
		EMAComparison: strings.TrimSpace(c.Query("ema_comparison")),
	}

	var err error
	if f.NearATHPct, err = queryFloat(c, "near_ath_pct"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.CPGtATHPct, err = queryFloat(c, "cp_gt_ath_pct"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.MinCP, err = queryFloat(c, "min_cp"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.MaxCP, err = queryFloat(c, "max_cp"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.PrevChangeGt, err = queryFloat(c, "prev_change_gt"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.PrevChangeLt, err = queryFloat(c, "prev_change_lt"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.TodayChangeGt, err = queryFloat(c, "today_change_gt"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}
	if f.TodayChangeLt, err = queryFloat(c, "today_change_lt"); err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}

	recs, err := s.watchlist.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "load watchlist: %v", err)
		return
	}

	rows, total := screener.Apply(recs, f)
	if rows == nil {
		rows = []screener.Row{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   rows,
		"count":  len(rows),
		"total":  total,
	})
}
