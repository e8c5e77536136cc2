// Package api exposes the screener over HTTP: watchlist CRUD, refresh
// triggers with a websocket progress feed, the filtered screener view,
// positions and broker orders, the trade log, provider/broker auth
// flows and the trend-persistence backtest.
package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/config"
	"github.com/anuraggoyal1/stock-screener/internal/backtest"
	"github.com/anuraggoyal1/stock-screener/internal/instruments"
	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
	"github.com/anuraggoyal1/stock-screener/internal/refresh"
	"github.com/anuraggoyal1/stock-screener/internal/upstox"
	"github.com/anuraggoyal1/stock-screener/internal/zerodha"
)

const timeLayout = "2006-01-02 15:04:05"

// Config wires a Server. Watchlist, Positions and Trades are required;
// optional collaborators (cache, journal, metrics, health, auth
// clients) are skipped when nil.
type Config struct {
	Cfg        *config.Config
	Watchlist  model.WatchlistStore
	Positions  PositionStore
	Trades     TradeStore
	Refresher  *refresh.Service
	Backtester *backtest.Engine
	Data       model.MarketData
	Broker     model.Broker
	Upstox     *upstox.Client
	Kite       *zerodha.Client
	Cache      model.QuoteCache
	Journal    model.CycleJournal
	Refs       *instruments.Table
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// PositionStore is the open-positions collection the API reads and writes.
type PositionStore interface {
	All() ([]model.Position, error)
	Find(symbol string) (model.Position, bool, error)
	Add(p model.Position) error
	Delete(symbol string) (bool, error)
}

// TradeStore is the append-only completed-trades log.
type TradeStore interface {
	All() ([]model.Trade, error)
	Add(t model.Trade) error
}

// Server holds the handler set and the websocket progress hub.
type Server struct {
	cfg        *config.Config
	watchlist  model.WatchlistStore
	positions  PositionStore
	trades     TradeStore
	refresher  *refresh.Service
	backtester *backtest.Engine
	data       model.MarketData
	broker     model.Broker
	upstox     *upstox.Client
	kite       *zerodha.Client
	cache      model.QuoteCache
	journal    model.CycleJournal
	refs       *instruments.Table
	metrics    *metrics.Metrics
	health     *metrics.HealthStatus
	hub        *Hub

	now func() time.Time
}

// New builds the API server. The returned Server's Hub must be wired to
// the refresh service's progress callback by the caller.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		cfg:        cfg.Cfg,
		watchlist:  cfg.Watchlist,
		positions:  cfg.Positions,
		trades:     cfg.Trades,
		refresher:  cfg.Refresher,
		backtester: cfg.Backtester,
		data:       cfg.Data,
		broker:     cfg.Broker,
		upstox:     cfg.Upstox,
		kite:       cfg.Kite,
		cache:      cfg.Cache,
		journal:    cfg.Journal,
		refs:       cfg.Refs,
		metrics:    cfg.Metrics,
		health:     cfg.Health,
		hub:        NewHub(cfg.Metrics),
		now:        markethours.Now,
	}
}

// Hub returns the websocket progress hub for broadcast wiring.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router assembles the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.trace(), s.instrument(), s.cors())

	r.GET("/", s.banner)
	if s.health != nil {
		r.GET("/health", gin.WrapH(s.health))
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")

	master := api.Group("/master")
	{
		master.GET("", s.listWatchlist)
		master.POST("", s.addStock)
		master.GET("/groups", s.listGroups)
		master.POST("/refresh", s.refreshAll)
		master.GET("/refresh/history", s.refreshHistory)
		master.GET("/refresh/stream", s.streamRefresh)
		master.GET("/:symbol", s.getStock)
		master.PUT("/:symbol", s.updateStock)
		master.DELETE("/:symbol", s.deleteStock)
		master.POST("/:symbol/refresh", s.refreshOne)
		master.POST("/:symbol/ath-from-history", s.refreshATH)
	}

	api.GET("/screener", s.screen)

	positions := api.Group("/positions")
	{
		positions.GET("", s.listPositions)
		positions.POST("", s.addPosition)
		positions.DELETE("/:symbol", s.deletePosition)
	}

	orders := api.Group("/orders")
	{
		orders.POST("/buy", s.buy)
		orders.POST("/sell", s.sell)
	}

	tradelog := api.Group("/tradelog")
	{
		tradelog.GET("", s.listTrades)
		tradelog.GET("/summary", s.tradeSummary)
	}

	auth := api.Group("/upstox")
	{
		auth.GET("/auth-url", s.upstoxAuthURL)
		auth.GET("/exchange-token", s.upstoxExchangeToken)
		auth.POST("/save-token", s.upstoxSaveToken)
	}

	kite := api.Group("/zerodha")
	{
		kite.POST("/login", s.kiteLogin)
		kite.POST("/session", s.kiteSession)
	}

	api.GET("/backtest/run", s.runBacktest)

	return r
}

func (s *Server) banner(c *gin.Context) {
	c.JSON(200, gin.H{
		"app":     "stock-screener",
		"version": "1.0.0",
		"market":  markethours.StatusString(s.now()),
		"endpoints": gin.H{
			"master":    "/api/master",
			"screener":  "/api/screener",
			"positions": "/api/positions",
			"orders":    "/api/orders",
			"tradelog":  "/api/tradelog",
			"backtest":  "/api/backtest/run",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

// fail writes the error envelope shared by every endpoint.
func fail(c *gin.Context, code int, format string, args ...any) {
	c.AbortWithStatusJSON(code, gin.H{
		"status": "error",
		"detail": fmt.Sprintf(format, args...),
	})
}

// queryFloat parses an optional float query parameter. A present but
// malformed value is reported so filters never fail silently.
func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number, got %q", name, raw)
	}
	return &v, nil
}

// queryBool parses an optional boolean query parameter, true only when
// explicitly set to a truthy value.
func queryBool(c *gin.Context, name string) bool {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
