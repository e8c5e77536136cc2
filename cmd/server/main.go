// cmd/server runs the stock screener backend: watchlist refresh engine,
// screener API, order placement and the scheduled market-hours refresh
// loop, all behind one HTTP server.
//
// Usage:
//
//	go run ./cmd/server -config config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anuraggoyal1/stock-screener/config"
	"github.com/anuraggoyal1/stock-screener/internal/api"
	"github.com/anuraggoyal1/stock-screener/internal/backtest"
	"github.com/anuraggoyal1/stock-screener/internal/instruments"
	"github.com/anuraggoyal1/stock-screener/internal/journal"
	"github.com/anuraggoyal1/stock-screener/internal/logger"
	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
	"github.com/anuraggoyal1/stock-screener/internal/notification"
	"github.com/anuraggoyal1/stock-screener/internal/quotecache"
	"github.com/anuraggoyal1/stock-screener/internal/refresh"
	"github.com/anuraggoyal1/stock-screener/internal/scheduler"
	"github.com/anuraggoyal1/stock-screener/internal/store"
	"github.com/anuraggoyal1/stock-screener/internal/upstox"
	"github.com/anuraggoyal1/stock-screener/internal/zerodha"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger.Init("stock-screener", logger.ParseLevel(cfg.App.LogLevel))
	slog.Info("starting", "config", *configPath, "data_dir", cfg.App.DataDir)

	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		slog.Error("data dir create failed", "dir", cfg.App.DataDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics and health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ---- Reference data and CSV stores ----
	refs, err := instruments.Load(cfg.InstrumentsJSON())
	if err != nil {
		slog.Error("instruments load failed", "error", err)
		os.Exit(1)
	}

	master := store.NewMaster(cfg.MasterCSV())
	positions := store.NewPositions(cfg.PositionsCSV())
	trades := store.NewTradeLog(cfg.TradeLogCSV())

	if records, err := master.All(); err == nil {
		health.SetWatchlistSize(len(records))
		prom.WatchlistSize.Set(float64(len(records)))
	}

	// ---- Optional Redis quote cache ----
	// A nil cache is a working no-op, so a missing or unreachable Redis
	// only costs the caching, never the service.
	var cache *quotecache.Cache
	if cfg.Redis.Addr != "" {
		cache, err = quotecache.New(quotecache.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}, prom)
		if err != nil {
			slog.Warn("redis unavailable, continuing without quote cache", "addr", cfg.Redis.Addr, "error", err)
		}
	}
	health.SetRedisConnected(cache != nil)

	// ---- Refresh cycle journal ----
	jour, err := journal.New(cfg.Journal.Path)
	if err != nil {
		slog.Warn("journal unavailable, refresh history disabled", "path", cfg.Journal.Path, "error", err)
	}
	health.SetJournalOK(jour != nil)

	health.StartLivenessChecker(ctx, cache.Client(), jour.DB(), 10*time.Second)

	// ---- Provider and broker clients ----
	provider := upstox.NewClient(upstox.Config{
		APIKey:      cfg.Upstox.APIKey,
		APISecret:   cfg.Upstox.APISecret,
		RedirectURI: cfg.Upstox.RedirectURI,
		AccessToken: cfg.Upstox.AccessToken,
		Metrics:     prom,
	})
	health.SetUpstoxConfigured(provider.Configured())

	broker := zerodha.NewClient(zerodha.Config{
		APIKey:      cfg.Zerodha.APIKey,
		APISecret:   cfg.Zerodha.APISecret,
		AccessToken: cfg.Zerodha.AccessToken,
		UserID:      cfg.Zerodha.UserID,
		Password:    cfg.Zerodha.Password,
		TOTPSecret:  cfg.Zerodha.TOTPSecret,
		Metrics:     prom,
	})

	notifier := notification.FromConfig(cfg.Notify.WebhookURL, cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID)

	// ---- Refresh service and API server ----
	refresher := refresh.NewService(refresh.Config{
		Store:    master,
		Data:     provider,
		Cache:    cache,
		Journal:  jour,
		Notifier: notifier,
		Metrics:  prom,
		Band:     refresh.Band{MinPct: cfg.Screener.L5OpenMinPct, MaxPct: cfg.Screener.L5OpenMaxPct},
	})

	srv := api.New(api.Config{
		Cfg:        cfg,
		Watchlist:  master,
		Positions:  positions,
		Trades:     trades,
		Refresher:  refresher,
		Backtester: backtest.New(provider),
		Data:       provider,
		Broker:     broker,
		Upstox:     provider,
		Kite:       broker,
		Cache:      cache,
		Journal:    jour,
		Refs:       refs,
		Metrics:    prom,
		Health:     health,
	})

	hub := srv.Hub()
	refresher.SetProgressFunc(func(ev refresh.Progress) {
		hub.Broadcast(ev)
		if ev.Type == refresh.EventRefreshDone {
			health.SetLastRefreshAt(time.Now())
			health.SetWatchlistSize(ev.Total)
		}
	})

	// ---- Scheduled refresh loop ----
	sched := scheduler.New(scheduler.Config{
		IntervalMinutes: cfg.Scheduler.UpdateIntervalMinutes,
		MarketOpen:      cfg.Scheduler.MarketOpen,
		MarketClose:     cfg.Scheduler.MarketClose,
	}, func(ctx context.Context) error {
		_, err := refresher.RefreshAll(ctx, model.TriggerScheduled)
		return err
	})
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{Addr: cfg.Addr(), Handler: srv.Router()}
	go func() {
		slog.Info("http server listening", "addr", cfg.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	jour.Close()
	cache.Close()
	slog.Info("shutdown complete")
}
