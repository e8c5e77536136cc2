// Package scheduler drives periodic watchlist refreshes during market
// hours. Runs outside the configured IST window, on weekends or on NSE
// holidays are skipped; a cycle already in flight is skipped too.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anuraggoyal1/stock-screener/internal/markethours"
	"github.com/anuraggoyal1/stock-screener/internal/refresh"
)

const defaultIntervalMinutes = 15

// RunFunc executes one scheduled refresh cycle.
type RunFunc func(ctx context.Context) error

// Config sets the cadence and the market window gate.
type Config struct {
	IntervalMinutes int
	MarketOpen      string // HH:MM IST
	MarketClose     string // HH:MM IST
}

// Scheduler owns the cron loop. Start and Stop are called once each by
// the process lifecycle.
type Scheduler struct {
	cron     *cron.Cron
	interval int
	open     string
	close    string
	run      RunFunc
	now      func() time.Time
}

func New(cfg Config, run RunFunc) *Scheduler {
	interval := cfg.IntervalMinutes
	if interval <= 0 {
		interval = defaultIntervalMinutes
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(markethours.IST)),
		interval: interval,
		open:     cfg.MarketOpen,
		close:    cfg.MarketClose,
		run:      run,
		now:      markethours.Now,
	}
}

// Start registers the refresh job and launches the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dm", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}
	s.cron.Start()
	slog.Info("scheduler started", "interval_minutes", s.interval, "window", s.open+"-"+s.close)
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// NextRun returns when the next tick fires, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if !s.shouldRun(now) {
		slog.Debug("scheduled refresh skipped outside market window", "at", now.In(markethours.IST).Format("2006-01-02 15:04"))
		return
	}
	if err := s.run(ctx); err != nil {
		if errors.Is(err, refresh.ErrRefreshInProgress) {
			slog.Info("scheduled refresh skipped, cycle already running")
			return
		}
		slog.Error("scheduled refresh failed", "error", err)
	}
}

func (s *Scheduler) shouldRun(t time.Time) bool {
	return markethours.IsTradingDay(t) && markethours.WithinWindow(t, s.open, s.close)
}
