// cmd/backtest runs the trend-persistence study for one instrument from
// the command line, without the HTTP server.
//
// Usage:
//
//	go run ./cmd/backtest -symbol RELIANCE -years 10 -pct 1.5
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anuraggoyal1/stock-screener/config"
	"github.com/anuraggoyal1/stock-screener/internal/backtest"
	"github.com/anuraggoyal1/stock-screener/internal/instruments"
	"github.com/anuraggoyal1/stock-screener/internal/logger"
	"github.com/anuraggoyal1/stock-screener/internal/upstox"
)

func main() {
	symbol := flag.String("symbol", "", "Trading symbol to study (required)")
	years := flag.Int("years", backtest.DefaultYears, "Years of daily history to fetch")
	pct := flag.Float64("pct", backtest.DefaultUpCandlePct, "Open→close gain (percent) that makes a session a setup")
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	if strings.TrimSpace(*symbol) == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -symbol SYMBOL [-years N] [-pct X] [-config FILE]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Warnings only; the report goes to stdout.
	logger.Init("backtest", logger.ParseLevel("warn"))

	refs, err := instruments.Load(cfg.InstrumentsJSON())
	if err != nil {
		fmt.Fprintf(os.Stderr, "instruments: %v\n", err)
		os.Exit(1)
	}
	key, name := refs.Resolve(*symbol)

	provider := upstox.NewClient(upstox.Config{
		APIKey:      cfg.Upstox.APIKey,
		APISecret:   cfg.Upstox.APISecret,
		RedirectURI: cfg.Upstox.RedirectURI,
		AccessToken: cfg.Upstox.AccessToken,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := backtest.New(provider).Run(ctx, key, *years, *pct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}

	printReport(strings.ToUpper(strings.TrimSpace(*symbol)), name, key, *years, *pct, report)
}

func printReport(symbol, name, key string, years int, pct float64, rep backtest.Report) {
	title := symbol
	if name != "" && name != symbol {
		title = fmt.Sprintf("%s (%s)", symbol, name)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Printf("║  TREND PERSISTENCE  %-33s ║\n", trim(title, 33))
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	fmt.Printf("║  Instrument:      %-35s ║\n", trim(key, 35))
	fmt.Printf("║  History:         %-35s ║\n", fmt.Sprintf("%d sessions (%d years requested)", rep.Sessions, years))
	fmt.Printf("║  Setup threshold: %-35s ║\n", fmt.Sprintf("open→close gain >= %.2f%%", pct))
	fmt.Printf("║  Trend periods:   %-35d ║\n", len(rep.Periods))
	fmt.Printf("║  Total setups:    %-35d ║\n", rep.TotalSetups)
	fmt.Println("╠══════════════════════════════════════════════════════╣")

	reversed := 0
	for off := 1; off <= 5; off++ {
		n := rep.OverallSuccess[off]
		reversed += n
		fmt.Printf("║  Reversed on day %d: %-33s ║\n", off, fmt.Sprintf("%5d  (%s)", n, share(n, rep.TotalSetups)))
	}
	held := rep.TotalSetups - reversed
	fmt.Printf("║  Held for 5+ days:  %-33s ║\n", fmt.Sprintf("%5d  (%s)", held, share(held, rep.TotalSetups)))
	fmt.Println("╚══════════════════════════════════════════════════════╝")

	if len(rep.Periods) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Most recent trend periods:")
	start := len(rep.Periods) - 5
	if start < 0 {
		start = 0
	}
	for _, p := range rep.Periods[start:] {
		fmt.Printf("  %s to %s  setups=%d\n", p.Start, p.End, p.Setups)
	}
}

func share(n, total int) string {
	if total == 0 {
		return "  n/a"
	}
	return fmt.Sprintf("%5.1f%%", float64(n)/float64(total)*100)
}

func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
