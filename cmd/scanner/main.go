package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"TrendScan/internal/di"
	"TrendScan/internal/domain/models"
	"TrendScan/internal/output"
	"TrendScan/internal/scanner"
	"TrendScan/pkg/config"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitZeroResults = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	symbols := flag.String("symbols", "", "comma-separated symbols (overrides config)")
	timeframe := flag.String("timeframe", "", "bar timeframe: 1d, 4h, 1h or 15m")
	days := flag.Int("days", 0, "history depth in days")
	degree := flag.Int("degree", 0, "polynomial degree")
	kstd := flag.Float64("kstd", 0, "band width in residual stddevs")
	optimize := flag.Bool("optimize", false, "run the parameter optimizer")
	maxTrials := flag.Int("max-trials", 0, "optimizer trial budget")
	outFormat := flag.String("output", "csv", "report format: csv, json or both")
	outDir := flag.String("out-dir", "results", "report output directory")
	serve := flag.Bool("serve", false, "run as a daemon with the ops HTTP server")
	flag.Parse()

	// .env is optional; env overrides are applied by LoadWithEnv
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitFatal
	}
	if err := applyFlags(cfg, *symbols, *timeframe, *days, *degree, *kstd, *optimize, *maxTrials); err != nil {
		log.Printf("invalid flags: %v", err)
		return exitFatal
	}

	format, err := output.ParseFormat(*outFormat)
	if err != nil {
		log.Printf("%v", err)
		return exitFatal
	}

	if *serve {
		return serveMode(cfg)
	}
	return scanOnce(cfg, format, *outDir)
}

func serveMode(cfg *config.Config) int {
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return exitFatal
	}
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		return exitFatal
	}
	return exitOK
}

func scanOnce(cfg *config.Config, format output.Format, outDir string) int {
	rt, err := di.InitializeRuntime(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return exitFatal
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := rt.Scanner.Run(ctx)
	if err != nil {
		if errors.Is(err, scanner.ErrNoValidResults) {
			printSummary(summary)
			return exitZeroResults
		}
		log.Printf("scan failed: %v", err)
		printSummary(summary)
		return exitFatal
	}

	batch, err := rt.Store.LatestBatch(ctx)
	if err != nil || batch == nil {
		log.Printf("cannot read back committed batch: %v", err)
		printSummary(summary)
		return exitOK
	}

	writer := output.NewWriter(outDir)
	paths, err := writer.Write(batch, format)
	if err != nil {
		log.Printf("report write failed: %v", err)
	}
	for _, p := range paths {
		fmt.Printf("wrote %s\n", p)
	}
	printSummary(summary)
	return exitOK
}

func applyFlags(cfg *config.Config, symbols, timeframe string, days, degree int, kstd float64, optimize bool, maxTrials int) error {
	if symbols != "" && !strings.EqualFold(symbols, "ALL") {
		cfg.Scanner.Symbols = splitSymbols(symbols)
	}
	if timeframe != "" {
		cfg.Scanner.Timeframe = timeframe
	}
	if days > 0 {
		cfg.Scanner.Days = days
	}
	if degree > 0 {
		cfg.Channel.Degree = degree
	}
	if kstd > 0 {
		cfg.Channel.KStd = kstd
	}
	if optimize {
		cfg.Optimizer.Enabled = true
		if len(cfg.Optimizer.MajorSymbols) == 0 {
			cfg.Optimizer.MajorSymbols = []string{"*"}
		}
	}
	if maxTrials > 0 {
		cfg.Optimizer.MaxTrials = maxTrials
	}
	return cfg.Validate()
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func printSummary(s *models.RunSummary) {
	if s == nil {
		return
	}
	fmt.Printf("scan summary: succeeded=%d failed=%d skipped=%d degraded=%v duration=%s\n",
		s.Succeeded, s.Failed, s.Skipped, s.Degraded, s.Duration.Round(time.Millisecond))
	for sym, reason := range s.Failures {
		fmt.Printf("  %s: %s\n", sym, reason)
	}
}
