package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"TrendScan/internal/backtest"
	"TrendScan/internal/channel"
	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	"TrendScan/internal/ingest"
	"TrendScan/internal/loader"
	internalrepo "TrendScan/internal/repository"
	"TrendScan/pkg/cache"
	"TrendScan/pkg/config"
	"TrendScan/pkg/logger"
)

// fakeSource serves per-symbol canned history and can fail selected symbols.
type fakeSource struct {
	mu      sync.Mutex
	bars    map[string][]models.Bar
	failing map[string]error
}

func (f *fakeSource) FetchBars(_ context.Context, symbol string, _ drepo.Timeframe, _, _ time.Time) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[symbol]; ok {
		return nil, err
	}
	return f.bars[symbol], nil
}

func (f *fakeSource) Health(context.Context) error { return nil }

type fakePrimary struct {
	mu        sync.Mutex
	committed *models.IngestionBatch
}

func (f *fakePrimary) Init(context.Context) error { return nil }

func (f *fakePrimary) StoreBars(context.Context, []models.Bar) error { return nil }

func (f *fakePrimary) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakePrimary) Health(context.Context) error { return nil }

func (f *fakePrimary) Close() error { return nil }

func (f *fakePrimary) CommitBatch(_ context.Context, batch *models.IngestionBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = batch
	return nil
}

func (f *fakePrimary) LatestBatch(context.Context) (*models.IngestionBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func history(symbol string, n int, seed int64) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]models.Bar, n)
	t0 := time.Now().UTC().AddDate(0, 0, -n)
	logP := math.Log(100.0)
	for i := 0; i < n; i++ {
		logP += 0.0005 + 0.015*rng.NormFloat64()
		close := math.Exp(logP)
		bars[i] = models.Bar{
			Symbol: symbol, Timeframe: "1d", Timestamp: t0.AddDate(0, 0, i),
			Open: close, High: close * 1.01, Low: close * 0.99, Close: close, Volume: 1,
		}
	}
	return bars
}

func testConfig(symbols ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Scanner.Symbols = symbols
	cfg.Scanner.Timeframe = "1d"
	cfg.Scanner.Days = 365
	cfg.Scanner.MinBars = 50
	cfg.Scanner.MaxWorkers = 2
	cfg.Scanner.RunDeadline = time.Minute
	cfg.Channel.Degree = 3
	cfg.Channel.KStd = 2.0
	cfg.Channel.Lookback = 150
	cfg.Channel.BandClamp = 2.0
	cfg.Channel.MaxCoefficient = 1e10
	return cfg
}

func newScanner(t *testing.T, cfg *config.Config, source *fakeSource, primary *fakePrimary) *Scanner {
	log := testLogger(t)
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	ld := loader.New(source, internalrepo.NewBarCacheStore(mem), nil, log,
		loader.WithMinBars(cfg.Scanner.MinBars),
		loader.WithHistoryDays(cfg.Scanner.Days))
	fitter := channel.NewFitter(cfg.Channel.MaxCoefficient, cfg.Channel.BandClamp)
	sim := backtest.New(fitter, backtest.Costs{FeePct: 0.1}, 5)
	pipe := ingest.New(primary, cfg.RecordValidator(), log)
	return New(cfg, ld, fitter, nil, sim, pipe, log, nil)
}

func TestRunPartialFailureIsolated(t *testing.T) {
	cfg := testConfig("AAA-USD", "BBB-USD", "CCC-USD")
	source := &fakeSource{
		bars: map[string][]models.Bar{
			"AAA-USD": history("AAA-USD", 200, 1),
			"CCC-USD": history("CCC-USD", 200, 2),
		},
		failing: map[string]error{
			"BBB-USD": fmt.Errorf("upstream 502"),
		},
	}
	primary := &fakePrimary{}
	s := newScanner(t, cfg, source, primary)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("succeeded = %d, want 2", summary.Succeeded)
	}
	if summary.Failed != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed)
	}
	if _, ok := summary.Failures["BBB-USD"]; !ok {
		t.Fatalf("missing failure reason for BBB-USD: %v", summary.Failures)
	}
	if primary.committed == nil || len(primary.committed.Records) != 2 {
		t.Fatal("committed batch should hold the two surviving records")
	}
	if summary.BatchID == "" {
		t.Fatal("summary missing batch id")
	}
}

func TestRunInsufficientDataDegradesToHold(t *testing.T) {
	cfg := testConfig("AAA-USD", "NEW-USD")
	short := history("NEW-USD", 10, 4) // below min_bars
	source := &fakeSource{
		bars: map[string][]models.Bar{
			"AAA-USD": history("AAA-USD", 200, 3),
			"NEW-USD": short,
		},
	}
	primary := &fakePrimary{}
	s := newScanner(t, cfg, source, primary)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("succeeded/skipped/failed = %d/%d/%d, want 2/0/0",
			summary.Succeeded, summary.Skipped, summary.Failed)
	}
	if len(primary.committed.Records) != 2 {
		t.Fatalf("committed %d records, want 2", len(primary.committed.Records))
	}
	var rec *models.ResultRecord
	for i := range primary.committed.Records {
		if primary.committed.Records[i].Symbol == "NEW-USD" {
			rec = &primary.committed.Records[i]
		}
	}
	if rec == nil {
		t.Fatal("short-history symbol missing from the batch")
	}
	if rec.Signal != models.SignalHold {
		t.Fatalf("signal = %s, want HOLD", rec.Signal)
	}
	if want := short[len(short)-1].Close; rec.CurrentPrice != want {
		t.Fatalf("price = %.4f, want last close %.4f", rec.CurrentPrice, want)
	}
	// the run summary still explains the degradation
	if reason := summary.Failures["NEW-USD"]; reason == "" {
		t.Fatalf("missing degradation reason for NEW-USD: %v", summary.Failures)
	}
}

func TestRunNoHistorySkips(t *testing.T) {
	cfg := testConfig("AAA-USD", "EMPTY-USD")
	source := &fakeSource{
		bars: map[string][]models.Bar{
			"AAA-USD": history("AAA-USD", 200, 3),
		},
	}
	primary := &fakePrimary{}
	s := newScanner(t, cfg, source, primary)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", summary.Skipped)
	}
	if len(primary.committed.Records) != 1 {
		t.Fatalf("committed %d records, want 1", len(primary.committed.Records))
	}
}

func TestRunZeroValidResults(t *testing.T) {
	cfg := testConfig("AAA-USD", "BBB-USD")
	source := &fakeSource{
		failing: map[string]error{
			"AAA-USD": fmt.Errorf("down"),
			"BBB-USD": fmt.Errorf("down"),
		},
	}
	primary := &fakePrimary{}
	s := newScanner(t, cfg, source, primary)

	summary, err := s.Run(context.Background())
	if !errors.Is(err, ErrNoValidResults) {
		t.Fatalf("want ErrNoValidResults, got %v", err)
	}
	if summary.Failed != 2 {
		t.Fatalf("failed = %d, want 2", summary.Failed)
	}
	if primary.committed != nil {
		t.Fatal("nothing should be committed on a dead run")
	}
}

func TestRunDeadlineSkipsUnstarted(t *testing.T) {
	cfg := testConfig("AAA-USD", "BBB-USD", "CCC-USD")
	cfg.Scanner.MaxWorkers = 1
	source := &fakeSource{
		bars: map[string][]models.Bar{
			"AAA-USD": history("AAA-USD", 200, 5),
			"BBB-USD": history("BBB-USD", 200, 6),
			"CCC-USD": history("CCC-USD", 200, 7),
		},
	}
	primary := &fakePrimary{}
	s := newScanner(t, cfg, source, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // deadline already passed before any work starts
	cfg.Scanner.RunDeadline = 0

	summary, err := s.Run(ctx)
	// either no symbol completed, or a worker won the race for the first job
	if err != nil && !errors.Is(err, ErrNoValidResults) {
		t.Fatalf("unexpected error: %v", err)
	}
	total := summary.Succeeded + summary.Failed + summary.Skipped
	if total != 3 {
		t.Fatalf("accounted for %d symbols, want 3", total)
	}
	if summary.Skipped == 0 {
		t.Fatal("expected at least one symbol skipped on an expired run")
	}
}
