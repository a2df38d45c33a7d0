package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"TrendScan/internal/domain/models"
	"TrendScan/pkg/config"
	"TrendScan/pkg/logger"
)

// fakePrimary keys rows the way the real store does, so re-ingesting the
// same batch upserts instead of growing the row set.
type fakePrimary struct {
	committed *models.IngestionBatch
	rows      map[string]models.ResultRecord
	err       error
}

func (f *fakePrimary) Init(ctx context.Context) error { return nil }

func (f *fakePrimary) StoreBars(ctx context.Context, _ []models.Bar) error { return nil }

func (f *fakePrimary) LatestBatch(context.Context) (*models.IngestionBatch, error) {
	return f.committed, nil
}

func (f *fakePrimary) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakePrimary) Health(context.Context) error { return nil }

func (f *fakePrimary) Close() error { return nil }

func (f *fakePrimary) CommitBatch(_ context.Context, batch *models.IngestionBatch) error {
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = make(map[string]models.ResultRecord)
	}
	for _, r := range batch.Records {
		f.rows[batch.ID+"|"+r.Symbol+"|"+r.Timeframe] = r
	}
	f.committed = batch
	return nil
}

type fakeFallback struct {
	snapshot *models.IngestionBatch
	prices   map[string]float64
	err      error
}

func (f *fakeFallback) SnapshotBatch(_ context.Context, batch *models.IngestionBatch) error {
	if f.err != nil {
		return f.err
	}
	f.snapshot = batch
	return nil
}

func (f *fakeFallback) SetLatestPrice(_ context.Context, symbol string, price float64) error {
	if f.prices == nil {
		f.prices = make(map[string]float64)
	}
	f.prices[symbol] = price
	return nil
}

func (f *fakeFallback) LatestPrice(_ context.Context, symbol string) (float64, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

type fakeAnalytics struct {
	signals int
	trials  int
	err     error
}

func (f *fakeAnalytics) StoreSignals(_ context.Context, batch *models.IngestionBatch) error {
	if f.err != nil {
		return f.err
	}
	f.signals += len(batch.Records)
	return nil
}

func (f *fakeAnalytics) StoreTrials(_ context.Context, trials []models.OptimizationTrial) error {
	if f.err != nil {
		return f.err
	}
	f.trials += len(trials)
	return nil
}

func (f *fakeAnalytics) Health(context.Context) error { return nil }

type fakePublisher struct {
	published int
	err       error
}

func (f *fakePublisher) PublishBatch(_ context.Context, batch *models.IngestionBatch) error {
	if f.err != nil {
		return f.err
	}
	f.published++
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func testValidator() *validator.Validate {
	return new(config.Config).RecordValidator()
}

func validRecord(symbol string) models.ResultRecord {
	return models.ResultRecord{
		Symbol:          symbol,
		Timeframe:       "1d",
		CurrentPrice:    100.5,
		LowerBand:       95.0,
		UpperBand:       110.0,
		Signal:          models.SignalHold,
		PotentialReturn: 0,
		TotalReturn:     12.5,
		SharpeRatio:     1.1,
		MaxDrawdown:     8.0,
		Degree:          3,
		KStd:            2.0,
		Lookback:        200,
		AnalyzedAt:      time.Now().UTC(),
	}
}

func stageStatus(out *Outcome, stage string) (models.StageStatus, bool) {
	for _, s := range out.Stages {
		if s.Stage == stage {
			return s.Status, true
		}
	}
	return 0, false
}

func TestIngestHappyPath(t *testing.T) {
	primary := &fakePrimary{}
	analytics := &fakeAnalytics{}
	pub := &fakePublisher{}
	p := New(primary, testValidator(), testLogger(t),
		WithAnalytics(analytics), WithPublisher(pub))

	out, err := p.Ingest(context.Background(), []models.ResultRecord{
		validRecord("BTC-USD"), validRecord("ETH-USD"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Degraded() {
		t.Fatalf("unexpected degradation: %+v", out.Stages)
	}
	if out.Batch == nil || out.Batch.ID == "" {
		t.Fatal("batch missing identity")
	}
	if out.Batch.Tier != models.TierPrimary {
		t.Fatalf("tier = %s, want primary", out.Batch.Tier)
	}
	if primary.committed == nil || len(primary.committed.Records) != 2 {
		t.Fatal("primary did not receive the batch")
	}
	if analytics.signals != 2 {
		t.Fatalf("analytics mirrored %d records, want 2", analytics.signals)
	}
	if pub.published != 1 {
		t.Fatalf("published %d batches, want 1", pub.published)
	}
}

func TestIngestSameBatchTwiceIsIdempotent(t *testing.T) {
	primary := &fakePrimary{}
	p := New(primary, testValidator(), testLogger(t))

	records := []models.ResultRecord{validRecord("BTC-USD"), validRecord("ETH-USD")}

	first, err := p.Ingest(context.Background(), records)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := p.Ingest(context.Background(), records)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if first.Batch.ID != second.Batch.ID {
		t.Fatalf("batch ids differ for identical records: %s vs %s", first.Batch.ID, second.Batch.ID)
	}
	if len(primary.rows) != 2 {
		t.Fatalf("%d rows after re-ingest, want 2", len(primary.rows))
	}

	changed := validRecord("BTC-USD")
	changed.TotalReturn = 99.9
	third, err := p.Ingest(context.Background(), []models.ResultRecord{changed, validRecord("ETH-USD")})
	if err != nil {
		t.Fatalf("third Ingest: %v", err)
	}
	if third.Batch.ID == first.Batch.ID {
		t.Fatal("changed records must produce a new batch identity")
	}
}

func TestIngestPrimaryFailureLogsWarnWhenFallbackConfigured(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "pipeline.log")
	log, err := logger.New(&logger.Config{Level: "debug", Format: "json", Output: logPath})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	primary := &fakePrimary{err: fmt.Errorf("connection refused")}
	p := New(primary, testValidator(), log, WithFallback(&fakeFallback{}))

	if _, err := p.Ingest(context.Background(), []models.ResultRecord{validRecord("BTC-USD")}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.Contains(line, "primary commit failed") {
			continue
		}
		if !strings.Contains(line, `"level":"warn"`) {
			t.Fatalf("primary failure with a fallback tier should log warn, got: %s", line)
		}
		return
	}
	t.Fatal("primary commit failure was not logged")
}

func TestIngestDropsDuplicates(t *testing.T) {
	primary := &fakePrimary{}
	p := New(primary, testValidator(), testLogger(t))

	out, err := p.Ingest(context.Background(), []models.ResultRecord{
		validRecord("BTC-USD"), validRecord("BTC-USD"), validRecord("ETH-USD"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(out.Batch.Records) != 2 {
		t.Fatalf("kept %d records, want 2", len(out.Batch.Records))
	}
	status, ok := stageStatus(out, StageCollect)
	if !ok || status != models.StageDegraded {
		t.Fatalf("collect stage = %v, want degraded", status)
	}
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	primary := &fakePrimary{}
	p := New(primary, testValidator(), testLogger(t))

	bad := validRecord("ETH-USD")
	bad.CurrentPrice = -1

	out, err := p.Ingest(context.Background(), []models.ResultRecord{
		validRecord("BTC-USD"), bad,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(out.Batch.Records) != 1 {
		t.Fatalf("kept %d records, want 1", len(out.Batch.Records))
	}
	reason, ok := out.Rejected["ETH-USD"]
	if !ok || reason == "" {
		t.Fatalf("missing rejection reason, got %v", out.Rejected)
	}
	if !strings.Contains(reason, "CurrentPrice") {
		t.Fatalf("rejection reason should name the failing field, got %q", reason)
	}
	status, _ := stageStatus(out, StageValidate)
	if status != models.StageDegraded {
		t.Fatalf("validate stage = %v, want degraded", status)
	}
}

func TestIngestAllInvalidFails(t *testing.T) {
	primary := &fakePrimary{}
	p := New(primary, testValidator(), testLogger(t))

	bad := validRecord("BTC-USD")
	bad.Timeframe = "5m"

	_, err := p.Ingest(context.Background(), []models.ResultRecord{bad})
	if err == nil {
		t.Fatal("want error when every record is rejected")
	}
	if primary.committed != nil {
		t.Fatal("nothing should reach the primary store")
	}
}

func TestIngestPrimaryFailureDegradesToFallback(t *testing.T) {
	primary := &fakePrimary{err: fmt.Errorf("connection refused")}
	fallback := &fakeFallback{}
	analytics := &fakeAnalytics{}
	p := New(primary, testValidator(), testLogger(t),
		WithFallback(fallback), WithAnalytics(analytics))

	out, err := p.Ingest(context.Background(), []models.ResultRecord{validRecord("BTC-USD")})
	if err != nil {
		t.Fatalf("fallback commit should be a degraded success, got %v", err)
	}
	if !out.Degraded() {
		t.Fatal("outcome should report degradation")
	}
	if out.Batch.Tier != models.TierFallback {
		t.Fatalf("tier = %s, want fallback", out.Batch.Tier)
	}
	if fallback.snapshot == nil {
		t.Fatal("fallback never received the batch")
	}
	if analytics.signals != 0 {
		t.Fatal("analytics should be skipped after fallback commit")
	}
}

func TestIngestAllTiersFailed(t *testing.T) {
	primary := &fakePrimary{err: fmt.Errorf("connection refused")}
	fallback := &fakeFallback{err: fmt.Errorf("redis down")}
	p := New(primary, testValidator(), testLogger(t), WithFallback(fallback))

	_, err := p.Ingest(context.Background(), []models.ResultRecord{validRecord("BTC-USD")})
	if err == nil {
		t.Fatal("want error when every tier rejects the batch")
	}
}

func TestIngestAnalyticsFailureOnlyDegrades(t *testing.T) {
	primary := &fakePrimary{}
	analytics := &fakeAnalytics{err: fmt.Errorf("clickhouse down")}
	p := New(primary, testValidator(), testLogger(t), WithAnalytics(analytics))

	out, err := p.Ingest(context.Background(), []models.ResultRecord{validRecord("BTC-USD")})
	if err != nil {
		t.Fatalf("analytics failure must not fail the run: %v", err)
	}
	status, _ := stageStatus(out, StagePersistAnalytics)
	if status != models.StageDegraded {
		t.Fatalf("analytics stage = %v, want degraded", status)
	}
	if out.Batch.Tier != models.TierPrimary {
		t.Fatalf("tier = %s, want primary", out.Batch.Tier)
	}
}

func TestStoreTrialsBestEffort(t *testing.T) {
	analytics := &fakeAnalytics{}
	p := New(&fakePrimary{}, testValidator(), testLogger(t), WithAnalytics(analytics))

	trials := []models.OptimizationTrial{{Symbol: "BTC-USD", TrialIndex: 0, Valid: true}}
	p.StoreTrials(context.Background(), trials)
	if analytics.trials != 1 {
		t.Fatalf("stored %d trials, want 1", analytics.trials)
	}

	// a failing analytics tier must not panic or surface an error
	p2 := New(&fakePrimary{}, testValidator(), testLogger(t),
		WithAnalytics(&fakeAnalytics{err: fmt.Errorf("down")}))
	p2.StoreTrials(context.Background(), trials)
}
