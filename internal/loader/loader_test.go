package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	internalrepo "TrendScan/internal/repository"
	"TrendScan/pkg/cache"
	"TrendScan/pkg/logger"
)

type fakeSource struct {
	bars     []models.Bar
	err      error
	fetches  int
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeSource) FetchBars(_ context.Context, symbol string, tf drepo.Timeframe, from, to time.Time) ([]models.Bar, error) {
	f.fetches++
	f.lastFrom, f.lastTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Bar
	for _, b := range f.bars {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeSource) Health(context.Context) error { return nil }

type fakeStore struct {
	drepo.SignalStore
	stored int
}

func (f *fakeStore) StoreBars(_ context.Context, bars []models.Bar) error {
	f.stored += len(bars)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func dailyBars(symbol string, start time.Time, n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		price := 100.0 + float64(i)
		bars[i] = models.Bar{
			Symbol: symbol, Timeframe: "1d", Timestamp: start.AddDate(0, 0, i),
			Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1,
		}
	}
	return bars
}

func newTestLoader(t *testing.T, source *fakeSource, store *fakeStore, now time.Time, opts ...Option) (*Loader, drepo.BarCache) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	barCache := internalrepo.NewBarCacheStore(mem)
	base := []Option{WithMinBars(10), WithHistoryDays(100), WithClock(func() time.Time { return now })}
	var st drepo.SignalStore
	if store != nil {
		st = store
	}
	return New(source, barCache, st, testLogger(t), append(base, opts...)...), barCache
}

func TestLoadFullFetchPopulatesCacheAndStore(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{bars: dailyBars("BTC-USD", now.AddDate(0, 0, -90), 90)}
	store := &fakeStore{}
	l, barCache := newTestLoader(t, source, store, now)

	bars, err := l.Load(context.Background(), "BTC-USD", drepo.TF1d)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("no bars returned")
	}
	if source.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", source.fetches)
	}
	if want := now.AddDate(0, 0, -100); !source.lastFrom.Equal(want) {
		t.Fatalf("fetch window start = %v, want %v", source.lastFrom, want)
	}
	if store.stored != len(bars) {
		t.Fatalf("mirrored %d bars to store, want %d", store.stored, len(bars))
	}

	cached, err := barCache.Get(context.Background(), "BTC-USD", drepo.TF1d)
	if err != nil {
		t.Fatalf("cache read after load: %v", err)
	}
	if len(cached) != len(bars) {
		t.Fatalf("cached %d bars, want %d", len(cached), len(bars))
	}
}

func TestLoadFreshCacheSkipsFetch(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{}
	l, barCache := newTestLoader(t, source, nil, now)

	// newest cached bar is half an interval old
	cached := dailyBars("BTC-USD", now.Add(-12*time.Hour).AddDate(0, 0, -29), 30)
	if err := barCache.Put(context.Background(), "BTC-USD", drepo.TF1d, cached); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	bars, err := l.Load(context.Background(), "BTC-USD", drepo.TF1d)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if source.fetches != 0 {
		t.Fatalf("fetches = %d, want 0 on a fresh cache", source.fetches)
	}
	if len(bars) != 30 {
		t.Fatalf("got %d bars, want 30", len(bars))
	}
}

func TestLoadIncrementalMergesTail(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -30)
	all := dailyBars("BTC-USD", start, 31)

	source := &fakeSource{bars: all}
	l, barCache := newTestLoader(t, source, nil, now)

	// cache ends five days ago, well inside the incremental window
	if err := barCache.Put(context.Background(), "BTC-USD", drepo.TF1d, all[:26]); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	bars, err := l.Load(context.Background(), "BTC-USD", drepo.TF1d)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if source.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 incremental fetch", source.fetches)
	}
	if len(bars) != 31 {
		t.Fatalf("merged to %d bars, want 31", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].Timestamp.Before(bars[i].Timestamp) {
			t.Fatalf("bars out of order at %d", i)
		}
	}
}

func TestLoadStaleCacheServedWhenFetchFails(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{err: fmt.Errorf("upstream 503")}
	l, barCache := newTestLoader(t, source, nil, now)

	// cache far older than the incremental window forces a full fetch
	stale := dailyBars("BTC-USD", now.AddDate(0, 0, -120), 40)
	if err := barCache.Put(context.Background(), "BTC-USD", drepo.TF1d, stale); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	bars, err := l.Load(context.Background(), "BTC-USD", drepo.TF1d)
	if err != nil {
		t.Fatalf("stale cache should be served when fetch fails: %v", err)
	}
	if len(bars) != 40 {
		t.Fatalf("got %d bars, want the 40 stale ones", len(bars))
	}
}

func TestLoadInsufficientData(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{bars: dailyBars("NEW-USD", now.AddDate(0, 0, -5), 5)}
	l, _ := newTestLoader(t, source, nil, now)

	bars, err := l.Load(context.Background(), "NEW-USD", drepo.TF1d)
	var ierr *models.InsufficientDataError
	if !errors.As(err, &ierr) {
		t.Fatalf("want InsufficientDataError, got %v", err)
	}
	if ierr.Got != 5 || ierr.Min != 10 {
		t.Fatalf("got=%d min=%d, want 5/10", ierr.Got, ierr.Min)
	}
	// the short series comes back with the error so callers can still price
	if len(bars) != 5 {
		t.Fatalf("returned %d bars with the error, want 5", len(bars))
	}
}

func TestLoadFetchErrorNoCache(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{err: fmt.Errorf("upstream 503")}
	l, _ := newTestLoader(t, source, nil, now)

	if _, err := l.Load(context.Background(), "BTC-USD", drepo.TF1d); err == nil {
		t.Fatal("want error when fetch fails with an empty cache")
	}
}

func TestMergeBarsReplacesOverlap(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cached := dailyBars("BTC-USD", start, 5)
	tail := dailyBars("BTC-USD", start.AddDate(0, 0, 3), 4)
	tail[0].Close = 999 // fresher value for an overlapping timestamp

	merged := mergeBars(cached, tail)
	if len(merged) != 7 {
		t.Fatalf("merged to %d bars, want 7", len(merged))
	}
	if merged[3].Close != 999 {
		t.Fatalf("overlap not replaced, close = %.1f", merged[3].Close)
	}
}
