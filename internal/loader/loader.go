package loader

import (
	"context"
	"sort"
	"time"

	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	"TrendScan/pkg/logger"
)

// Loader serves bar history from cache, refreshing incrementally when the
// cached tail is close to now and refetching in full otherwise. Loaded bars
// are mirrored to the primary store for later queries.
type Loader struct {
	source  drepo.BarSource
	cache   drepo.BarCache
	store   drepo.SignalStore
	log     *logger.Logger
	metrics drepo.Metrics

	locks   *keyedMutex
	minBars int
	days    int
	now     func() time.Time
}

type Option func(*Loader)

func WithMinBars(n int) Option { return func(l *Loader) { l.minBars = n } }

func WithHistoryDays(days int) Option { return func(l *Loader) { l.days = days } }

func WithMetrics(m drepo.Metrics) Option { return func(l *Loader) { l.metrics = m } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(l *Loader) { l.now = now } }

func New(source drepo.BarSource, c drepo.BarCache, store drepo.SignalStore, log *logger.Logger, opts ...Option) *Loader {
	l := &Loader{
		source:  source,
		cache:   c,
		store:   store,
		log:     log,
		locks:   newKeyedMutex(),
		minBars: 50,
		days:    365,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns at least minBars bars for (symbol, tf), newest last.
// Concurrent loads of the same key are serialized; distinct keys proceed in
// parallel. On InsufficientDataError the short series is still returned so
// the caller can price a degraded signal from it.
func (l *Loader) Load(ctx context.Context, symbol string, tf drepo.Timeframe) ([]models.Bar, error) {
	key := symbol + "|" + string(tf)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	start := l.now()
	bars, err := l.load(ctx, symbol, tf)
	if l.metrics != nil {
		l.metrics.RecordLatency("load_bars", l.now().Sub(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if len(bars) < l.minBars {
		return bars, &models.InsufficientDataError{Symbol: symbol, Got: len(bars), Min: l.minBars}
	}
	return bars, nil
}

func (l *Loader) load(ctx context.Context, symbol string, tf drepo.Timeframe) ([]models.Bar, error) {
	cached, err := l.cache.Get(ctx, symbol, tf)
	if err != nil {
		l.log.Warn("bar cache read failed",
			logger.String("symbol", symbol),
			logger.Error(err))
	}

	now := l.now().UTC()
	interval := drepo.Interval(tf)

	if len(cached) > 0 {
		newest := cached[len(cached)-1].Timestamp
		age := now.Sub(newest)
		if age < interval {
			return cached, nil
		}
		// fresh enough for an incremental fetch of the missing tail
		if age < time.Duration(l.days)*24*time.Hour/4 {
			tail, err := l.source.FetchBars(ctx, symbol, tf, newest, now)
			if err == nil {
				merged := mergeBars(cached, tail)
				l.persist(ctx, symbol, tf, merged, tail)
				return merged, nil
			}
			l.log.Warn("incremental fetch failed, falling back to full fetch",
				logger.String("symbol", symbol),
				logger.Error(err))
		}
	}

	from := now.AddDate(0, 0, -l.days)
	bars, err := l.source.FetchBars(ctx, symbol, tf, from, now)
	if err != nil {
		// a stale cache beats no data at all
		if len(cached) >= l.minBars {
			l.log.Warn("full fetch failed, serving stale cache",
				logger.String("symbol", symbol),
				logger.Int("bars", len(cached)),
				logger.Error(err))
			return cached, nil
		}
		return nil, err
	}
	sortBars(bars)
	l.persist(ctx, symbol, tf, bars, bars)
	return bars, nil
}

// persist writes the merged series to cache and mirrors newly fetched bars
// to the primary store. Neither failure is fatal to the load.
func (l *Loader) persist(ctx context.Context, symbol string, tf drepo.Timeframe, merged, fetched []models.Bar) {
	if err := l.cache.Put(ctx, symbol, tf, merged); err != nil {
		l.log.Warn("bar cache write failed",
			logger.String("symbol", symbol),
			logger.Error(err))
	}
	if l.store == nil || len(fetched) == 0 {
		return
	}
	if err := l.store.StoreBars(ctx, fetched); err != nil {
		l.log.Warn("bar mirror to primary store failed",
			logger.String("symbol", symbol),
			logger.Int("bars", len(fetched)),
			logger.Error(err))
	}
}

// mergeBars appends tail onto cached, replacing overlapping timestamps with
// the freshly fetched values.
func mergeBars(cached, tail []models.Bar) []models.Bar {
	if len(tail) == 0 {
		return cached
	}
	seen := make(map[int64]int, len(cached))
	merged := make([]models.Bar, len(cached))
	copy(merged, cached)
	for i, b := range merged {
		seen[b.Timestamp.Unix()] = i
	}
	for _, b := range tail {
		if i, ok := seen[b.Timestamp.Unix()]; ok {
			merged[i] = b
			continue
		}
		merged = append(merged, b)
	}
	sortBars(merged)
	return merged
}

func sortBars(bars []models.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}
