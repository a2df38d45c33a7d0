package repository

import (
	"context"
	"time"

	"TrendScan/internal/domain/models"
)

// BarSource fetches OHLC history from the external price source.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]models.Bar, error)
	Health(ctx context.Context) error
}

// BarCache is the loader-owned keyed bar store. Each (symbol, timeframe)
// entry is written by exactly one in-flight fetch at a time.
type BarCache interface {
	Get(ctx context.Context, symbol string, tf Timeframe) ([]models.Bar, error)
	Put(ctx context.Context, symbol string, tf Timeframe, bars []models.Bar) error
}

// PriceStream delivers live trade prices, used to keep the fallback snapshot
// fresh when the primary store is unreachable.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalStore is the primary time-series tier (Postgres/Timescale). Writes
// are transactional at the batch-commit boundary and idempotent per
// (symbol, timeframe, batch window).
type SignalStore interface {
	Init(ctx context.Context) error
	StoreBars(ctx context.Context, bars []models.Bar) error
	CommitBatch(ctx context.Context, batch *models.IngestionBatch) error
	LatestBatch(ctx context.Context) (*models.IngestionBatch, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// AnalyticsStore is the ClickHouse query tier. Best-effort: a write failure
// never degrades the run.
type AnalyticsStore interface {
	StoreSignals(ctx context.Context, batch *models.IngestionBatch) error
	StoreTrials(ctx context.Context, trials []models.OptimizationTrial) error
	Health(ctx context.Context) error
}

// FallbackStore is the reduced-functionality tier that still serves latest
// prices and the most recent records when the primary store is down.
type FallbackStore interface {
	SnapshotBatch(ctx context.Context, batch *models.IngestionBatch) error
	SetLatestPrice(ctx context.Context, symbol string, price float64) error
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Publisher announces committed batches to downstream consumers.
type Publisher interface {
	PublishBatch(ctx context.Context, batch *models.IngestionBatch) error
	Close() error
}

// Metrics abstracts the Prometheus recorder.
type Metrics interface {
	RecordSignal(symbol string, signal string)
	RecordTrial(symbol string, valid bool)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordBatch(tier string, records int)
}
