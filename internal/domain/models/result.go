package models

import "time"

// OptimizationTrial records one evaluated parameter set for one symbol.
type OptimizationTrial struct {
	Symbol     string
	TrialIndex int
	Params     Params
	Objective  float64
	Valid      bool
	CreatedAt  time.Time
}

// BacktestResult holds the simulated performance of one (symbol, parameter
// set) evaluation.
type BacktestResult struct {
	Symbol      string
	Timeframe   string
	Params      Params
	TotalReturn float64 // percent
	SharpeRatio float64
	MaxDrawdown float64 // percent, peak-to-trough
	TradeCount  int
}

// ResultRecord is one row of a committed batch: a signal enriched with its
// backtest performance. Field tags drive ingest-stage validation.
type ResultRecord struct {
	Symbol          string     `json:"symbol" csv:"symbol" validate:"required,symbol"`
	Timeframe       string     `json:"timeframe" csv:"timeframe" validate:"required,oneof=1d 4h 1h 15m"`
	CurrentPrice    float64    `json:"current_price" csv:"current_price" validate:"required,gt=0,finite"`
	LowerBand       float64    `json:"lower_band" csv:"lower_band" validate:"gte=0,finite"`
	UpperBand       float64    `json:"upper_band" csv:"upper_band" validate:"gtefield=LowerBand,finite"`
	Signal          SignalType `json:"signal" csv:"signal" validate:"required,oneof=BUY SELL HOLD"`
	PotentialReturn float64    `json:"potential_return" csv:"potential_return" validate:"finite,sane_return"`
	TotalReturn     float64    `json:"total_return" csv:"total_return" validate:"finite,sane_return"`
	SharpeRatio     float64    `json:"sharpe_ratio" csv:"sharpe_ratio" validate:"finite"`
	MaxDrawdown     float64    `json:"max_drawdown" csv:"max_drawdown" validate:"finite,gte=0"`
	Degree          int        `json:"degree" csv:"degree" validate:"gte=1,lte=10"`
	KStd            float64    `json:"kstd" csv:"kstd" validate:"gt=0"`
	Lookback        int        `json:"lookback" csv:"lookback" validate:"gte=0"`
	AnalyzedAt      time.Time  `json:"analysis_timestamp" csv:"analysis_timestamp" validate:"required"`
}

// IngestionBatch is one complete run's set of per-asset records. Immutable
// after commit; dashboards read the latest committed batch only.
type IngestionBatch struct {
	ID        string
	CreatedAt time.Time
	Records   []ResultRecord
	Tier      StorageTier
}

// StorageTier identifies which persistence tier accepted a batch.
type StorageTier string

const (
	TierPrimary   StorageTier = "primary"
	TierAnalytics StorageTier = "analytics"
	TierFallback  StorageTier = "fallback"
)

// RunSummary aggregates per-run outcomes for the external caller. Partial
// success is the expected common case.
type RunSummary struct {
	BatchID   string            `json:"batch_id"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Degraded  bool              `json:"degraded"`
	Failures  map[string]string `json:"failures,omitempty"` // symbol -> reason
}
