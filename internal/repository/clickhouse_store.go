package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TrendScan/internal/domain/models"
	domrepo "TrendScan/internal/domain/repository"
	pkgch "TrendScan/pkg/clickhouse"
	applogger "TrendScan/pkg/logger"
)

// CHAnalyticsStore mirrors committed batches and optimizer trials into
// ClickHouse for ad-hoc querying. Best-effort: callers log failures and
// move on.
type CHAnalyticsStore struct {
	db       *sql.DB
	ch       *pkgch.Client
	database string
	l        *applogger.Logger
}

func NewCHAnalyticsStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHAnalyticsStore {
	return &CHAnalyticsStore{db: ch.DB(), ch: ch, database: database, l: l}
}

func (s *CHAnalyticsStore) StoreSignals(ctx context.Context, batch *models.IngestionBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	start := time.Now()

	values := make([]string, 0, len(batch.Records))
	args := make([]interface{}, 0, len(batch.Records)*15)
	for _, r := range batch.Records {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Symbol, r.Timeframe, string(r.Signal),
			r.CurrentPrice, r.LowerBand, r.UpperBand,
			r.PotentialReturn, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
			uint8(r.Degree), r.KStd, uint16(r.Lookback),
			batch.ID, batch.CreatedAt,
		)
	}
	q := fmt.Sprintf(`INSERT INTO %s.signals (
        symbol, timeframe, signal, current_price, lower_band, upper_band,
        potential_return, total_return, sharpe_ratio, max_drawdown, degree,
        kstd, lookback, batch_id, created_at
    ) VALUES %s`, s.database, strings.Join(values, ","))

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse store_signals error",
			applogger.String("batch_id", batch.ID),
			applogger.Int("rows", len(batch.Records)),
			applogger.Error(err))
		return &models.PersistenceError{Tier: models.TierAnalytics, Err: fmt.Errorf("store signals: %w", err)}
	}
	s.l.Info("clickhouse store_signals ok",
		applogger.String("batch_id", batch.ID),
		applogger.Int("rows", len(batch.Records)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *CHAnalyticsStore) StoreTrials(ctx context.Context, trials []models.OptimizationTrial) error {
	if len(trials) == 0 {
		return nil
	}
	start := time.Now()

	values := make([]string, 0, len(trials))
	args := make([]interface{}, 0, len(trials)*8)
	for _, t := range trials {
		valid := uint8(0)
		if t.Valid {
			valid = 1
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			t.Symbol, uint16(t.TrialIndex),
			uint8(t.Params.Degree), t.Params.KStd, uint16(t.Params.Lookback),
			t.Objective, valid, t.CreatedAt,
		)
	}
	q := fmt.Sprintf(`INSERT INTO %s.optimization_trials (
        symbol, trial_index, degree, kstd, lookback, objective_value, valid, created_at
    ) VALUES %s`, s.database, strings.Join(values, ","))

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse store_trials error",
			applogger.String("symbol", trials[0].Symbol),
			applogger.Int("rows", len(trials)),
			applogger.Error(err))
		return &models.PersistenceError{Tier: models.TierAnalytics, Err: fmt.Errorf("store trials: %w", err)}
	}
	s.l.Debug("clickhouse store_trials ok",
		applogger.String("symbol", trials[0].Symbol),
		applogger.Int("rows", len(trials)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *CHAnalyticsStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

var _ domrepo.AnalyticsStore = (*CHAnalyticsStore)(nil)
