package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"TrendScan/internal/domain/models"
	domrepo "TrendScan/internal/domain/repository"
	applogger "TrendScan/pkg/logger"
	pkgpg "TrendScan/pkg/postgres"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS ohlc_bars (
        symbol     TEXT             NOT NULL,
        timeframe  TEXT             NOT NULL,
        ts         TIMESTAMPTZ      NOT NULL,
        open       DOUBLE PRECISION NOT NULL,
        high       DOUBLE PRECISION NOT NULL,
        low        DOUBLE PRECISION NOT NULL,
        close      DOUBLE PRECISION NOT NULL,
        volume     DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (symbol, timeframe, ts)
    )`,
	`CREATE TABLE IF NOT EXISTS scan_batches (
        id         TEXT        PRIMARY KEY,
        created_at TIMESTAMPTZ NOT NULL,
        tier       TEXT        NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS scan_results (
        batch_id         TEXT             NOT NULL REFERENCES scan_batches(id) ON DELETE CASCADE,
        symbol           TEXT             NOT NULL,
        timeframe        TEXT             NOT NULL,
        current_price    DOUBLE PRECISION NOT NULL,
        lower_band       DOUBLE PRECISION NOT NULL,
        upper_band       DOUBLE PRECISION NOT NULL,
        signal           TEXT             NOT NULL,
        potential_return DOUBLE PRECISION NOT NULL,
        total_return     DOUBLE PRECISION NOT NULL,
        sharpe_ratio     DOUBLE PRECISION NOT NULL,
        max_drawdown     DOUBLE PRECISION NOT NULL,
        degree           INT              NOT NULL,
        kstd             DOUBLE PRECISION NOT NULL,
        lookback         INT              NOT NULL,
        analyzed_at      TIMESTAMPTZ      NOT NULL,
        PRIMARY KEY (batch_id, symbol, timeframe)
    )`,
	`CREATE TABLE IF NOT EXISTS latest_batch (
        singleton  BOOL PRIMARY KEY DEFAULT TRUE CHECK (singleton),
        batch_id   TEXT NOT NULL REFERENCES scan_batches(id) ON DELETE CASCADE
    )`,
	`CREATE INDEX IF NOT EXISTS idx_scan_batches_created ON scan_batches (created_at)`,
}

// PGSignalStore is the primary persistence tier. Batch commits are
// transactional: the batch row, its records and the latest-batch pointer
// move together or not at all.
type PGSignalStore struct {
	db *sqlx.DB
	pg *pkgpg.Client
	l  *applogger.Logger
}

func NewPGSignalStore(pg *pkgpg.Client, l *applogger.Logger) *PGSignalStore {
	return &PGSignalStore{db: pg.DB(), pg: pg, l: l}
}

func (s *PGSignalStore) Init(ctx context.Context) error {
	return s.pg.InitSchema(ctx, pgSchema)
}

// StoreBars upserts fetched bars. Re-fetched bars overwrite their row, so
// repeated loads of the same window stay idempotent.
func (s *PGSignalStore) StoreBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()
	const q = `
        INSERT INTO ohlc_bars (symbol, timeframe, ts, open, high, low, close, volume)
        VALUES (:symbol, :timeframe, :ts, :open, :high, :low, :close, :volume)
        ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
            open = EXCLUDED.open, high = EXCLUDED.high,
            low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume
    `
	rows := make([]map[string]interface{}, len(bars))
	for i, b := range bars {
		rows[i] = map[string]interface{}{
			"symbol": b.Symbol, "timeframe": b.Timeframe, "ts": b.Timestamp,
			"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
		}
	}
	if _, err := s.db.NamedExecContext(ctx, q, rows); err != nil {
		return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("store bars: %w", err)}
	}
	s.l.Debug("bars stored",
		applogger.String("symbol", bars[0].Symbol),
		applogger.Int("rows", len(bars)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *PGSignalStore) CommitBatch(ctx context.Context, batch *models.IngestionBatch) error {
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_batches (id, created_at, tier) VALUES ($1, $2, $3)
         ON CONFLICT (id) DO NOTHING`,
		batch.ID, batch.CreatedAt, string(models.TierPrimary)); err != nil {
		return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("insert batch: %w", err)}
	}

	const recQ = `
        INSERT INTO scan_results (
            batch_id, symbol, timeframe, current_price, lower_band, upper_band,
            signal, potential_return, total_return, sharpe_ratio, max_drawdown,
            degree, kstd, lookback, analyzed_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (batch_id, symbol, timeframe) DO UPDATE SET
            current_price = EXCLUDED.current_price,
            lower_band = EXCLUDED.lower_band, upper_band = EXCLUDED.upper_band,
            signal = EXCLUDED.signal, potential_return = EXCLUDED.potential_return,
            total_return = EXCLUDED.total_return, sharpe_ratio = EXCLUDED.sharpe_ratio,
            max_drawdown = EXCLUDED.max_drawdown, degree = EXCLUDED.degree,
            kstd = EXCLUDED.kstd, lookback = EXCLUDED.lookback,
            analyzed_at = EXCLUDED.analyzed_at
    `
	for _, r := range batch.Records {
		if _, err := tx.ExecContext(ctx, recQ,
			batch.ID, r.Symbol, r.Timeframe, r.CurrentPrice, r.LowerBand, r.UpperBand,
			string(r.Signal), r.PotentialReturn, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
			r.Degree, r.KStd, r.Lookback, r.AnalyzedAt); err != nil {
			return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("insert record %s: %w", r.Symbol, err)}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO latest_batch (singleton, batch_id) VALUES (TRUE, $1)
         ON CONFLICT (singleton) DO UPDATE SET batch_id = EXCLUDED.batch_id`,
		batch.ID); err != nil {
		return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("advance latest pointer: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("commit: %w", err)}
	}
	s.l.Info("batch committed",
		applogger.String("batch_id", batch.ID),
		applogger.Int("records", len(batch.Records)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *PGSignalStore) LatestBatch(ctx context.Context) (*models.IngestionBatch, error) {
	var meta struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		Tier      string    `db:"tier"`
	}
	err := s.db.GetContext(ctx, &meta, `
        SELECT b.id, b.created_at, b.tier
        FROM latest_batch lp JOIN scan_batches b ON b.id = lp.batch_id
    `)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("latest batch: %w", err)}
	}

	rows, err := s.db.QueryxContext(ctx, `
        SELECT symbol, timeframe, current_price, lower_band, upper_band, signal,
               potential_return, total_return, sharpe_ratio, max_drawdown,
               degree, kstd, lookback, analyzed_at
        FROM scan_results WHERE batch_id = $1 ORDER BY symbol
    `, meta.ID)
	if err != nil {
		return nil, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("batch records: %w", err)}
	}
	defer rows.Close()

	batch := &models.IngestionBatch{ID: meta.ID, CreatedAt: meta.CreatedAt, Tier: models.StorageTier(meta.Tier)}
	for rows.Next() {
		var r models.ResultRecord
		var signal string
		if err := rows.Scan(&r.Symbol, &r.Timeframe, &r.CurrentPrice, &r.LowerBand, &r.UpperBand,
			&signal, &r.PotentialReturn, &r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown,
			&r.Degree, &r.KStd, &r.Lookback, &r.AnalyzedAt); err != nil {
			return nil, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("scan record: %w", err)}
		}
		r.Signal = models.SignalType(signal)
		batch.Records = append(batch.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("rows: %w", err)}
	}
	return batch, nil
}

// PurgeBefore deletes batches older than cutoff, except the one the latest
// pointer references. Bar history follows the same cutoff.
func (s *PGSignalStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM scan_batches
        WHERE created_at < $1
          AND id NOT IN (SELECT batch_id FROM latest_batch)
    `, cutoff)
	if err != nil {
		return 0, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("purge batches: %w", err)}
	}
	purged, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM ohlc_bars WHERE ts < $1`, cutoff); err != nil {
		return purged, &models.PersistenceError{Tier: models.TierPrimary, Err: fmt.Errorf("purge bars: %w", err)}
	}
	return purged, nil
}

func (s *PGSignalStore) Health(ctx context.Context) error {
	return s.pg.Health(ctx)
}

func (s *PGSignalStore) Close() error {
	return s.pg.Close()
}

var _ domrepo.SignalStore = (*PGSignalStore)(nil)
