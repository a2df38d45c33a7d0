package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"TrendScan/internal/backtest"
	"TrendScan/internal/channel"
	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	"TrendScan/internal/ingest"
	"TrendScan/internal/loader"
	"TrendScan/internal/optimize"
	"TrendScan/pkg/config"
	"TrendScan/pkg/logger"
)

// ErrNoValidResults marks a run in which every symbol failed or was skipped.
var ErrNoValidResults = errors.New("zero valid results")

// Scanner drives one full scan: a bounded worker pool runs the
// load/fit/optimize/backtest chain per symbol, results are batched and
// handed to the ingestion pipeline. Per-symbol failures degrade or skip
// that symbol only.
type Scanner struct {
	cfg       *config.Config
	loader    *loader.Loader
	fitter    *channel.Fitter
	optimizer *optimize.Optimizer
	sim       *backtest.Simulator
	pipeline  *ingest.Pipeline
	log       *logger.Logger
	metrics   drepo.Metrics
}

func New(
	cfg *config.Config,
	ld *loader.Loader,
	fitter *channel.Fitter,
	opt *optimize.Optimizer,
	sim *backtest.Simulator,
	pipe *ingest.Pipeline,
	log *logger.Logger,
	m drepo.Metrics,
) *Scanner {
	return &Scanner{
		cfg:       cfg,
		loader:    ld,
		fitter:    fitter,
		optimizer: opt,
		sim:       sim,
		pipeline:  pipe,
		log:       log,
		metrics:   m,
	}
}

type assetResult struct {
	symbol string
	record *models.ResultRecord
	trials []models.OptimizationTrial
	err    error
	reason string
}

// Run scans all configured symbols and ingests the resulting batch. The
// returned summary reflects partial success; the error is non-nil only when
// no symbol produced a valid result or no storage tier accepted the batch.
func (s *Scanner) Run(ctx context.Context) (*models.RunSummary, error) {
	started := time.Now()
	tf := drepo.NormalizeTimeframe(s.cfg.Scanner.Timeframe)
	symbols := s.cfg.Scanner.Symbols

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Scanner.RunDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Scanner.RunDeadline)
		defer cancel()
	}

	s.log.Info("scan started",
		logger.Int("symbols", len(symbols)),
		logger.String("timeframe", string(tf)),
		logger.Int("workers", s.cfg.Scanner.MaxWorkers))

	summary := &models.RunSummary{
		StartedAt: started.UTC(),
		Failures:  make(map[string]string),
	}

	// warn/error events carry the symbol they concern; collecting them for
	// the run fills in reasons for symbols that degraded without failing
	collector := logger.NewProblemCollector()
	s.log.SetCollector(collector)
	defer func() {
		s.log.SetCollector(nil)
		for sym, msg := range collector.BySymbol() {
			if _, ok := summary.Failures[sym]; !ok {
				summary.Failures[sym] = msg
			}
		}
	}()

	results := s.scanAll(runCtx, symbols, tf)

	records := make([]models.ResultRecord, 0, len(results))
	var trials []models.OptimizationTrial
	for _, r := range results {
		switch {
		case r.err != nil:
			summary.Failed++
			summary.Failures[r.symbol] = r.reason
		case r.record == nil:
			summary.Skipped++
			summary.Failures[r.symbol] = r.reason
		default:
			summary.Succeeded++
			records = append(records, *r.record)
			trials = append(trials, r.trials...)
			if s.metrics != nil {
				s.metrics.RecordSignal(r.symbol, string(r.record.Signal))
			}
		}
	}

	if len(records) == 0 {
		summary.Duration = time.Since(started)
		s.log.Error("scan produced zero valid results",
			logger.Int("failed", summary.Failed),
			logger.Int("skipped", summary.Skipped))
		return summary, ErrNoValidResults
	}

	out, err := s.pipeline.Ingest(runCtx, records)
	if err != nil {
		summary.Duration = time.Since(started)
		return summary, err
	}
	summary.BatchID = out.Batch.ID
	summary.Degraded = out.Degraded()
	for sym, reason := range out.Rejected {
		summary.Succeeded--
		summary.Failed++
		summary.Failures[sym] = reason
	}

	s.pipeline.StoreTrials(runCtx, trials)

	summary.Duration = time.Since(started)
	s.log.Info("scan finished",
		logger.String("batch_id", summary.BatchID),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Int("skipped", summary.Skipped),
		logger.Bool("degraded", summary.Degraded),
		logger.Duration("duration_ms", summary.Duration))
	return summary, nil
}

// scanAll fans symbols out over the worker pool. A deadline skips symbols
// whose work has not started; in-flight symbols finish on their own call
// timeouts.
func (s *Scanner) scanAll(ctx context.Context, symbols []string, tf drepo.Timeframe) []assetResult {
	jobs := make(chan string)
	out := make(chan assetResult, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Scanner.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				out <- s.scanOne(ctx, sym, tf)
			}
		}()
	}

feed:
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			out <- assetResult{symbol: sym, reason: "run deadline exceeded"}
		case jobs <- sym:
			continue feed
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]assetResult, 0, len(symbols))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// scanOne runs the full chain for one symbol. Degradable failures produce a
// HOLD record; only a total inability to price the symbol marks it failed.
func (s *Scanner) scanOne(ctx context.Context, symbol string, tf drepo.Timeframe) assetResult {
	res := assetResult{symbol: symbol}

	bars, err := s.loader.Load(ctx, symbol, tf)
	if err != nil {
		var insufficient *models.InsufficientDataError
		if errors.As(err, &insufficient) {
			s.log.Warn("insufficient data, degrading to hold",
				logger.String("symbol", symbol),
				logger.Int("bars", insufficient.Got),
				logger.Int("min", insufficient.Min))
			if s.metrics != nil {
				s.metrics.RecordError("insufficient_data")
			}
			res.reason = err.Error()
			if len(bars) == 0 {
				return res // skipped: no priceable record
			}
			// the short series still prices a HOLD record
			params := models.Params{
				Degree:   s.cfg.Channel.Degree,
				KStd:     s.cfg.Channel.KStd,
				Lookback: s.cfg.Channel.Lookback,
			}
			sig := channel.HoldSignal(symbol, string(tf), err.Error(), bars[len(bars)-1].Close)
			res.record = recordFrom(sig, models.BacktestResult{Params: params}, time.Now().UTC())
			return res
		}
		s.log.Error("load failed", logger.String("symbol", symbol), logger.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("data_fetch")
		}
		res.err = err
		res.reason = err.Error()
		return res
	}

	price := bars[len(bars)-1].Close
	if s.metrics != nil {
		s.metrics.RecordLastPrice(symbol, price)
	}

	params := models.Params{
		Degree:   s.cfg.Channel.Degree,
		KStd:     s.cfg.Channel.KStd,
		Lookback: s.cfg.Channel.Lookback,
	}
	if s.optimizer != nil && s.cfg.OptimizeSymbol(symbol) {
		best, trials := s.optimizer.BestParams(bars)
		params = best
		res.trials = trials
		if s.metrics != nil {
			for _, t := range trials {
				s.metrics.RecordTrial(symbol, t.Valid)
			}
		}
	}

	ch, err := s.fitter.Fit(bars, params)
	if err != nil {
		// fall back to defaults once before degrading to HOLD
		defaults := models.Params{
			Degree:   s.cfg.Channel.Degree,
			KStd:     s.cfg.Channel.KStd,
			Lookback: s.cfg.Channel.Lookback,
		}
		if params != defaults {
			ch, err = s.fitter.Fit(bars, defaults)
			params = defaults
		}
		if err != nil {
			s.log.Warn("fit rejected, degrading to hold",
				logger.String("symbol", symbol),
				logger.Error(err))
			if s.metrics != nil {
				s.metrics.RecordError("numeric_instability")
			}
			sig := channel.HoldSignal(symbol, string(tf), err.Error(), price)
			res.record = recordFrom(sig, models.BacktestResult{Params: params}, time.Now().UTC())
			res.reason = err.Error()
			return res
		}
	}

	sig := channel.Classify(ch, price, bars)

	bt, err := s.sim.Simulate(bars, params)
	if err != nil {
		s.log.Warn("backtest invalid, keeping signal without performance",
			logger.String("symbol", symbol),
			logger.Error(err))
		bt = models.BacktestResult{Symbol: symbol, Timeframe: string(tf), Params: params}
	}

	res.record = recordFrom(sig, bt, time.Now().UTC())
	return res
}

func recordFrom(sig models.Signal, bt models.BacktestResult, at time.Time) *models.ResultRecord {
	rec := &models.ResultRecord{
		Symbol:          sig.Symbol,
		Timeframe:       sig.Timeframe,
		CurrentPrice:    sig.CurrentPrice,
		Signal:          sig.Type,
		PotentialReturn: sig.PotentialReturn,
		TotalReturn:     bt.TotalReturn,
		SharpeRatio:     bt.SharpeRatio,
		MaxDrawdown:     bt.MaxDrawdown,
		Degree:          bt.Params.Degree,
		KStd:            bt.Params.KStd,
		Lookback:        bt.Params.Lookback,
		AnalyzedAt:      at,
	}
	if sig.Channel != nil {
		rec.LowerBand = sig.Channel.LowerBand
		rec.UpperBand = sig.Channel.UpperBand
	}
	return rec
}
