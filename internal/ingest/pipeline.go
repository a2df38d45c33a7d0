package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	"TrendScan/pkg/logger"
)

// Stage names, in pipeline order.
const (
	StageCollect          = "collect"
	StageValidate         = "validate"
	StagePersistPrimary   = "persist_primary"
	StagePersistAnalytics = "persist_analytics"
	StagePublish          = "publish"
)

// Pipeline runs the tiered persistence state machine over one scan's result
// records: collect, validate, commit to the primary store, mirror to
// analytics, publish. Primary failure degrades to the fallback snapshot;
// analytics and publish failures degrade but never fail the run.
type Pipeline struct {
	primary   drepo.SignalStore
	analytics drepo.AnalyticsStore
	fallback  drepo.FallbackStore
	publisher drepo.Publisher
	validate  *validator.Validate
	log       *logger.Logger
	metrics   drepo.Metrics
}

type Option func(*Pipeline)

func WithAnalytics(a drepo.AnalyticsStore) Option { return func(p *Pipeline) { p.analytics = a } }

func WithFallback(f drepo.FallbackStore) Option { return func(p *Pipeline) { p.fallback = f } }

func WithPublisher(pub drepo.Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

func WithMetrics(m drepo.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func New(primary drepo.SignalStore, v *validator.Validate, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{primary: primary, validate: v, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome reports where a batch ended up and what happened along the way.
type Outcome struct {
	Batch    *models.IngestionBatch
	Stages   []models.StageResult
	Rejected map[string]string // symbol -> validation reason
}

// Degraded reports whether any stage finished below Ok.
func (o *Outcome) Degraded() bool {
	for _, s := range o.Stages {
		if s.Status != models.StageOk {
			return true
		}
	}
	return false
}

// Ingest drives one batch through the state machine. It returns an error
// only when no tier accepted the batch; a fallback-tier commit is a
// degraded success.
func (p *Pipeline) Ingest(ctx context.Context, records []models.ResultRecord) (*Outcome, error) {
	out := &Outcome{Rejected: make(map[string]string)}

	batch := p.collect(records, out)
	p.validateRecords(batch, out)
	if len(batch.Records) == 0 {
		out.Stages = append(out.Stages, models.Failed(StagePersistPrimary, "no valid records"))
		return out, fmt.Errorf("ingest %s: no valid records", batch.ID)
	}

	if err := p.persistPrimary(ctx, batch, out); err != nil {
		if ferr := p.persistFallback(ctx, batch, out); ferr != nil {
			return out, fmt.Errorf("ingest %s: all tiers failed: %w", batch.ID, err)
		}
		// fallback accepted; skip analytics, record alone is stale enough
		out.Batch = batch
		return out, nil
	}

	p.persistAnalytics(ctx, batch, out)
	p.publish(ctx, batch, out)

	out.Batch = batch
	return out, nil
}

// batchNamespace anchors the content-derived batch identity (UUID v5).
var batchNamespace = uuid.MustParse("7be4f2da-9c31-4a56-8f0e-2d64c1b9a3e0")

// batchID derives the batch identity from the record content, so
// re-ingesting the same computed record set reuses the same batch and
// upserts its rows instead of duplicating them.
func batchID(records []models.ResultRecord) string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = fmt.Sprintf("%s|%s|%d|%g|%g|%g|%s|%g|%g|%g|%g|%d|%g|%d",
			r.Symbol, r.Timeframe, r.AnalyzedAt.Unix(),
			r.CurrentPrice, r.LowerBand, r.UpperBand, r.Signal,
			r.PotentialReturn, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
			r.Degree, r.KStd, r.Lookback)
	}
	sort.Strings(keys)
	return uuid.NewSHA1(batchNamespace, []byte(strings.Join(keys, "\n"))).String()
}

// collect drops duplicate (symbol, timeframe) records, keeping the first
// occurrence, and derives the batch identity from what survived.
func (p *Pipeline) collect(records []models.ResultRecord, out *Outcome) *models.IngestionBatch {
	batch := &models.IngestionBatch{
		CreatedAt: time.Now().UTC(),
		Tier:      models.TierPrimary,
	}
	seen := make(map[string]bool, len(records))
	dups := 0
	for _, r := range records {
		key := r.Symbol + "|" + r.Timeframe
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
		batch.Records = append(batch.Records, r)
	}
	batch.ID = batchID(batch.Records)
	if dups > 0 {
		p.log.Warn("duplicate records dropped",
			logger.String("batch_id", batch.ID),
			logger.Int("duplicates", dups))
		out.Stages = append(out.Stages, models.Degraded(StageCollect, fmt.Sprintf("%d duplicate records", dups)))
	} else {
		out.Stages = append(out.Stages, models.Ok(StageCollect))
	}
	return batch
}

// validateRecords excludes malformed records instead of failing the batch.
func (p *Pipeline) validateRecords(batch *models.IngestionBatch, out *Outcome) {
	kept := batch.Records[:0]
	for _, r := range batch.Records {
		if err := p.validate.Struct(r); err != nil {
			verr := newValidationError(r.Symbol, err)
			out.Rejected[r.Symbol] = verr.Error()
			p.log.Warn("record rejected",
				logger.String("batch_id", batch.ID),
				logger.String("symbol", r.Symbol),
				logger.Error(verr))
			if p.metrics != nil {
				p.metrics.RecordError("validation")
			}
			continue
		}
		kept = append(kept, r)
	}
	batch.Records = kept
	if len(out.Rejected) > 0 {
		out.Stages = append(out.Stages, models.Degraded(StageValidate, fmt.Sprintf("%d records rejected", len(out.Rejected))))
	} else {
		out.Stages = append(out.Stages, models.Ok(StageValidate))
	}
}

func (p *Pipeline) persistPrimary(ctx context.Context, batch *models.IngestionBatch, out *Outcome) error {
	start := time.Now()
	err := p.primary.CommitBatch(ctx, batch)
	if p.metrics != nil {
		p.metrics.RecordLatency("commit_primary", time.Since(start).Seconds())
	}
	if err != nil {
		// a reachable fallback tier makes this a degradation, not an outage
		if p.fallback != nil {
			p.log.Warn("primary commit failed, degrading to fallback tier",
				logger.String("batch_id", batch.ID),
				logger.Error(err))
		} else {
			p.log.Error("primary commit failed",
				logger.String("batch_id", batch.ID),
				logger.Error(err))
		}
		out.Stages = append(out.Stages, models.Failed(StagePersistPrimary, err.Error()))
		if p.metrics != nil {
			p.metrics.RecordError("persist_primary")
		}
		return err
	}
	out.Stages = append(out.Stages, models.Ok(StagePersistPrimary))
	if p.metrics != nil {
		p.metrics.RecordBatch(string(models.TierPrimary), len(batch.Records))
	}
	return nil
}

func (p *Pipeline) persistFallback(ctx context.Context, batch *models.IngestionBatch, out *Outcome) error {
	if p.fallback == nil {
		return fmt.Errorf("no fallback tier configured")
	}
	if err := p.fallback.SnapshotBatch(ctx, batch); err != nil {
		p.log.Error("fallback snapshot failed",
			logger.String("batch_id", batch.ID),
			logger.Error(err))
		if p.metrics != nil {
			p.metrics.RecordError("persist_fallback")
		}
		return err
	}
	batch.Tier = models.TierFallback
	out.Stages = append(out.Stages, models.Degraded(StagePersistPrimary, "committed to fallback tier"))
	p.log.Warn("batch degraded to fallback tier",
		logger.String("batch_id", batch.ID),
		logger.Int("records", len(batch.Records)))
	if p.metrics != nil {
		p.metrics.RecordBatch(string(models.TierFallback), len(batch.Records))
	}
	return nil
}

func (p *Pipeline) persistAnalytics(ctx context.Context, batch *models.IngestionBatch, out *Outcome) {
	if p.analytics == nil {
		return
	}
	if err := p.analytics.StoreSignals(ctx, batch); err != nil {
		out.Stages = append(out.Stages, models.Degraded(StagePersistAnalytics, err.Error()))
		if p.metrics != nil {
			p.metrics.RecordError("persist_analytics")
		}
		return
	}
	out.Stages = append(out.Stages, models.Ok(StagePersistAnalytics))
	if p.metrics != nil {
		p.metrics.RecordBatch(string(models.TierAnalytics), len(batch.Records))
	}
}

func (p *Pipeline) publish(ctx context.Context, batch *models.IngestionBatch, out *Outcome) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishBatch(ctx, batch); err != nil {
		p.log.Warn("batch publish failed",
			logger.String("batch_id", batch.ID),
			logger.Error(err))
		out.Stages = append(out.Stages, models.Degraded(StagePublish, err.Error()))
		if p.metrics != nil {
			p.metrics.RecordError("publish")
		}
		return
	}
	out.Stages = append(out.Stages, models.Ok(StagePublish))
}

// StoreTrials forwards optimizer trials to the analytics tier, best-effort.
func (p *Pipeline) StoreTrials(ctx context.Context, trials []models.OptimizationTrial) {
	if p.analytics == nil || len(trials) == 0 {
		return
	}
	if err := p.analytics.StoreTrials(ctx, trials); err != nil {
		p.log.Warn("trial mirror failed",
			logger.String("symbol", trials[0].Symbol),
			logger.Error(err))
	}
}

func newValidationError(symbol string, err error) *models.ValidationError {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return &models.ValidationError{Symbol: symbol, Field: verrs[0].Field(), Reason: "fails " + verrs[0].Tag()}
	}
	return &models.ValidationError{Symbol: symbol, Reason: err.Error()}
}
