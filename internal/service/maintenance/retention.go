package maintenance

import (
	"context"
	"fmt"
	"time"

	"TrendScan/internal/domain/repository"
	"TrendScan/pkg/logger"
	"TrendScan/pkg/queue"
)

// MsgTypePurge is the queue message type for a retention sweep.
const MsgTypePurge = "retention.purge"

// PurgePayload asks for deletion of batches and bars older than Days.
type PurgePayload struct {
	Days int `json:"days"`
}

// RetentionJob deletes expired batches and bar history from the primary
// store. The latest committed batch is always kept regardless of age.
type RetentionJob struct {
	store repository.SignalStore
	log   *logger.Logger
	days  int
}

func NewRetentionJob(store repository.SignalStore, log *logger.Logger, defaultDays int) *RetentionJob {
	return &RetentionJob{store: store, log: log, days: defaultDays}
}

func (j *RetentionJob) Name() string { return "retention_purge" }

func (j *RetentionJob) Type() string { return MsgTypePurge }

func (j *RetentionJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[PurgePayload](payload)
	if err != nil {
		return fmt.Errorf("retention payload: %w", err)
	}
	days := p.Days
	if days <= 0 {
		days = j.days
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	start := time.Now()
	purged, err := j.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		j.log.Error("retention purge failed",
			logger.String("cutoff", cutoff.Format(time.RFC3339)),
			logger.Error(err))
		return err
	}
	j.log.Info("retention purge done",
		logger.String("cutoff", cutoff.Format(time.RFC3339)),
		logger.Int64("batches_purged", purged),
		logger.Duration("duration_ms", time.Since(start)))
	return nil
}
