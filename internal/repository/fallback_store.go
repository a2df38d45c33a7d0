package repository

import (
	"context"
	"fmt"
	"time"

	"TrendScan/internal/domain/models"
	domrepo "TrendScan/internal/domain/repository"
	pkgcache "TrendScan/pkg/cache"
)

const (
	fallbackBatchKey    = "fallback:latest_batch"
	fallbackPricePrefix = "fallback:price"
	fallbackBatchTTL    = 72 * time.Hour
	fallbackPriceTTL    = 24 * time.Hour
)

// RedisFallbackStore keeps the most recent batch and per-symbol last prices
// in Redis so dashboards keep serving when the primary tier is down.
type RedisFallbackStore struct {
	cache pkgcache.Service
}

func NewRedisFallbackStore(c pkgcache.Service) *RedisFallbackStore {
	return &RedisFallbackStore{cache: c}
}

func (s *RedisFallbackStore) SnapshotBatch(ctx context.Context, batch *models.IngestionBatch) error {
	snap := *batch
	snap.Tier = models.TierFallback
	if err := s.cache.Set(ctx, fallbackBatchKey, &snap, fallbackBatchTTL); err != nil {
		return &models.PersistenceError{Tier: models.TierFallback, Err: fmt.Errorf("snapshot batch: %w", err)}
	}
	return nil
}

// LatestBatch returns the snapshot, or nil when none was written.
func (s *RedisFallbackStore) LatestBatch(ctx context.Context) (*models.IngestionBatch, error) {
	var batch models.IngestionBatch
	err := s.cache.Get(ctx, fallbackBatchKey, &batch)
	if err == pkgcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Tier: models.TierFallback, Err: err}
	}
	return &batch, nil
}

func (s *RedisFallbackStore) SetLatestPrice(ctx context.Context, symbol string, price float64) error {
	key := pkgcache.Key(fallbackPricePrefix, symbol)
	if err := s.cache.Set(ctx, key, price, fallbackPriceTTL); err != nil {
		return &models.PersistenceError{Tier: models.TierFallback, Err: fmt.Errorf("set price %s: %w", symbol, err)}
	}
	return nil
}

func (s *RedisFallbackStore) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	key := pkgcache.Key(fallbackPricePrefix, symbol)
	if err := s.cache.Get(ctx, key, &price); err != nil {
		return 0, &models.PersistenceError{Tier: models.TierFallback, Err: fmt.Errorf("get price %s: %w", symbol, err)}
	}
	return price, nil
}

var _ domrepo.FallbackStore = (*RedisFallbackStore)(nil)
