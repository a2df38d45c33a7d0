package repository

import (
	"context"
	"errors"
	"time"

	"TrendScan/internal/domain/models"
	domrepo "TrendScan/internal/domain/repository"
	pkgcache "TrendScan/pkg/cache"
)

const (
	barCachePrefix = "bars"
	barCacheTTL    = 6 * time.Hour
)

// BarCacheStore keys bar series by (symbol, timeframe) on top of the layered
// cache. A miss is not an error: Get returns an empty series.
type BarCacheStore struct {
	cache pkgcache.Service
}

func NewBarCacheStore(c pkgcache.Service) *BarCacheStore {
	return &BarCacheStore{cache: c}
}

func (s *BarCacheStore) Get(ctx context.Context, symbol string, tf domrepo.Timeframe) ([]models.Bar, error) {
	var bars []models.Bar
	err := s.cache.Get(ctx, pkgcache.Key(barCachePrefix, symbol, string(tf)), &bars)
	if errors.Is(err, pkgcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (s *BarCacheStore) Put(ctx context.Context, symbol string, tf domrepo.Timeframe, bars []models.Bar) error {
	return s.cache.Set(ctx, pkgcache.Key(barCachePrefix, symbol, string(tf)), bars, barCacheTTL)
}

var _ domrepo.BarCache = (*BarCacheStore)(nil)
