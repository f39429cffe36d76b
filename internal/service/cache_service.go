package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/aularis/lms-api/pkg/errors"
)

// cacheStore is the redis-backed storage the cache service fronts.
type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts the cache store with hit and miss accounting. It
// plugs into services that memoize query results, currently the
// assessment statistics cache.
type CacheService struct {
	store      cacheStore
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewCacheService constructs a cache service. metrics may be nil.
func NewCacheService(store cacheStore, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, defaultTTL: defaultTTL, logger: logger}
}

// Get reads a cached entry into dest. A miss surfaces as ErrCacheMiss so
// callers can fall through to the database.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	start := time.Now()
	err := s.store.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Set stores value under key. A non-positive ttl falls back to the
// configured default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.store.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	return err
}

// DeleteByPattern invalidates every key matching the pattern.
func (s *CacheService) DeleteByPattern(ctx context.Context, pattern string) error {
	return s.store.DeleteByPattern(ctx, pattern)
}
