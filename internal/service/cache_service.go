package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type statsCacheStore interface {
	Get(ctx context.Context, subjectID string) (*models.SubjectStatistics, error)
	Set(ctx context.Context, stats *models.SubjectStatistics, ttl time.Duration) error
	Delete(ctx context.Context, subjectIDs ...string) error
}

type cacheObserver interface {
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveCacheWrite(duration time.Duration)
}

// StatsCache fronts the class statistics cache and records hit ratios.
// Cache failures are logged and treated as misses.
type StatsCache struct {
	store   statsCacheStore
	metrics cacheObserver
	ttl     time.Duration
	enabled bool
	logger  *zap.Logger
}

// NewStatsCache constructs a statistics cache.
func NewStatsCache(store statsCacheStore, metrics cacheObserver, ttl time.Duration, enabled bool, logger *zap.Logger) *StatsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsCache{store: store, metrics: metrics, ttl: ttl, enabled: enabled, logger: logger}
}

// Enabled indicates whether caching is active.
func (c *StatsCache) Enabled() bool {
	return c != nil && c.enabled && c.store != nil
}

// Get returns the cached statistics of a subject, if any.
func (c *StatsCache) Get(ctx context.Context, subjectID string) (*models.SubjectStatistics, bool) {
	if !c.Enabled() {
		return nil, false
	}
	start := time.Now()
	stats, err := c.store.Get(ctx, subjectID)
	hit := err == nil && stats != nil
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(hit, time.Since(start))
	}
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		c.logger.Warn("statistics cache read failed", zap.String("subject_id", subjectID), zap.Error(err))
	}
	return stats, hit
}

// Put stores a statistics snapshot.
func (c *StatsCache) Put(ctx context.Context, stats *models.SubjectStatistics) {
	if !c.Enabled() || stats == nil {
		return
	}
	start := time.Now()
	err := c.store.Set(ctx, stats, c.ttl)
	if c.metrics != nil {
		c.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		c.logger.Warn("statistics cache write failed", zap.String("subject_id", stats.SubjectID), zap.Error(err))
	}
}

// Invalidate drops cached statistics for the given subjects.
func (c *StatsCache) Invalidate(ctx context.Context, subjectIDs ...string) {
	if !c.Enabled() || len(subjectIDs) == 0 {
		return
	}
	if err := c.store.Delete(ctx, subjectIDs...); err != nil {
		c.logger.Warn("statistics cache invalidate failed", zap.Strings("subject_ids", subjectIDs), zap.Error(err))
	}
}

type nopStatsInvalidator struct{}

func (nopStatsInvalidator) Invalidate(context.Context, ...string) {}
