package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/cache"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

// StatsCacheRepository stores class statistics snapshots in Redis keyed by subject.
type StatsCacheRepository struct {
	client *redis.Client
}

// NewStatsCacheRepository constructs a statistics cache repository. A nil client behaves as an always-empty cache.
func NewStatsCacheRepository(client *redis.Client) *StatsCacheRepository {
	return &StatsCacheRepository{client: client}
}

// Get loads the cached statistics of a subject or returns ErrCacheMiss.
func (r *StatsCacheRepository) Get(ctx context.Context, subjectID string) (*models.SubjectStatistics, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	key := cache.StatsKey(subjectID)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var stats models.SubjectStatistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decode statistics %s: %w", key, err)
	}
	return &stats, nil
}

// Set stores a statistics snapshot with the given TTL.
func (r *StatsCacheRepository) Set(ctx context.Context, stats *models.SubjectStatistics, ttl time.Duration) error {
	if r.client == nil || stats == nil {
		return nil
	}
	key := cache.StatsKey(stats.SubjectID)
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode statistics %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete drops the cached statistics of the given subjects.
func (r *StatsCacheRepository) Delete(ctx context.Context, subjectIDs ...string) error {
	if r.client == nil || len(subjectIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(subjectIDs))
	for _, id := range subjectIDs {
		keys = append(keys, cache.StatsKey(id))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete statistics: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable. A disabled cache is always ready.
func (r *StatsCacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}
