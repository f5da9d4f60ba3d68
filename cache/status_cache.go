package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soniqfm/logger"
	"soniqfm/model"

	"github.com/redis/go-redis/v9"
)

// statusTTL keeps cached polling responses short-lived; the pipeline also
// invalidates explicitly on every commit, so the TTL is only a backstop.
const statusTTL = 30 * time.Second

// StatusCache caches the minimal track status shape used by polling clients.
type StatusCache struct {
	rdb *redis.Client
}

// NewStatusCache creates a StatusCache on the given Redis client.
func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func statusKey(trackID int64) string {
	return fmt.Sprintf("soniqfm:track:%d:status", trackID)
}

// Get returns the cached status, or (nil, nil) on a miss.
func (c *StatusCache) Get(ctx context.Context, trackID int64) (*model.StatusInfo, error) {
	data, err := c.rdb.Get(ctx, statusKey(trackID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status cache: %w", err)
	}

	var info model.StatusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Treat a corrupt entry as a miss; it will be overwritten.
		return nil, nil
	}
	return &info, nil
}

// Set stores the status with a short TTL. Cache write failures are logged,
// never returned; the database remains the source of truth.
func (c *StatusCache) Set(ctx context.Context, info *model.StatusInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statusKey(info.ID), data, statusTTL).Err(); err != nil {
		logger.Warn("failed to cache track status",
			logger.Int64("trackId", info.ID),
			logger.ErrorField(err))
	}
}

// Invalidate drops the cached status after a state transition commit.
func (c *StatusCache) Invalidate(ctx context.Context, trackID int64) {
	if err := c.rdb.Del(ctx, statusKey(trackID)).Err(); err != nil {
		logger.Warn("failed to invalidate status cache",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}
