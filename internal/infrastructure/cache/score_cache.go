package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/domain/health"
)

// ScoreCache holds computed health scores with a short TTL. The cached
// value carries its own calculated_at; the control row and the history
// ledger remain the source of truth.
type ScoreCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewScoreCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ScoreCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ScoreCache{client: client, logger: logger, ttl: ttl}
}

func scoreKey(controlID uuid.UUID) string {
	return fmt.Sprintf("health:score:%s", controlID)
}

// Get returns the cached score, or (nil, nil) on a miss.
func (c *ScoreCache) Get(ctx context.Context, controlID uuid.UUID) (*health.Result, error) {
	data, err := c.client.Get(ctx, scoreKey(controlID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading score cache: %w", err)
	}
	var r health.Result
	if err := json.Unmarshal(data, &r); err != nil {
		// A corrupt entry is a miss; it will be overwritten.
		c.logger.Warn("dropping undecodable score cache entry",
			zap.String("control_id", controlID.String()), zap.Error(err))
		return nil, nil
	}
	return &r, nil
}

// Set stores a computed score.
func (c *ScoreCache) Set(ctx context.Context, controlID uuid.UUID, r health.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding score: %w", err)
	}
	return c.client.Set(ctx, scoreKey(controlID), data, c.ttl).Err()
}

// Invalidate drops the cached score after a verification state change.
func (c *ScoreCache) Invalidate(ctx context.Context, controlID uuid.UUID) error {
	return c.client.Del(ctx, scoreKey(controlID)).Err()
}
