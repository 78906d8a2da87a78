package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SyncLease is the cross-process half of the single-flight guarantee:
// one lease per (organization, integration) pair, acquired before a sync
// starts and released after it completes. The TTL bounds how long a
// crashed holder can block the pair.
type SyncLease struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// ErrLeaseHeld is returned when another sync already holds the lease.
var ErrLeaseHeld = fmt.Errorf("sync lease already held")

// releaseScript deletes the lease only when the caller still owns it, so
// a holder whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// NewSyncLease creates a lease manager with the given expiry.
func NewSyncLease(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SyncLease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SyncLease{client: client, logger: logger, ttl: ttl}
}

func leaseKey(orgID, integrationID uuid.UUID) string {
	return fmt.Sprintf("sync:lease:%s:%s", orgID, integrationID)
}

// Acquire takes the lease for the pair, returning a release token, or
// ErrLeaseHeld when a sync is already in flight.
func (l *SyncLease) Acquire(ctx context.Context, orgID, integrationID uuid.UUID) (string, error) {
	token := uuid.NewString()
	key := leaseKey(orgID, integrationID)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquiring sync lease: %w", err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}

	l.logger.Debug("sync lease acquired",
		zap.String("key", key),
		zap.Duration("ttl", l.ttl))
	return token, nil
}

// Release gives the lease back. Releasing a lease that expired and was
// re-acquired by another holder is a no-op.
func (l *SyncLease) Release(ctx context.Context, orgID, integrationID uuid.UUID, token string) error {
	key := leaseKey(orgID, integrationID)
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("releasing sync lease: %w", err)
	}
	if n == 0 {
		l.logger.Warn("sync lease expired before release", zap.String("key", key))
	}
	return nil
}

// Extend refreshes the TTL for a long-running sync that still owns the
// lease.
func (l *SyncLease) Extend(ctx context.Context, orgID, integrationID uuid.UUID, token string) error {
	key := leaseKey(orgID, integrationID)
	current, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrLeaseHeld
		}
		return fmt.Errorf("reading sync lease: %w", err)
	}
	if current != token {
		return ErrLeaseHeld
	}
	return l.client.Expire(ctx, key, l.ttl).Err()
}
