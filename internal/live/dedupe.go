package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper remembers which notification ids were already delivered.
type Deduper interface {
	// AcquireOnce returns true the first time an id is seen for a member
	// within the TTL and false for a redelivery.
	AcquireOnce(ctx context.Context, memberID, notificationID int64) bool
}

// MemoryDeduper keeps delivered ids in process memory.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates an in-process deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (d *MemoryDeduper) AcquireOnce(_ context.Context, memberID, notificationID int64) bool {
	key := dedupeKey(memberID, notificationID)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, k)
		}
	}
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	return true
}

// RedisDeduper shares delivered ids through Redis so several clients of the
// same member agree on what was already shown.
type RedisDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisDeduper creates a deduper backed by SETNX keys with a TTL.
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisDeduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl, logger: logger}
}

func (d *RedisDeduper) AcquireOnce(ctx context.Context, memberID, notificationID int64) bool {
	key := dedupeKey(memberID, notificationID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis down: deliver rather than lose the notification.
		d.logger.Warn("redis dedupe check failed, allowing delivery",
			zap.Int64("notification_id", notificationID),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Debug("skipped redelivered notification",
			zap.Int64("notification_id", notificationID),
			zap.String("dedupe_key", key),
		)
	}
	return ok
}

func dedupeKey(memberID, notificationID int64) string {
	return fmt.Sprintf("roomnoti:dedup:%d:%d", memberID, notificationID)
}
