// Package redislimiter provides a Redis-backed refresh-retry budget so that
// replicas of the same service share one once-per-window refresh allowance
// instead of each spending their own.
package redislimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Budget is a sliding-window budget over a Redis ZSET. All replicas that
// construct it with the same key share the window.
type Budget struct {
	rdb    *redis.Client
	key    string
	limit  int
	window time.Duration
	ctx    context.Context
}

// New constructs a shared budget. The key should identify the issuer whose
// key-set refreshes are being budgeted, e.g. "azidkit:retry:login.microsoftonline.com".
func New(rdb *redis.Client, key string, limit int, window time.Duration) *Budget {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Budget{rdb: rdb, key: key, limit: limit, window: window, ctx: context.Background()}
}

// Reserve consumes one slot if the shared window has capacity. The
// reservation is written first and rolled back on overflow so two replicas
// racing for the last slot cannot both win.
func (b *Budget) Reserve() (bool, error) {
	if b == nil || b.rdb == nil {
		return false, fmt.Errorf("redislimiter: missing redis client")
	}
	now := time.Now().UnixMilli()
	start := now - b.window.Milliseconds()
	member := reservationMember(now)

	pipe := b.rdb.TxPipeline()
	pipe.ZAdd(b.ctx, b.key, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(b.ctx, b.key, "0", fmt.Sprintf("%d", start))
	countCmd := pipe.ZCard(b.ctx, b.key)
	pipe.Expire(b.ctx, b.key, b.window+time.Second)
	if _, err := pipe.Exec(b.ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(b.limit) {
		b.rdb.ZRem(b.ctx, b.key, member)
		return false, nil
	}
	return true, nil
}

// reservationMember builds the ZSET member for one reservation. The uuid
// suffix keeps reservations from replicas in the same millisecond distinct,
// so the overflow rollback only ever removes its own member.
func reservationMember(now int64) string {
	return fmt.Sprintf("%d:%s", now, uuid.NewString())
}
