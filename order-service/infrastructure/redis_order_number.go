package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// dailySequenceCap bounds the per-day sequence so the formatted number never
// overflows its six digits
const dailySequenceCap = 999999

// RedisOrderNumberAllocator hands out date-scoped order numbers like
// ORD-20260830-000042 backed by a Redis counter. INCR survives process
// restarts, so numbers never repeat within a day; the key expires two days
// after its date and cleans itself up.
type RedisOrderNumberAllocator struct {
	client *redis.Client
	prefix string
}

// NewRedisOrderNumberAllocator creates a new RedisOrderNumberAllocator
func NewRedisOrderNumberAllocator(client *redis.Client) *RedisOrderNumberAllocator {
	return &RedisOrderNumberAllocator{
		client: client,
		prefix: "orders:seq",
	}
}

// Next allocates the next order number for the given day
func (a *RedisOrderNumberAllocator) Next(ctx context.Context, day time.Time) (string, error) {
	date := day.Format("20060102")
	key := fmt.Sprintf("%s:%s", a.prefix, date)

	seq, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return "", errors.Wrap(err, "failed to increment order sequence")
	}
	if seq == 1 {
		// first allocation of the day sets the expiry; losing this on a
		// crash only means the key lingers, never that numbers repeat
		a.client.Expire(ctx, key, 48*time.Hour)
	}
	if seq > dailySequenceCap {
		return "", errors.Errorf("daily order number sequence exhausted for %s", date)
	}

	return fmt.Sprintf("ORD-%s-%06d", date, seq), nil
}
