package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrementBelow adds one to KEYS[1] unless it already holds ARGV[1] or
// more. It returns the counter value and 1 when the increment happened.
var incrementBelow = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n >= tonumber(ARGV[1]) then
	return {n, 0}
end
n = redis.call("INCR", KEYS[1])
redis.call("EXPIREAT", KEYS[1], ARGV[2])
return {n, 1}
`)

// RedisCounter shares daily counters between gateway instances. Keys expire
// one day after the date they count.
type RedisCounter struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, keyPrefix: "quota:daily:"}
}

func (c *RedisCounter) key(tenantID, date string) string {
	return c.keyPrefix + tenantID + ":" + date
}

func (c *RedisCounter) Used(ctx context.Context, tenantID, date string) (int, error) {
	n, err := c.client.Get(ctx, c.key(tenantID, date)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get daily counter: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Increment(ctx context.Context, tenantID, date string, limit int) (int, bool, error) {
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return 0, false, fmt.Errorf("parse date %q: %w", date, err)
	}
	key := c.key(tenantID, date)
	expireAt := day.Add(48 * time.Hour).Unix()

	res, err := incrementBelow.Run(ctx, c.client, []string{key}, limit, expireAt).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment daily counter: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment daily counter: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}
