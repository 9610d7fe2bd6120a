package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/lessoncall/internal/coordination"
	goredis "github.com/redis/go-redis/v9"
)

// KEYS[1] = slot key, ARGV[1] = limit, ARGV[2] = ttl_ms
// Returns 1 if acquired, 0 if the limit is reached.
var acquireScript = goredis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
elseif redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseScript = goredis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

type Guard struct {
	rdb *goredis.Client
}

func NewGuard(rdb *goredis.Client) *Guard {
	return &Guard{rdb: rdb}
}

func (g *Guard) Acquire(ctx context.Context, lessonID, partyID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}
	key := coordination.GuardKey(lessonID, partyID)
	res, err := acquireScript.Run(ctx, g.rdb, []string{key}, 1, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire session guard: %w", err)
	}
	return res == 1, nil
}

func (g *Guard) Release(ctx context.Context, lessonID, partyID string) error {
	key := coordination.GuardKey(lessonID, partyID)
	if _, err := releaseScript.Run(ctx, g.rdb, []string{key}).Result(); err != nil {
		return fmt.Errorf("failed to release session guard: %w", err)
	}
	return nil
}
