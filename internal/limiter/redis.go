package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// acquireScript adds a permit to the channel's sorted set when fewer than
// cap unexpired permits exist. Permits are scored by their expiry.
//
// KEYS[1] = semaphore key
// ARGV[1] = now (ms), ARGV[2] = expiry (ms), ARGV[3] = cap, ARGV[4] = token
const acquireScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]) - tonumber(ARGV[1]))
	return 1
end
return 0
`

// Redis is a semaphore shared by all worker processes using the same Redis.
// A permit held by a crashed process expires after PermitTTL.
type Redis struct {
	client    *redis.Client
	caps      map[model.Channel]int
	acquire   *redis.Script
	prefix    string
	PermitTTL time.Duration
	Poll      time.Duration
	Now       func() time.Time
}

func NewRedis(client *redis.Client, caps map[model.Channel]int) *Redis {
	return &Redis{
		client:    client,
		caps:      caps,
		acquire:   redis.NewScript(acquireScript),
		prefix:    "crces:sem:",
		PermitTTL: 2 * time.Minute,
		Poll:      50 * time.Millisecond,
		Now:       time.Now,
	}
}

// NewRedisFromURL connects to Redis and checks the connection.
func NewRedisFromURL(ctx context.Context, redisURL string, caps map[model.Channel]int) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, caps), nil
}

func (r *Redis) key(ch model.Channel) string { return r.prefix + string(ch) }

func (r *Redis) Acquire(ctx context.Context, ch model.Channel) (func(), error) {
	limit, ok := r.caps[ch]
	if !ok {
		return nil, fmt.Errorf("no concurrency cap configured for channel %s", ch)
	}
	token := uuid.NewString()
	key := r.key(ch)

	for {
		now := r.Now()
		got, err := r.acquire.Run(ctx, r.client, []string{key},
			now.UnixMilli(), now.Add(r.PermitTTL).UnixMilli(), limit, token).Int()
		if err != nil {
			return nil, fmt.Errorf("acquire %s permit: %w", ch, err)
		}
		if got == 1 {
			return func() {
				// release must succeed even if the caller's context is done
				r.client.ZRem(context.Background(), key, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Poll):
		}
	}
}

// InUse reports the number of unexpired permits for a channel.
func (r *Redis) InUse(ctx context.Context, ch model.Channel) (int64, error) {
	now := fmt.Sprint(r.Now().UnixMilli())
	return r.client.ZCount(ctx, r.key(ch), "("+now, "+inf").Result()
}
