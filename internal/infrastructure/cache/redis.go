package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenRedis connects and pings. The same client backs idempotency keys, the
// token ledger and the compliance registry, each under its own key prefix.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	return OpenRedisWithOptions(&redis.Options{Addr: addr, DB: db})
}

func OpenRedisWithOptions(opts *redis.Options) (*redis.Client, error) {
	r := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
