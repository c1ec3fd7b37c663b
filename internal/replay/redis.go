package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the replay window between hub replicas using SET NX PX.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = "ltihub:replay:"
	}
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*Redis, *redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("replay: ping redis: %w", err)
	}
	return NewRedis(c, ""), c, nil
}

func (r *Redis) Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := key(kind, value)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.prefix+k, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: setnx: %w", err)
	}
	return ok, nil
}
