package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/telecare-signaling/config"
	"github.com/redis/go-redis/v9"
)

// Connect builds a Redis client and verifies it with a PING.
// Blocking stream reads rely on ContextTimeoutEnabled to honour deadlines.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
