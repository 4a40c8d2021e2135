package cache

import (
	"context"
	"fmt"
	"time"

	"donatebot/internal/config"

	"github.com/go-redis/redis/v8"
)

// InitRedis connects and pings. The caller owns the returned client.
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}
