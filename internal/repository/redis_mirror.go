package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/model"
)

// RedisMirror publishes every frame on a pub/sub channel per key and keeps
// the most recent frame under a TTL'd latest key.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(cfg *config.Config) (*RedisMirror, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMirror{
		client: rdb,
		prefix: cfg.Redis.ChannelPrefix,
		ttl:    time.Duration(cfg.Redis.LatestTTLSeconds) * time.Second,
	}, nil
}

func (r *RedisMirror) Name() string { return "redis" }

func (r *RedisMirror) Publish(ctx context.Context, key model.ChannelKey, msg []byte) error {
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, redisChannel(r.prefix, key), msg)
	pipe.Set(ctx, redisLatestKey(r.prefix, key), msg, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}

func redisChannel(prefix string, key model.ChannelKey) string {
	if prefix == "" {
		return key.String()
	}
	return prefix + ":" + key.String()
}

func redisLatestKey(prefix string, key model.ChannelKey) string {
	if prefix == "" {
		return "latest:" + key.String()
	}
	return prefix + ":latest:" + key.String()
}
