package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"offpay/internal/domain"
)

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// RedisBlobStore stores each blob as a plain Redis string under a prefix.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
}

// OpenRedisBlobStore connects to cfg.Addr and pings it.
func OpenRedisBlobStore(ctx context.Context, cfg RedisConfig) (*RedisBlobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &RedisBlobStore{client: client, prefix: cfg.Prefix}, nil
}

func (s *RedisBlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisBlobStore) SetBlob(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisBlobStore) Close() error { return s.client.Close() }

var _ domain.BlobStore = (*RedisBlobStore)(nil)
