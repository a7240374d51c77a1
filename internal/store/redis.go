package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 存储的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// RedisStore 基于 Redis 实现 Store 接口。
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore 连接 Redis 并返回存储实例。
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gaswarden:"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get 读取键值，键不存在时返回 ok=false。
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("Redis 读取失败: %w", err)
	}
	return value, true, nil
}

// Set 写入键值。
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("Redis 写入失败: %w", err)
	}
	return nil
}

// SetNX 仅在键不存在时写入。
func (s *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("Redis SetNX 失败: %w", err)
	}
	return ok, nil
}

// IncrBy 原子地增加计数器。
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("Redis 自增失败: %w", err)
	}
	return value, nil
}

// CompareAndSwap 通过 WATCH 事务实现乐观替换。
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, expect, next string) (bool, error) {
	fullKey := s.key(key)
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if errors.Is(err, redis.Nil) {
			current = ""
		}
		if current != expect {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, fullKey)
	if err != nil {
		// 事务因并发写入失败时视为替换未成功，由调用方重试。
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, fmt.Errorf("Redis CAS 失败: %w", err)
	}
	return swapped, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
