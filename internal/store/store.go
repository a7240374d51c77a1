package store

import "context"

// Store 定义资源治理状态所依赖的键值存储契约。
// Get 对缺失的键返回 (“”, false, nil)，由调用方自行决定缺省语义。
type Store interface {
	// Get 读取键值。键不存在时 ok 为 false 且不视为错误。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set 写入键值。
	Set(ctx context.Context, key, value string) error
	// SetNX 仅在键不存在时写入，返回是否写入成功。
	SetNX(ctx context.Context, key, value string) (bool, error)
	// IncrBy 原子地增加计数器并返回增加后的值。
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// CompareAndSwap 仅在当前值等于 expect 时替换为 next。
	// 值不匹配或存在并发写入时返回 (false, nil)。
	CompareAndSwap(ctx context.Context, key, expect, next string) (bool, error)
	// Close 释放底层连接。
	Close() error
}
