package store

import (
	"context"
	"strconv"
	"sync"

	xerrors "GasWarden/internal/errors"
)

// MemoryStore 以内存方式保存键值，主要用于测试与本地运行。
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set 实现 Store 接口。
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// SetNX 实现 Store 接口。
func (m *MemoryStore) SetNX(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

// IncrBy 实现 Store 接口。
func (m *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := int64(0)
	if raw, ok := m.values[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "计数器的值不是整数")
		}
		current = parsed
	}
	current += delta
	m.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// CompareAndSwap 实现 Store 接口。缺失的键视为空字符串。
func (m *MemoryStore) CompareAndSwap(_ context.Context, key, expect, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.values[key]
	if current != expect {
		return false, nil
	}
	m.values[key] = next
	return true, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
