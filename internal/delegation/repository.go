package delegation

import "context"

// Repository 抽象委托记录与用量事件的持久化。
type Repository interface {
	// Create 在委托授予时落库。
	Create(ctx context.Context, record *Record) error
	// Get 返回指定委托，未找到时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*Record, error)
	// ListUsage 按时间倒序返回用量事件切片。
	ListUsage(ctx context.Context, id string, limit, offset int) ([]UsageEvent, error)
	// AppendUsage 原子地扣减额度并追加事件，剩余额度不足时返回
	// ErrBudgetExceeded 且不产生任何修改。
	AppendUsage(ctx context.Context, event UsageEvent) (*Record, error)
	// Close 释放底层资源。
	Close() error
}
