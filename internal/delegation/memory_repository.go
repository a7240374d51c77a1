package delegation

import (
	"context"
	"sync"
	"time"

	xerrors "GasWarden/internal/errors"
)

// MemoryRepository 以内存方式保存委托数据，主要用于测试与本地运行。
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	usage   map[string][]UsageEvent
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
		usage:   make(map[string][]UsageEvent),
	}
}

// Create 实现 Repository 接口。
func (m *MemoryRepository) Create(_ context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "委托记录不能为空")
	}
	if record.GasBudget <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "gas 额度必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	clone := *record
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	if clone.GasBudgetRemaining == 0 && clone.GasBudgetSpent == 0 {
		clone.GasBudgetRemaining = clone.GasBudget
	}
	m.records[record.ID] = &clone
	return nil
}

// Get 实现 Repository 接口。
func (m *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// ListUsage 实现 Repository 接口，按时间倒序返回。
func (m *MemoryRepository) ListUsage(_ context.Context, id string, limit, offset int) ([]UsageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.records[id]; !ok {
		return nil, ErrNotFound
	}
	events := m.usage[id]
	// usage 内部按追加顺序保存，倒序遍历得到最新优先。
	total := len(events)
	if offset >= total {
		return []UsageEvent{}, nil
	}
	end := total - offset
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]UsageEvent, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, events[i])
	}
	return page, nil
}

// AppendUsage 实现 Repository 接口。
func (m *MemoryRepository) AppendUsage(_ context.Context, event UsageEvent) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[event.DelegationID]
	if !ok {
		return nil, ErrNotFound
	}
	if event.GasUsed <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "gas 消耗必须为正数")
	}
	if record.GasBudgetRemaining < event.GasUsed {
		return nil, ErrBudgetExceeded
	}
	record.UsageCount++
	record.TotalGasUsed += event.GasUsed
	record.GasBudgetSpent += event.GasUsed
	record.GasBudgetRemaining -= event.GasUsed
	record.UpdatedAt = time.Now().Unix()
	if event.CreatedAt == 0 {
		event.CreatedAt = record.UpdatedAt
	}
	m.usage[event.DelegationID] = append(m.usage[event.DelegationID], event)
	clone := *record
	return &clone, nil
}

// Close 对内存仓库无需操作。
func (m *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
