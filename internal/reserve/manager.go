package reserve

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/store"
	"GasWarden/pkg/logger"
)

// stateKey 是储备快照在共享存储中的键。
const stateKey = "reserve:state"

// casMaxRetries 限制乐观写入的重试次数，超出后放弃本次更新。
const casMaxRetries = 5

// Manager 负责读取、合并与持久化储备快照。
type Manager struct {
	store store.Store
	clock func() time.Time
	log   *slog.Logger
}

// ManagerOption 定义可选的 Manager 配置。
type ManagerOption func(*Manager)

// WithClock 替换时间源，主要用于测试。
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager 构造储备状态管理器。
func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: st,
		clock: time.Now,
		log:   logger.Named("reserve"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Get 返回当前储备快照。存储中不存在记录时返回 (nil, nil)，
// 调用方应将其视为“状态未知”，而非零值快照。
func (m *Manager) Get(ctx context.Context) (*State, error) {
	if m == nil || m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "储备存储未初始化")
	}
	raw, ok, err := m.store.Get(ctx, stateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取储备快照失败")
	}
	if !ok {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析储备快照失败")
	}
	return &state, nil
}

// Update 执行读取-合并-写入。通过快照中的版本号做乐观并发控制，
// 版本冲突时重新读取并重试，避免并发更新互相覆盖。
func (m *Manager) Update(ctx context.Context, update Update) (*State, error) {
	if m == nil || m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "储备存储未初始化")
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		raw, ok, err := m.store.Get(ctx, stateKey)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取储备快照失败")
		}

		base := State{}
		if ok {
			if err := json.Unmarshal([]byte(raw), &base); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析储备快照失败")
			}
		}

		merged := merge(base, update)
		merged.Version = base.Version + 1
		merged.LastUpdated = m.stampUpdated(base.LastUpdated)

		encoded, err := json.Marshal(merged)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化储备快照失败")
		}

		var written bool
		if !ok {
			written, err = m.store.SetNX(ctx, stateKey, string(encoded))
		} else {
			written, err = m.store.CompareAndSwap(ctx, stateKey, raw, string(encoded))
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "持久化储备快照失败")
		}
		if written {
			return &merged, nil
		}
		m.log.Debug("储备快照写入冲突，重试", slog.Int("attempt", attempt+1))
	}
	return nil, xerrors.New(xerrors.CodeStorageFailure, "储备快照更新冲突次数过多")
}

// stampUpdated 保证 LastUpdated 单调不减。
func (m *Manager) stampUpdated(previous int64) int64 {
	now := m.clock().Unix()
	if now < previous {
		return previous
	}
	return now
}
