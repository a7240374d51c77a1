package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/store"
	"GasWarden/pkg/logger"
)

// Category 表示付费外部 API 的配额分类。
type Category string

const (
	CategoryProof     Category = "proof"
	CategoryStats     Category = "stats"
	CategoryHealth    Category = "health"
	CategoryEmergency Category = "emergency"
)

// Categories 是允许的分类全集。
var Categories = []Category{CategoryProof, CategoryStats, CategoryHealth, CategoryEmergency}

// SkipKind 区分省去付费调用的两条廉价路径。
type SkipKind string

const (
	SkipFiltered  SkipKind = "filtered"
	SkipTemplated SkipKind = "templated"
)

// 默认的每月分类配额。
var defaultBudgets = map[Category]int64{
	CategoryProof:     300,
	CategoryStats:     200,
	CategoryHealth:    150,
	CategoryEmergency: 50,
}

const defaultAvgCallCostUSD = 0.08

// Config 描述配额分配器的运行参数。
type Config struct {
	// MonthlyBudgets 按分类覆盖默认配额，单位为调用次数。
	MonthlyBudgets map[Category]int64
	// AvgCallCostUSD 用于估算廉价路径节省的成本。
	AvgCallCostUSD float64
}

// Allocator 跟踪每个分类的月度配额消耗。配额采用硬上限：
// 超出配额的调用被拒绝，而不是放行后标记。
type Allocator struct {
	store   store.Store
	budgets map[Category]int64
	avgCost float64
	clock   func() time.Time
	log     *slog.Logger
}

// Option 定义可选的 Allocator 配置。
type Option func(*Allocator)

// WithClock 替换时间源，主要用于测试月份切换。
func WithClock(clock func() time.Time) Option {
	return func(a *Allocator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAllocator 构造配额分配器。
func NewAllocator(st store.Store, cfg Config, opts ...Option) *Allocator {
	budgets := make(map[Category]int64, len(defaultBudgets))
	for category, quota := range defaultBudgets {
		budgets[category] = quota
	}
	for category, quota := range cfg.MonthlyBudgets {
		if quota > 0 {
			budgets[category] = quota
		}
	}
	avgCost := cfg.AvgCallCostUSD
	if avgCost <= 0 {
		avgCost = defaultAvgCallCostUSD
	}
	a := &Allocator{
		store:   st,
		budgets: budgets,
		avgCost: avgCost,
		clock:   time.Now,
		log:     logger.Named("budget"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// monthKey 返回 UTC 日历月键。新的月份键从零开始计数，
// 因此无需显式的重置任务。
func (a *Allocator) monthKey() string {
	return a.clock().UTC().Format("2006-01")
}

func (a *Allocator) usageKey(month string, category Category) string {
	return fmt.Sprintf("budget:%s:%s", month, category)
}

func (a *Allocator) skipKey(month string, kind SkipKind) string {
	return fmt.Sprintf("skips:%s:%s", month, kind)
}

func validCategory(category Category) bool {
	switch category {
	case CategoryProof, CategoryStats, CategoryHealth, CategoryEmergency:
		return true
	default:
		return false
	}
}

// CheckAndConsume 原子地消耗配额并返回是否放行。
// 检查与消耗通过底层存储的原子自增一步完成：先自增，超出配额时
// 回滚增量并拒绝，保证并发调用下放行次数恰好等于配额。
// 存储不可用时拒绝调用（fail closed），以保护成本预算。
func (a *Allocator) CheckAndConsume(ctx context.Context, category Category, amount int64) (bool, error) {
	if a == nil || a.store == nil {
		return false, xerrors.New(xerrors.CodeInitializationFailure, "配额存储未初始化")
	}
	if !validCategory(category) {
		return false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的配额分类: %s", category))
	}
	if amount <= 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "消耗数量必须为正数")
	}

	month := a.monthKey()
	quota := a.budgets[category]
	key := a.usageKey(month, category)

	used, err := a.store.IncrBy(ctx, key, amount)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "配额存储不可用，拒绝调用")
	}
	if used > quota {
		if _, rollbackErr := a.store.IncrBy(ctx, key, -amount); rollbackErr != nil {
			a.log.Error("配额回滚失败",
				slog.String("category", string(category)),
				slog.Any("error", rollbackErr),
			)
		}
		a.log.Warn("配额已耗尽，拒绝调用",
			slog.String("category", string(category)),
			slog.String("month", month),
			slog.Int64("quota", quota),
		)
		return false, nil
	}
	return true, nil
}

// RecordSkip 记录一次经由廉价路径省去的付费调用，尽力而为。
func (a *Allocator) RecordSkip(ctx context.Context, kind SkipKind) {
	if a == nil || a.store == nil {
		return
	}
	if _, err := a.store.IncrBy(ctx, a.skipKey(a.monthKey(), kind), 1); err != nil {
		a.log.Warn("记录节省计数失败", slog.Any("error", err))
	}
}
