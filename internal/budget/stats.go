package budget

import (
	"context"
	"strconv"

	xerrors "GasWarden/internal/errors"
)

// CategoryUsage 给出单个分类的月度用量与配额。
type CategoryUsage struct {
	Used   int64 `json:"used"`
	Budget int64 `json:"budget"`
}

// Stats 汇总当前月份的配额使用情况与成本节省估算。
type Stats struct {
	Month             string                     `json:"month"`
	Total             int64                      `json:"total"`
	Quota             int64                      `json:"quota"`
	ByCategory        map[Category]CategoryUsage `json:"by_category"`
	FilteredSkips     int64                      `json:"filtered_skips"`
	TemplateSkips     int64                      `json:"template_skips"`
	EstimatedSavedUSD float64                    `json:"estimated_saved_usd"`
}

// UsageStats 返回当前月份的用量统计。统计只读取计数器，不做任何修改。
func (a *Allocator) UsageStats(ctx context.Context) (*Stats, error) {
	if a == nil || a.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "配额存储未初始化")
	}

	month := a.monthKey()
	stats := &Stats{
		Month:      month,
		ByCategory: make(map[Category]CategoryUsage, len(Categories)),
	}

	for _, category := range Categories {
		used, err := a.readCounter(ctx, a.usageKey(month, category))
		if err != nil {
			return nil, err
		}
		quota := a.budgets[category]
		stats.ByCategory[category] = CategoryUsage{Used: used, Budget: quota}
		stats.Total += used
		stats.Quota += quota
	}

	filtered, err := a.readCounter(ctx, a.skipKey(month, SkipFiltered))
	if err != nil {
		return nil, err
	}
	templated, err := a.readCounter(ctx, a.skipKey(month, SkipTemplated))
	if err != nil {
		return nil, err
	}
	stats.FilteredSkips = filtered
	stats.TemplateSkips = templated
	// 节省估算 = 廉价路径跳过的调用数 × 平均单次调用成本。
	stats.EstimatedSavedUSD = float64(filtered+templated) * a.avgCost
	return stats, nil
}

func (a *Allocator) readCounter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := a.store.Get(ctx, key)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "读取配额计数失败")
	}
	if !ok {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "配额计数不是整数")
	}
	return value, nil
}
