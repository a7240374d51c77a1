package budget

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/store"
)

func TestCheckAndConsumeRespectsQuota(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore(), Config{
		MonthlyBudgets: map[Category]int64{CategoryProof: 2},
	})

	for i := 0; i < 2; i++ {
		allowed, err := a.CheckAndConsume(ctx, CategoryProof, 1)
		if err != nil || !allowed {
			t.Fatalf("第 %d 次调用应放行: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	allowed, err := a.CheckAndConsume(ctx, CategoryProof, 1)
	if err != nil {
		t.Fatalf("超配额的拒绝不应报错: %v", err)
	}
	if allowed {
		t.Fatal("超出配额的调用应被拒绝")
	}

	stats, err := a.UsageStats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.ByCategory[CategoryProof].Used != 2 {
		t.Fatalf("拒绝的调用不应计入用量: %+v", stats.ByCategory[CategoryProof])
	}
}

// N 个并发调用争夺 K 个配额时，放行次数必须恰好为 K 且用量等于 K。
func TestCheckAndConsumeConcurrentExactness(t *testing.T) {
	ctx := context.Background()
	const quota = 25
	const callers = 100

	a := NewAllocator(store.NewMemoryStore(), Config{
		MonthlyBudgets: map[Category]int64{CategoryHealth: quota},
	})

	var allowed atomic.Int64
	var denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := a.CheckAndConsume(ctx, CategoryHealth, 1)
			if err != nil {
				t.Errorf("并发消耗失败: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != quota {
		t.Fatalf("放行次数应恰好等于配额: got %d want %d", allowed.Load(), quota)
	}
	if denied.Load() != callers-quota {
		t.Fatalf("拒绝次数不符: got %d want %d", denied.Load(), callers-quota)
	}

	stats, err := a.UsageStats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.ByCategory[CategoryHealth].Used != quota {
		t.Fatalf("最终用量应等于放行次数: %+v", stats.ByCategory[CategoryHealth])
	}
}

func TestCheckAndConsumeValidation(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore(), Config{})

	if _, err := a.CheckAndConsume(ctx, Category("bogus"), 1); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("未知分类应返回参数错误: %v", err)
	}
	if _, err := a.CheckAndConsume(ctx, CategoryStats, 0); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("零数量应返回参数错误: %v", err)
	}
	if _, err := a.CheckAndConsume(ctx, CategoryStats, -3); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("负数量应返回参数错误: %v", err)
	}

	stats, err := a.UsageStats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("校验失败不应产生任何消耗: %+v", stats)
	}
}

// 存储不可用时必须拒绝调用（fail closed），不允许放行。
func TestCheckAndConsumeFailsClosed(t *testing.T) {
	a := NewAllocator(&failingStore{}, Config{})

	allowed, err := a.CheckAndConsume(context.Background(), CategoryProof, 1)
	if allowed {
		t.Fatal("存储不可用时不应放行调用")
	}
	if !xerrors.IsCode(err, xerrors.CodeUpstreamUnavailable) {
		t.Fatalf("应返回上游不可用错误: %v", err)
	}
}

func TestMonthRolloverResetsUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)
	a := NewAllocator(store.NewMemoryStore(), Config{
		MonthlyBudgets: map[Category]int64{CategoryEmergency: 1},
	}, WithClock(func() time.Time { return now }))

	allowed, err := a.CheckAndConsume(ctx, CategoryEmergency, 1)
	if err != nil || !allowed {
		t.Fatalf("一月配额应放行: allowed=%v err=%v", allowed, err)
	}
	allowed, _ = a.CheckAndConsume(ctx, CategoryEmergency, 1)
	if allowed {
		t.Fatal("一月配额已用尽，应拒绝")
	}

	// 跨月后隐式从零开始，无需显式重置任务。
	now = time.Date(2026, time.February, 1, 0, 30, 0, 0, time.UTC)
	allowed, err = a.CheckAndConsume(ctx, CategoryEmergency, 1)
	if err != nil || !allowed {
		t.Fatalf("新月份应重新放行: allowed=%v err=%v", allowed, err)
	}
	stats, err := a.UsageStats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.Month != "2026-02" {
		t.Fatalf("统计月份不符: %s", stats.Month)
	}
	if stats.ByCategory[CategoryEmergency].Used != 1 {
		t.Fatalf("新月份用量应为 1: %+v", stats.ByCategory[CategoryEmergency])
	}
}

func TestUsageStatsEstimatesSavings(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore(), Config{AvgCallCostUSD: 0.1})

	a.RecordSkip(ctx, SkipFiltered)
	a.RecordSkip(ctx, SkipFiltered)
	a.RecordSkip(ctx, SkipTemplated)

	stats, err := a.UsageStats(ctx)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.FilteredSkips != 2 || stats.TemplateSkips != 1 {
		t.Fatalf("节省计数不符: %+v", stats)
	}
	if diff := stats.EstimatedSavedUSD - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("节省估算不符: %v", stats.EstimatedSavedUSD)
	}
}

// failingStore 模拟不可用的后端存储。
type failingStore struct{}

var errStoreDown = stdErrors.New("store down")

func (f *failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errStoreDown
}
func (f *failingStore) Set(context.Context, string, string) error { return errStoreDown }
func (f *failingStore) SetNX(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}
func (f *failingStore) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}
func (f *failingStore) CompareAndSwap(context.Context, string, string, string) (bool, error) {
	return false, errStoreDown
}
func (f *failingStore) Close() error { return nil }

var _ store.Store = (*failingStore)(nil)
