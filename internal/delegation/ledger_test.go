package delegation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	xerrors "GasWarden/internal/errors"
)

func intPtr(v int) *int { return &v }

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	repo := NewMemoryRepository()
	if err := repo.Create(context.Background(), &Record{
		ID:        "dlg-1",
		Delegator: "0xdelegator",
		Agent:     "0xagent",
		GasBudget: 1_000_000,
	}); err != nil {
		t.Fatalf("创建委托失败: %v", err)
	}
	return NewLedger(repo)
}

func TestNormalizePagination(t *testing.T) {
	cases := []struct {
		name       string
		limit      *int
		offset     *int
		wantErr    bool
		wantLimit  int
		wantOffset int
	}{
		{name: "全部缺省", wantLimit: 50, wantOffset: 0},
		{name: "显式取值", limit: intPtr(10), offset: intPtr(20), wantLimit: 10, wantOffset: 20},
		{name: "limit 为零被拒绝", limit: intPtr(0), wantErr: true},
		{name: "limit 超上限被拒绝", limit: intPtr(101), wantErr: true},
		{name: "limit 上限本身合法", limit: intPtr(100), wantLimit: 100, wantOffset: 0},
		{name: "offset 为负被拒绝", offset: intPtr(-1), wantErr: true},
		{name: "offset 为零合法", offset: intPtr(0), wantLimit: 50, wantOffset: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := NormalizePagination(tc.limit, tc.offset)
			if tc.wantErr {
				if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
					t.Fatalf("应返回参数错误: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("校验失败: %v", err)
			}
			if page.Limit != tc.wantLimit || page.Offset != tc.wantOffset {
				t.Fatalf("生效分页不符: %+v", page)
			}
		})
	}
}

func TestGetDelegationNotFound(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.GetDelegation(context.Background(), "missing")
	if !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("未知委托应返回 NotFound: %v", err)
	}
}

func TestRecordUsageUpdatesAggregates(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	record, err := ledger.RecordUsage(ctx, "dlg-1", 21_000, "0xabc", 8453)
	if err != nil {
		t.Fatalf("记录用量失败: %v", err)
	}
	if record.UsageCount != 1 || record.TotalGasUsed != 21_000 {
		t.Fatalf("聚合字段不符: %+v", record)
	}
	if record.GasBudgetSpent+record.GasBudgetRemaining != record.GasBudget {
		t.Fatalf("额度不变式被破坏: %+v", record)
	}

	record, err = ledger.RecordUsage(ctx, "dlg-1", 42_000, "0xdef", 8453)
	if err != nil {
		t.Fatalf("记录用量失败: %v", err)
	}
	if record.UsageCount != 2 || record.TotalGasUsed != 63_000 {
		t.Fatalf("聚合字段不符: %+v", record)
	}
	if record.GasBudgetSpent+record.GasBudgetRemaining != record.GasBudget {
		t.Fatalf("额度不变式被破坏: %+v", record)
	}
}

func TestRecordUsageRejectsOverspend(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if err := repo.Create(ctx, &Record{
		ID: "dlg-small", Delegator: "0xd", Agent: "0xa", GasBudget: 30_000,
	}); err != nil {
		t.Fatalf("创建委托失败: %v", err)
	}
	ledger := NewLedger(repo)

	if _, err := ledger.RecordUsage(ctx, "dlg-small", 21_000, "0x1", 1); err != nil {
		t.Fatalf("首次记录失败: %v", err)
	}
	_, err := ledger.RecordUsage(ctx, "dlg-small", 21_000, "0x2", 1)
	if !stdErrors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("超出额度应被拒绝: %v", err)
	}

	// 被拒绝的记录不应产生任何修改。
	record, err := ledger.GetDelegation(ctx, "dlg-small")
	if err != nil {
		t.Fatalf("读取委托失败: %v", err)
	}
	if record.UsageCount != 1 || record.TotalGasUsed != 21_000 {
		t.Fatalf("被拒绝的用量产生了副作用: %+v", record)
	}
}

func TestGetUsagePaginationOrder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	for i := 1; i <= 5; i++ {
		if _, err := ledger.RecordUsage(ctx, "dlg-1", int64(i*1000), fmt.Sprintf("0x%d", i), 1); err != nil {
			t.Fatalf("记录第 %d 条用量失败: %v", i, err)
		}
	}

	page, err := ledger.GetUsage(ctx, "dlg-1", intPtr(2), intPtr(1))
	if err != nil {
		t.Fatalf("查询用量失败: %v", err)
	}
	if page.Count != 2 || len(page.Events) != 2 {
		t.Fatalf("分页数量不符: %+v", page)
	}
	// 最新优先：offset=1 跳过第 5 条，返回第 4、3 条。
	if page.Events[0].GasUsed != 4000 || page.Events[1].GasUsed != 3000 {
		t.Fatalf("分页顺序不符: %+v", page.Events)
	}
	if page.Limit != 2 || page.Offset != 1 {
		t.Fatalf("分页回显不符: %+v", page)
	}
	if page.Summary.UsageCount != 5 || page.Summary.TotalGasUsed != 15_000 {
		t.Fatalf("聚合汇总不符: %+v", page.Summary)
	}
}

func TestGetUsageDefaults(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	page, err := ledger.GetUsage(ctx, "dlg-1", nil, nil)
	if err != nil {
		t.Fatalf("查询用量失败: %v", err)
	}
	if page.Limit != 50 || page.Offset != 0 {
		t.Fatalf("缺省分页应为 limit=50 offset=0: %+v", page)
	}
	if page.Count != 0 {
		t.Fatalf("空账本应返回空切片: %+v", page)
	}
}

func TestGetUsageUnknownDelegation(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.GetUsage(context.Background(), "missing", nil, nil)
	if !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("未知委托应返回 NotFound: %v", err)
	}
}
