package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "GasWarden/internal/errors"
	"GasWarden/pkg/logger"
)

// 分页参数的边界。limit 允许的闭区间为 [1, MaxLimit]。
const (
	DefaultLimit  = 50
	MaxLimit      = 100
	DefaultOffset = 0
)

// Pagination 是校验后的生效分页参数。
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NormalizePagination 校验分页参数。nil 表示调用方未提供，使用默认值；
// 越界的取值直接拒绝，而不是悄悄收敛到边界。
func NormalizePagination(limit, offset *int) (Pagination, error) {
	page := Pagination{Limit: DefaultLimit, Offset: DefaultOffset}
	if limit != nil {
		if *limit < 1 || *limit > MaxLimit {
			return Pagination{}, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("limit 必须在 [1, %d] 范围内", MaxLimit))
		}
		page.Limit = *limit
	}
	if offset != nil {
		if *offset < 0 {
			return Pagination{}, xerrors.New(xerrors.CodeInvalidArgument, "offset 不能为负数")
		}
		page.Offset = *offset
	}
	return page, nil
}

// Ledger 是委托用量账本：记录每次赞助的 gas 消耗并提供分页查询。
type Ledger struct {
	repo Repository
	log  *slog.Logger
}

// NewLedger 构造用量账本。
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, log: logger.Named("delegation")}
}

// GetDelegation 返回委托记录，未找到时返回 ErrNotFound。
func (l *Ledger) GetDelegation(ctx context.Context, id string) (*Record, error) {
	if l == nil || l.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "委托仓库未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托 ID 不能为空")
	}
	return l.repo.Get(ctx, id)
}

// GetUsage 返回指定委托的分页用量。分页切片与聚合汇总是两次独立读取，
// 二者之间不要求事务一致。
func (l *Ledger) GetUsage(ctx context.Context, id string, limit, offset *int) (*UsagePage, error) {
	if l == nil || l.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "委托仓库未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托 ID 不能为空")
	}
	page, err := NormalizePagination(limit, offset)
	if err != nil {
		return nil, err
	}

	record, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := l.repo.ListUsage(ctx, id, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}

	return &UsagePage{
		DelegationID: record.ID,
		Delegator:    record.Delegator,
		Agent:        record.Agent,
		Events:       events,
		Count:        len(events),
		Limit:        page.Limit,
		Offset:       page.Offset,
		Summary: Summary{
			UsageCount:         record.UsageCount,
			TotalGasUsed:       record.TotalGasUsed,
			GasBudget:          record.GasBudget,
			GasBudgetSpent:     record.GasBudgetSpent,
			GasBudgetRemaining: record.GasBudgetRemaining,
		},
	}, nil
}

// RecordUsage 记录一次赞助动作消耗的 gas，由编排器在 LIVE 模式下调用。
func (l *Ledger) RecordUsage(ctx context.Context, id string, gasUsed int64, txHash string, chainID int64) (*Record, error) {
	if l == nil || l.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "委托仓库未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托 ID 不能为空")
	}
	if gasUsed <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "gas 消耗必须为正数")
	}

	record, err := l.repo.AppendUsage(ctx, UsageEvent{
		ID:           uuid.NewString(),
		DelegationID: id,
		GasUsed:      gasUsed,
		TxHash:       txHash,
		ChainID:      chainID,
	})
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("delegation_usage_recorded",
		slog.String("delegation_id", id),
		slog.Int64("gas_used", gasUsed),
		slog.String("tx_hash", txHash),
		slog.Int64("chain_id", chainID),
		slog.Int64("gas_budget_remaining", record.GasBudgetRemaining),
	)
	return record, nil
}
