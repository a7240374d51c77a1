package delegation

import (
	xerrors "GasWarden/internal/errors"
)

// Record 描述一条 gas 委托：delegator 授予 agent 的可代付 gas 额度。
// 不变式：GasBudgetSpent + GasBudgetRemaining == GasBudget。
type Record struct {
	ID                 string `json:"id"`
	Delegator          string `json:"delegator"`
	Agent              string `json:"agent"`
	GasBudget          int64  `json:"gas_budget"`
	UsageCount         int64  `json:"usage_count"`
	TotalGasUsed       int64  `json:"total_gas_used"`
	GasBudgetSpent     int64  `json:"gas_budget_spent"`
	GasBudgetRemaining int64  `json:"gas_budget_remaining"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

// UsageEvent 是一次赞助动作的 gas 消耗记录，只追加，不修改。
type UsageEvent struct {
	ID           string `json:"id"`
	DelegationID string `json:"delegation_id"`
	GasUsed      int64  `json:"gas_used"`
	TxHash       string `json:"tx_hash"`
	ChainID      int64  `json:"chain_id"`
	CreatedAt    int64  `json:"created_at"`
}

// Summary 汇总委托的聚合字段，与分页切片相互独立。
type Summary struct {
	UsageCount         int64 `json:"usage_count"`
	TotalGasUsed       int64 `json:"total_gas_used"`
	GasBudget          int64 `json:"gas_budget"`
	GasBudgetSpent     int64 `json:"gas_budget_spent"`
	GasBudgetRemaining int64 `json:"gas_budget_remaining"`
}

// UsagePage 是用量查询接口的响应：身份、分页切片、生效分页回显与聚合汇总。
type UsagePage struct {
	DelegationID string       `json:"delegation_id"`
	Delegator    string       `json:"delegator"`
	Agent        string       `json:"agent"`
	Events       []UsageEvent `json:"events"`
	Count        int          `json:"count"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
	Summary      Summary      `json:"summary"`
}

var (
	// ErrNotFound 表示指定的委托不存在。
	ErrNotFound = xerrors.New(CodeDelegationNotFound, "delegation not found")
	// ErrBudgetExceeded 表示剩余额度不足以承担本次 gas 消耗。
	ErrBudgetExceeded = xerrors.New(CodeGasBudgetExceeded, "gas budget exceeded")
	// ErrConflict 表示委托记录已存在。
	ErrConflict = xerrors.New(CodeDelegationConflict, "delegation already exists")
)

const (
	CodeDelegationNotFound xerrors.Code = "DELEGATION_NOT_FOUND"
	CodeGasBudgetExceeded  xerrors.Code = "GAS_BUDGET_EXCEEDED"
	CodeDelegationConflict xerrors.Code = "DELEGATION_CONFLICT"
)

func init() {
	xerrors.Register(CodeDelegationNotFound, xerrors.Attributes{
		Message:   "delegation not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeGasBudgetExceeded, xerrors.Attributes{
		Message:   "gas budget exceeded",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeDelegationConflict, xerrors.Attributes{
		Message:   "delegation already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
