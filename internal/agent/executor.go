package agent

import "context"

// SponsorshipRequest 描述一次待派发的 gas 赞助动作。
type SponsorshipRequest struct {
	CycleID           string         `json:"cycle_id"`
	DelegationID      string         `json:"delegation_id"`
	ChainID           int64          `json:"chain_id"`
	Reason            string         `json:"reason"`
	EstimatedValueUSD float64        `json:"estimated_value_usd"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// SponsorshipReceipt 是执行器返回的链上执行回执。
type SponsorshipReceipt struct {
	TxHash  string `json:"tx_hash"`
	GasUsed int64  `json:"gas_used"`
	ChainID int64  `json:"chain_id"`
}

// Executor 负责在 LIVE 模式下派发赞助交易。
// 调度器在调用前已完成单笔价值上限校验。
type Executor interface {
	Sponsor(ctx context.Context, req SponsorshipRequest) (*SponsorshipReceipt, error)
}
