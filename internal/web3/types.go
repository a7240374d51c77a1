package web3

import "context"

// ChainBalance 是代理钱包在单条链上的余额快照。
type ChainBalance struct {
	ChainID     int64   `json:"chain_id"`
	ChainName   string  `json:"chain_name"`
	ETHBalance  float64 `json:"eth_balance"`
	USDCBalance float64 `json:"usdc_balance"`
}

// BalanceProvider 查询代理钱包在所有受治理链上的余额。
// 查询失败时返回空切片而不是错误，调用方必须将空结果视为
// “余额未知”，向不健康方向收敛。
type BalanceProvider interface {
	AgentWalletBalances(ctx context.Context) []ChainBalance
}
