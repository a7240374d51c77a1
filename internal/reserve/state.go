package reserve

// State 是资金储备的快照，每条受治理的链对应一份。
// 余额与阈值以十进制 ETH/USDC 计；HealthScore 取值范围 0–100。
type State struct {
	ETHBalance           float64 `json:"eth_balance"`
	USDCBalance          float64 `json:"usdc_balance"`
	ChainID              int64   `json:"chain_id"`
	DailyBurnRateETH     float64 `json:"daily_burn_rate_eth"`
	TargetReserveETH     float64 `json:"target_reserve_eth"`
	CriticalThresholdETH float64 `json:"critical_threshold_eth"`
	RunwayDays           float64 `json:"runway_days"`
	ForecastedRunwayDays float64 `json:"forecasted_runway_days"`
	HealthScore          int     `json:"health_score"`
	EmergencyMode        bool    `json:"emergency_mode"`
	SponsorshipsLast24h  int64   `json:"sponsorships_last_24h"`
	LastUpdated          int64   `json:"last_updated"`
	Version              int64   `json:"version"`
}

// Update 描述一次部分更新。为 nil 的字段保留原值。
type Update struct {
	ETHBalance           *float64 `json:"eth_balance,omitempty"`
	USDCBalance          *float64 `json:"usdc_balance,omitempty"`
	ChainID              *int64   `json:"chain_id,omitempty"`
	DailyBurnRateETH     *float64 `json:"daily_burn_rate_eth,omitempty"`
	TargetReserveETH     *float64 `json:"target_reserve_eth,omitempty"`
	CriticalThresholdETH *float64 `json:"critical_threshold_eth,omitempty"`
	RunwayDays           *float64 `json:"runway_days,omitempty"`
	ForecastedRunwayDays *float64 `json:"forecasted_runway_days,omitempty"`
	HealthScore          *int     `json:"health_score,omitempty"`
	EmergencyMode        *bool    `json:"emergency_mode,omitempty"`
	SponsorshipsLast24h  *int64   `json:"sponsorships_last_24h,omitempty"`
}

// merge 将部分更新叠加到基础快照上，未提供的字段保持不变。
func merge(base State, update Update) State {
	merged := base
	if update.ETHBalance != nil {
		merged.ETHBalance = *update.ETHBalance
	}
	if update.USDCBalance != nil {
		merged.USDCBalance = *update.USDCBalance
	}
	if update.ChainID != nil {
		merged.ChainID = *update.ChainID
	}
	if update.DailyBurnRateETH != nil {
		merged.DailyBurnRateETH = *update.DailyBurnRateETH
	}
	if update.TargetReserveETH != nil {
		merged.TargetReserveETH = *update.TargetReserveETH
	}
	if update.CriticalThresholdETH != nil {
		merged.CriticalThresholdETH = *update.CriticalThresholdETH
	}
	if update.RunwayDays != nil {
		merged.RunwayDays = *update.RunwayDays
	}
	if update.ForecastedRunwayDays != nil {
		merged.ForecastedRunwayDays = *update.ForecastedRunwayDays
	}
	if update.HealthScore != nil {
		merged.HealthScore = *update.HealthScore
	}
	if update.EmergencyMode != nil {
		merged.EmergencyMode = *update.EmergencyMode
	}
	if update.SponsorshipsLast24h != nil {
		merged.SponsorshipsLast24h = *update.SponsorshipsLast24h
	}
	return merged
}
