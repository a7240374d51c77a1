package reserve

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "GasWarden/internal/errors"
	"GasWarden/pkg/logger"
)

// Notifier 是紧急状态通知的最小依赖，发送失败不阻塞评估流程。
type Notifier interface {
	PostNotification(ctx context.Context, text string) error
}

// Verdict 给出紧急判定结果以及每个子条件的取值，便于逐项测试与记录。
type Verdict struct {
	Emergency        bool
	BelowCritical    bool
	RunwayExhausted  bool
	ForecastDegraded bool
}

// EvaluateState 是紧急判定的纯函数部分：
//
//	belowCritical    = ethBalance < criticalThresholdETH
//	runwayExhausted  = runwayDays < 1
//	forecastDegraded = forecastedRunwayDays < 3 且 healthScore < 20
//
// 三个子条件任一成立即进入紧急状态。
func EvaluateState(state State) Verdict {
	verdict := Verdict{
		BelowCritical:    state.ETHBalance < state.CriticalThresholdETH,
		RunwayExhausted:  state.RunwayDays < 1,
		ForecastDegraded: state.ForecastedRunwayDays < 3 && state.HealthScore < 20,
	}
	verdict.Emergency = verdict.BelowCritical || verdict.RunwayExhausted || verdict.ForecastDegraded
	return verdict
}

// Evaluator 在每个代理周期评估储备健康度，必要时切换紧急状态。
type Evaluator struct {
	manager  *Manager
	notifier Notifier
	log      *slog.Logger
}

// NewEvaluator 构造紧急状态评估器。notifier 可以为 nil。
func NewEvaluator(manager *Manager, notifier Notifier) *Evaluator {
	return &Evaluator{
		manager:  manager,
		notifier: notifier,
		log:      logger.Named("emergency"),
	}
}

// Evaluate 读取当前储备状态并返回紧急判定。判定结果与已存储的
// emergencyMode 不一致时持久化新值；进入紧急状态时额外发送一次
// 尽力而为的外部通知。判定结果与存储一致时不产生任何副作用，
// 因此可以在每个周期乃至并发场景下安全调用。
func (e *Evaluator) Evaluate(ctx context.Context) (bool, error) {
	if e == nil || e.manager == nil {
		return true, xerrors.New(xerrors.CodeInitializationFailure, "紧急评估器未初始化")
	}

	state, err := e.manager.Get(ctx)
	if err != nil {
		return true, err
	}
	if state == nil {
		// 状态缺失视为健康度未知，按不健康处理，但没有可持久化的记录。
		e.log.Warn("储备状态缺失，按紧急状态处理")
		return true, nil
	}

	verdict := EvaluateState(*state)
	if verdict.Emergency == state.EmergencyMode {
		return verdict.Emergency, nil
	}

	mode := verdict.Emergency
	if _, err := e.manager.Update(ctx, Update{EmergencyMode: &mode}); err != nil {
		return verdict.Emergency, err
	}

	e.log.Warn("紧急状态发生切换",
		slog.Bool("emergency", verdict.Emergency),
		slog.Bool("below_critical", verdict.BelowCritical),
		slog.Bool("runway_exhausted", verdict.RunwayExhausted),
		slog.Bool("forecast_degraded", verdict.ForecastDegraded),
		slog.Float64("eth_balance", state.ETHBalance),
		slog.Float64("runway_days", state.RunwayDays),
	)
	logger.Audit().Warn("emergency_transition",
		slog.Bool("emergency", verdict.Emergency),
		slog.Float64("eth_balance", state.ETHBalance),
		slog.Float64("runway_days", state.RunwayDays),
	)

	// 仅在进入紧急状态时通知，退出时不通知。
	if verdict.Emergency {
		e.notifyEntry(ctx, state)
	}
	return verdict.Emergency, nil
}

// notifyEntry 发送进入紧急状态的外部通知，失败仅记录日志。
func (e *Evaluator) notifyEntry(ctx context.Context, state *State) {
	if e.notifier == nil {
		return
	}
	text := fmt.Sprintf(
		"⛽️ 储备进入紧急状态：ETH 余额 %.4f，剩余 runway %.1f 天，已暂停新的 gas 赞助。",
		state.ETHBalance, state.RunwayDays,
	)
	if err := e.notifier.PostNotification(ctx, text); err != nil {
		e.log.Warn("紧急通知发送失败", slog.Any("error", err))
	}
}
