package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"GasWarden/internal/budget"
	"GasWarden/internal/delegation"
	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/llm"
	"GasWarden/internal/reserve"
	"GasWarden/internal/trigger"
	"GasWarden/internal/web3"
	"GasWarden/pkg/logger"
)

// ExecutionMode 决定周期末端的执行方式。
type ExecutionMode string

const (
	// ModeSimulation 只记录拟执行的动作，不触达链上也不写账本。
	ModeSimulation ExecutionMode = "SIMULATION"
	// ModeLive 真正派发赞助交易并记录 gas 消耗。
	ModeLive ExecutionMode = "LIVE"
)

// Outcome 标记一次代理周期的终态，用于成本指标统计。
type Outcome string

const (
	OutcomeFiltered          Outcome = "filtered"
	OutcomeTemplated         Outcome = "templated"
	OutcomeDeclined          Outcome = "declined"
	OutcomeAbortedBudget     Outcome = "aborted-budget"
	OutcomeAbortedConfidence Outcome = "aborted-confidence"
	OutcomeAbortedEmergency  Outcome = "aborted-emergency"
	OutcomeSimulated         Outcome = "simulated"
	OutcomeExecuted          Outcome = "executed"
)

// Config 是编排器的运行配置。
type Config struct {
	// ConfidenceThreshold 是放行赞助动作所需的最低置信度，取值 0–1。
	ConfidenceThreshold float64
	// MaxTransactionValueUSD 是单笔赞助动作允许的最大估算价值。
	MaxTransactionValueUSD float64
	// ExecutionMode 为 SIMULATION 或 LIVE。
	ExecutionMode ExecutionMode
}

// Result 汇总一次代理周期的处置结论。
type Result struct {
	CycleID           string    `json:"cycle_id"`
	TriggerSource     string    `json:"trigger_source"`
	Event             string    `json:"event"`
	ChainID           int64     `json:"chain_id"`
	Outcome           Outcome   `json:"outcome"`
	Reason            string    `json:"reason,omitempty"`
	Confidence        float64   `json:"confidence,omitempty"`
	EstimatedValueUSD float64   `json:"estimated_value_usd,omitempty"`
	TxHash            string    `json:"tx_hash,omitempty"`
	GasUsed           int64     `json:"gas_used,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Orchestrator 是代理周期的顶层控制器：观察、过滤、推理、
// 门控与执行全部由它按固定顺序串联。
type Orchestrator struct {
	cfg       Config
	reserves  *reserve.Manager
	evaluator *reserve.Evaluator
	allocator *budget.Allocator
	ledger    *delegation.Ledger
	balances  web3.BalanceProvider
	reasoner  llm.Client
	executor  Executor
	filter    *Filter
	log       *slog.Logger
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithFilter 替换默认的观察过滤器。
func WithFilter(filter *Filter) Option {
	return func(o *Orchestrator) {
		if filter != nil {
			o.filter = filter
		}
	}
}

// WithExecutor 配置 LIVE 模式使用的执行器。
func WithExecutor(executor Executor) Option {
	return func(o *Orchestrator) {
		o.executor = executor
	}
}

// NewOrchestrator 创建编排器。allocator 为 nil 时表示未配置预算后端，
// 付费推理按放行处理并记录告警日志。
func NewOrchestrator(
	cfg Config,
	reserves *reserve.Manager,
	evaluator *reserve.Evaluator,
	allocator *budget.Allocator,
	ledger *delegation.Ledger,
	balances web3.BalanceProvider,
	reasoner llm.Client,
	opts ...Option,
) *Orchestrator {
	orch := &Orchestrator{
		cfg:       cfg,
		reserves:  reserves,
		evaluator: evaluator,
		allocator: allocator,
		ledger:    ledger,
		balances:  balances,
		reasoner:  reasoner,
		filter:    NewFilter(),
		log:       logger.Named("agent"),
	}
	if orch.cfg.ExecutionMode == "" {
		orch.cfg.ExecutionMode = ModeSimulation
	}
	for _, opt := range opts {
		if opt != nil {
			opt(orch)
		}
	}
	return orch
}

// RunCycle 执行一次完整的代理周期。任何步骤失败都会中止本周期并把
// 错误上抛；周期内不做重试，重试由下一次触发负责。
func (o *Orchestrator) RunCycle(ctx context.Context, payload trigger.Payload) (*Result, error) {
	if o == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		CycleID:       uuid.NewString(),
		TriggerSource: payload.Source,
		Event:         payload.Event,
		ChainID:       payload.ChainID,
		StartedAt:     time.Now().UTC(),
	}
	log := o.log.With(
		slog.String("cycle_id", result.CycleID),
		slog.String("trigger_source", payload.Source),
		slog.String("event", payload.Event),
	)

	// 第一步：观察链上余额并回写储备快照。
	observation, err := o.observe(ctx, payload)
	if err != nil {
		return nil, err
	}

	// 每个周期都评估一次紧急状态，保证进入/退出的切换被持久化并发出
	// 通知；这里不做门控，赞助派发前第六步还会复核一次。
	if _, err := o.evaluator.Evaluate(ctx); err != nil {
		return nil, err
	}

	// 第二步：廉价相关性过滤。
	if !o.filter.Relevant(payload) {
		o.recordSkip(ctx, budget.SkipFiltered)
		log.Info("事件与赞助治理无关，跳过本周期")
		return o.finish(result, OutcomeFiltered, "事件与赞助治理无关"), nil
	}

	// 第三步：低风险模板匹配，命中后省去付费推理。
	assessment, templated := o.filter.Template(payload)
	if templated {
		o.recordSkip(ctx, budget.SkipTemplated)
		log.Info("命中模板响应", slog.String("decision", string(assessment.Decision)))
		if assessment.Decision != llm.DecisionSponsor {
			result.Reason = assessment.Reason
			result.Confidence = assessment.Confidence
			return o.finish(result, OutcomeTemplated, assessment.Reason), nil
		}
	} else {
		// 第四步：付费推理，先过预算闸门。
		allowed, err := o.consumeReasoningBudget(ctx)
		if err != nil {
			return nil, err
		}
		if !allowed {
			log.Warn("推理预算耗尽，中止本周期")
			return o.finish(result, OutcomeAbortedBudget, "本月推理预算已耗尽"), nil
		}
		assessment, err = o.reasoner.Assess(ctx, *observation)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "推理服务调用失败")
		}
	}

	result.Reason = assessment.Reason
	result.Confidence = assessment.Confidence
	result.EstimatedValueUSD = assessment.EstimatedValueUSD

	if assessment.Decision != llm.DecisionSponsor {
		log.Info("推理建议不发起赞助", slog.String("reason", assessment.Reason))
		return o.finish(result, OutcomeDeclined, assessment.Reason), nil
	}

	// 第五步：置信度门控。
	if assessment.Confidence < o.cfg.ConfidenceThreshold {
		log.Info("置信度不足，中止本周期",
			slog.Float64("confidence", assessment.Confidence),
			slog.Float64("threshold", o.cfg.ConfidenceThreshold),
		)
		return o.finish(result, OutcomeAbortedConfidence, "推理置信度低于阈值"), nil
	}

	// 第六步：赞助前复核紧急状态。
	emergency, err := o.evaluator.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	if emergency {
		log.Warn("储备处于紧急状态，中止赞助")
		return o.finish(result, OutcomeAbortedEmergency, "储备处于紧急状态"), nil
	}

	// 第七步：按执行模式派发。
	if o.cfg.ExecutionMode != ModeLive {
		logger.Audit().Info("sponsorship_simulated",
			slog.String("cycle_id", result.CycleID),
			slog.Int64("chain_id", payload.ChainID),
			slog.String("reason", assessment.Reason),
			slog.Float64("estimated_value_usd", assessment.EstimatedValueUSD),
		)
		return o.finish(result, OutcomeSimulated, assessment.Reason), nil
	}
	return o.dispatch(ctx, payload, assessment, result, log)
}

// observe 汇总链上余额并把观察结果回写进储备快照。余额查询全部失败
// 时得到空切片，按“余额未知”处理并继续后续步骤，让紧急评估向安全
// 方向收敛。
func (o *Orchestrator) observe(ctx context.Context, payload trigger.Payload) (*llm.Observation, error) {
	obs := &llm.Observation{
		TriggerSource: payload.Source,
		ChainID:       payload.ChainID,
		Event:         payload.Event,
	}
	if len(payload.Data) > 0 {
		raw, err := json.Marshal(payload.Data)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化事件数据失败")
		}
		obs.Data = string(raw)
	}

	var state *reserve.State
	if o.reserves != nil {
		var err error
		state, err = o.reserves.Get(ctx)
		if err != nil {
			return nil, err
		}
	}

	if o.balances != nil {
		chains := o.balances.AgentWalletBalances(ctx)
		if len(chains) == 0 {
			o.log.Warn("余额查询无结果，按余额未知处理")
		} else {
			var ethTotal, usdcTotal float64
			for _, chain := range chains {
				ethTotal += chain.ETHBalance
				usdcTotal += chain.USDCBalance
			}
			obs.ETHBalance = ethTotal
			obs.USDCBalance = usdcTotal
			if o.reserves != nil {
				merged, err := o.mergeObservedBalances(ctx, state, ethTotal, usdcTotal)
				if err != nil {
					return nil, err
				}
				state = merged
			}
		}
	}

	if state != nil {
		obs.RunwayDays = state.RunwayDays
		obs.HealthScore = state.HealthScore
	}
	return obs, nil
}

// mergeObservedBalances 把观察到的余额合并进储备快照，已知日均燃烧
// 速率时同步推导 runway。尚无独立的预测来源，预测 runway 与当前
// runway 使用同一推导值。
func (o *Orchestrator) mergeObservedBalances(
	ctx context.Context,
	state *reserve.State,
	ethTotal, usdcTotal float64,
) (*reserve.State, error) {
	update := reserve.Update{
		ETHBalance:  &ethTotal,
		USDCBalance: &usdcTotal,
	}
	if state != nil && state.DailyBurnRateETH > 0 {
		runway := ethTotal / state.DailyBurnRateETH
		update.RunwayDays = &runway
		update.ForecastedRunwayDays = &runway
	}
	return o.reserves.Update(ctx, update)
}

// consumeReasoningBudget 向预算分配器申请一次付费推理额度。
func (o *Orchestrator) consumeReasoningBudget(ctx context.Context) (bool, error) {
	if o.allocator == nil {
		o.log.Warn("未配置预算后端，付费推理按放行处理")
		return true, nil
	}
	allowed, err := o.allocator.CheckAndConsume(ctx, budget.CategoryProof, 1)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// dispatch 在 LIVE 模式下派发赞助交易并记录 gas 消耗。
func (o *Orchestrator) dispatch(
	ctx context.Context,
	payload trigger.Payload,
	assessment *llm.Assessment,
	result *Result,
	log *slog.Logger,
) (*Result, error) {
	if o.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "LIVE 模式需要配置执行器")
	}
	if o.cfg.MaxTransactionValueUSD > 0 && assessment.EstimatedValueUSD > o.cfg.MaxTransactionValueUSD {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("估算价值 %.2f 超出单笔上限 %.2f",
				assessment.EstimatedValueUSD, o.cfg.MaxTransactionValueUSD))
	}
	delegationID := delegationIDFrom(payload)
	if delegationID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "LIVE 派发缺少 delegation_id")
	}

	receipt, err := o.executor.Sponsor(ctx, SponsorshipRequest{
		CycleID:           result.CycleID,
		DelegationID:      delegationID,
		ChainID:           payload.ChainID,
		Reason:            assessment.Reason,
		EstimatedValueUSD: assessment.EstimatedValueUSD,
		Metadata:          payload.Data,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "派发赞助交易失败")
	}

	if o.ledger != nil {
		if _, err := o.ledger.RecordUsage(ctx, delegationID, receipt.GasUsed, receipt.TxHash, receipt.ChainID); err != nil {
			return nil, err
		}
	}

	logger.Audit().Info("sponsorship_executed",
		slog.String("cycle_id", result.CycleID),
		slog.String("delegation_id", delegationID),
		slog.String("tx_hash", receipt.TxHash),
		slog.Int64("gas_used", receipt.GasUsed),
		slog.Int64("chain_id", receipt.ChainID),
	)
	log.Info("赞助交易已派发", slog.String("tx_hash", receipt.TxHash))

	result.TxHash = receipt.TxHash
	result.GasUsed = receipt.GasUsed
	return o.finish(result, OutcomeExecuted, assessment.Reason), nil
}

// recordSkip 尽力记录一次省去付费调用的廉价路径。
func (o *Orchestrator) recordSkip(ctx context.Context, kind budget.SkipKind) {
	if o.allocator == nil {
		return
	}
	o.allocator.RecordSkip(ctx, kind)
}

func (o *Orchestrator) finish(result *Result, outcome Outcome, reason string) *Result {
	result.Outcome = outcome
	if result.Reason == "" {
		result.Reason = reason
	}
	result.FinishedAt = time.Now().UTC()
	return result
}

// delegationIDFrom 从触发事件数据中提取委托 ID。
func delegationIDFrom(payload trigger.Payload) string {
	if payload.Data == nil {
		return ""
	}
	if id, ok := payload.Data["delegation_id"].(string); ok {
		return id
	}
	return ""
}
