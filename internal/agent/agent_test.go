package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"GasWarden/internal/budget"
	"GasWarden/internal/delegation"
	xerrors "GasWarden/internal/errors"
	"GasWarden/internal/llm"
	"GasWarden/internal/reserve"
	"GasWarden/internal/store"
	"GasWarden/internal/trigger"
	"GasWarden/internal/web3"
)

type stubReasoner struct {
	assessment *llm.Assessment
	err        error
	calls      atomic.Int64
}

func (s *stubReasoner) Assess(_ context.Context, _ llm.Observation) (*llm.Assessment, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.assessment, nil
}

type stubExecutor struct {
	receipt *SponsorshipReceipt
	err     error
	calls   atomic.Int64
}

func (s *stubExecutor) Sponsor(_ context.Context, _ SponsorshipRequest) (*SponsorshipReceipt, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

type stubBalances struct {
	chains []web3.ChainBalance
}

func (s *stubBalances) AgentWalletBalances(_ context.Context) []web3.ChainBalance {
	return s.chains
}

type stubNotifier struct {
	posts atomic.Int64
}

func (s *stubNotifier) PostNotification(_ context.Context, _ string) error {
	s.posts.Add(1)
	return nil
}

type testEnv struct {
	manager   *reserve.Manager
	evaluator *reserve.Evaluator
	allocator *budget.Allocator
	ledger    *delegation.Ledger
	repo      *delegation.MemoryRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	manager := reserve.NewManager(st)
	evaluator := reserve.NewEvaluator(manager, nil)
	allocator := budget.NewAllocator(st, budget.Config{})
	repo := delegation.NewMemoryRepository()
	return &testEnv{
		manager:   manager,
		evaluator: evaluator,
		allocator: allocator,
		ledger:    delegation.NewLedger(repo),
		repo:      repo,
	}
}

func (e *testEnv) seedHealthyReserve(t *testing.T) {
	t.Helper()
	eth := 5.0
	critical := 0.1
	runway := 30.0
	forecast := 30.0
	health := 80
	emergency := false
	_, err := e.manager.Update(context.Background(), reserve.Update{
		ETHBalance:           &eth,
		CriticalThresholdETH: &critical,
		RunwayDays:           &runway,
		ForecastedRunwayDays: &forecast,
		HealthScore:          &health,
		EmergencyMode:        &emergency,
	})
	if err != nil {
		t.Fatalf("初始化储备快照失败: %v", err)
	}
}

func (e *testEnv) seedDelegation(t *testing.T, id string, gasBudget int64) {
	t.Helper()
	err := e.repo.Create(context.Background(), &delegation.Record{
		ID:                 id,
		Delegator:          "0xdelegator",
		Agent:              "0xagent",
		GasBudget:          gasBudget,
		GasBudgetRemaining: gasBudget,
	})
	if err != nil {
		t.Fatalf("创建委托失败: %v", err)
	}
}

func sponsorPayload() trigger.Payload {
	return trigger.Payload{
		Source:  trigger.SourceWebhook,
		ChainID: 8453,
		Event:   "sponsorship_request",
		Data:    map[string]any{"delegation_id": "d-1"},
	}
}

func TestRunCycleSimulationNeverTouchesLedger(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	env.seedDelegation(t, "d-1", 100000)

	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.95, Reason: "合理请求", EstimatedValueUSD: 3,
	}}
	executor := &stubExecutor{receipt: &SponsorshipReceipt{TxHash: "0xabc", GasUsed: 21000, ChainID: 8453}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8, MaxTransactionValueUSD: 50, ExecutionMode: ModeSimulation},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
		WithExecutor(executor),
	)

	result, err := orch.RunCycle(context.Background(), sponsorPayload())
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeSimulated {
		t.Fatalf("期望 simulated 终态，得到 %s", result.Outcome)
	}
	if executor.calls.Load() != 0 {
		t.Fatal("SIMULATION 模式不应触达执行器")
	}
	record, err := env.ledger.GetDelegation(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("读取委托失败: %v", err)
	}
	if record.UsageCount != 0 || record.GasBudgetSpent != 0 {
		t.Fatalf("SIMULATION 模式不应写账本: %+v", record)
	}
}

func TestRunCycleLiveExecutesAndDebitsLedger(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	env.seedDelegation(t, "d-1", 100000)

	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.9, Reason: "合理请求", EstimatedValueUSD: 3,
	}}
	executor := &stubExecutor{receipt: &SponsorshipReceipt{TxHash: "0xabc", GasUsed: 21000, ChainID: 8453}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8, MaxTransactionValueUSD: 50, ExecutionMode: ModeLive},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
		WithExecutor(executor),
	)

	result, err := orch.RunCycle(context.Background(), sponsorPayload())
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeExecuted || result.TxHash != "0xabc" || result.GasUsed != 21000 {
		t.Fatalf("执行结果不符: %+v", result)
	}
	record, err := env.ledger.GetDelegation(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("读取委托失败: %v", err)
	}
	if record.UsageCount != 1 || record.GasBudgetSpent != 21000 || record.GasBudgetRemaining != 100000-21000 {
		t.Fatalf("账本未正确记账: %+v", record)
	}
}

func TestRunCycleFiltersIrrelevantEvent(t *testing.T) {
	env := newTestEnv(t)
	reasoner := &stubReasoner{}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
	)

	result, err := orch.RunCycle(context.Background(), trigger.Payload{
		Source: trigger.SourceWebhook, ChainID: 1, Event: "price_tick",
	})
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeFiltered {
		t.Fatalf("期望 filtered 终态，得到 %s", result.Outcome)
	}
	if reasoner.calls.Load() != 0 {
		t.Fatal("被过滤的事件不应触发付费推理")
	}
}

func TestRunCycleTemplateSkipsReasoning(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	reasoner := &stubReasoner{}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
	)

	result, err := orch.RunCycle(context.Background(), trigger.Payload{
		Source: trigger.SourceScheduler, ChainID: 1, Event: "reserve_check",
	})
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeTemplated {
		t.Fatalf("期望 templated 终态，得到 %s", result.Outcome)
	}
	if reasoner.calls.Load() != 0 {
		t.Fatal("命中模板的事件不应触发付费推理")
	}
}

func TestRunCycleConfidenceGate(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.4, Reason: "不太确定",
	}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
	)

	result, err := orch.RunCycle(context.Background(), sponsorPayload())
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeAbortedConfidence {
		t.Fatalf("期望置信度门控中止，得到 %s", result.Outcome)
	}
}

func TestRunCycleEmergencyGateBlocksDispatch(t *testing.T) {
	env := newTestEnv(t)
	// 储备低于临界阈值，紧急评估应拦截赞助。
	eth := 0.05
	critical := 0.1
	runway := 30.0
	forecast := 30.0
	health := 80
	if _, err := env.manager.Update(context.Background(), reserve.Update{
		ETHBalance:           &eth,
		CriticalThresholdETH: &critical,
		RunwayDays:           &runway,
		ForecastedRunwayDays: &forecast,
		HealthScore:          &health,
	}); err != nil {
		t.Fatalf("初始化储备快照失败: %v", err)
	}

	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.99, Reason: "高置信",
	}}
	executor := &stubExecutor{receipt: &SponsorshipReceipt{TxHash: "0xabc", GasUsed: 21000}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8, ExecutionMode: ModeLive},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
		WithExecutor(executor),
	)

	result, err := orch.RunCycle(context.Background(), sponsorPayload())
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeAbortedEmergency {
		t.Fatalf("期望紧急门控中止，得到 %s", result.Outcome)
	}
	if executor.calls.Load() != 0 {
		t.Fatal("紧急状态下不应派发赞助")
	}
}

func TestRunCycleEvaluatesEmergencyOnCheapPaths(t *testing.T) {
	env := newTestEnv(t)
	// 余额低于临界阈值，但事件会在相关性过滤处终止。
	eth := 0.01
	critical := 0.1
	runway := 30.0
	forecast := 30.0
	health := 80
	emergency := false
	if _, err := env.manager.Update(context.Background(), reserve.Update{
		ETHBalance:           &eth,
		CriticalThresholdETH: &critical,
		RunwayDays:           &runway,
		ForecastedRunwayDays: &forecast,
		HealthScore:          &health,
		EmergencyMode:        &emergency,
	}); err != nil {
		t.Fatalf("初始化储备快照失败: %v", err)
	}

	notifier := &stubNotifier{}
	evaluator := reserve.NewEvaluator(env.manager, notifier)
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, evaluator, env.allocator, env.ledger, &stubBalances{}, &stubReasoner{},
	)

	for i := 0; i < 3; i++ {
		result, err := orch.RunCycle(context.Background(), trigger.Payload{
			Source: trigger.SourceWebhook, ChainID: 1, Event: "price_tick",
		})
		if err != nil {
			t.Fatalf("周期执行失败: %v", err)
		}
		if result.Outcome != OutcomeFiltered {
			t.Fatalf("期望 filtered 终态，得到 %s", result.Outcome)
		}
	}

	state, err := env.manager.Get(context.Background())
	if err != nil {
		t.Fatalf("读取储备快照失败: %v", err)
	}
	if state == nil || !state.EmergencyMode {
		t.Fatalf("被过滤的周期也应持久化紧急状态切换: %+v", state)
	}
	if notifier.posts.Load() != 1 {
		t.Fatalf("进入紧急状态应恰好通知一次，实际 %d", notifier.posts.Load())
	}
}

func TestRunCycleMergesObservedBalancesIntoReserve(t *testing.T) {
	env := newTestEnv(t)
	eth := 5.0
	burn := 0.5
	critical := 0.1
	runway := 30.0
	forecast := 30.0
	health := 80
	if _, err := env.manager.Update(context.Background(), reserve.Update{
		ETHBalance:           &eth,
		DailyBurnRateETH:     &burn,
		CriticalThresholdETH: &critical,
		RunwayDays:           &runway,
		ForecastedRunwayDays: &forecast,
		HealthScore:          &health,
	}); err != nil {
		t.Fatalf("初始化储备快照失败: %v", err)
	}

	balances := &stubBalances{chains: []web3.ChainBalance{
		{ChainID: 8453, ChainName: "base", ETHBalance: 1.5, USDCBalance: 120},
		{ChainID: 10, ChainName: "optimism", ETHBalance: 0.5, USDCBalance: 30},
	}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, env.evaluator, env.allocator, env.ledger, balances, &stubReasoner{},
	)

	if _, err := orch.RunCycle(context.Background(), trigger.Payload{
		Source: trigger.SourceWebhook, ChainID: 8453, Event: "price_tick",
	}); err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}

	state, err := env.manager.Get(context.Background())
	if err != nil || state == nil {
		t.Fatalf("读取储备快照失败: state=%v err=%v", state, err)
	}
	if state.ETHBalance != 2.0 || state.USDCBalance != 150 {
		t.Fatalf("观察到的余额未合并进快照: %+v", state)
	}
	if state.RunwayDays != 4.0 || state.ForecastedRunwayDays != 4.0 {
		t.Fatalf("runway 未按燃烧速率重新推导: %+v", state)
	}
	if state.EmergencyMode {
		t.Fatalf("健康储备不应进入紧急状态: %+v", state)
	}
}

func TestRunCycleBudgetExhaustedAborts(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)

	st := store.NewMemoryStore()
	manager := reserve.NewManager(st)
	evaluator := reserve.NewEvaluator(manager, nil)
	allocator := budget.NewAllocator(st, budget.Config{
		MonthlyBudgets: map[budget.Category]int64{budget.CategoryProof: 1},
	})
	// 先消耗掉唯一的配额。
	if allowed, err := allocator.CheckAndConsume(context.Background(), budget.CategoryProof, 1); err != nil || !allowed {
		t.Fatalf("预热配额失败: allowed=%v err=%v", allowed, err)
	}

	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.99,
	}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		manager, evaluator, allocator, env.ledger, &stubBalances{}, reasoner,
	)

	result, err := orch.RunCycle(context.Background(), sponsorPayload())
	if err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if result.Outcome != OutcomeAbortedBudget {
		t.Fatalf("期望预算门控中止，得到 %s", result.Outcome)
	}
	if reasoner.calls.Load() != 0 {
		t.Fatal("预算耗尽时不应触发付费推理")
	}
}

func TestRunCycleReasoningFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	reasoner := &stubReasoner{err: errors.New("upstream down")}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
	)

	_, err := orch.RunCycle(context.Background(), sponsorPayload())
	if !xerrors.IsCode(err, xerrors.CodeUpstreamUnavailable) {
		t.Fatalf("期望推理失败中止周期: %v", err)
	}
}

func TestRunCycleRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	orch := NewOrchestrator(
		Config{},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, &stubReasoner{},
	)

	_, err := orch.RunCycle(context.Background(), trigger.Payload{ChainID: -1, Event: "x"})
	if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("期望非法触发被拒绝: %v", err)
	}
}

func TestRunCycleValueBoundBlocksDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedHealthyReserve(t)
	env.seedDelegation(t, "d-1", 100000)

	reasoner := &stubReasoner{assessment: &llm.Assessment{
		Decision: llm.DecisionSponsor, Confidence: 0.99, EstimatedValueUSD: 500,
	}}
	executor := &stubExecutor{receipt: &SponsorshipReceipt{TxHash: "0xabc", GasUsed: 21000}}
	orch := NewOrchestrator(
		Config{ConfidenceThreshold: 0.8, MaxTransactionValueUSD: 50, ExecutionMode: ModeLive},
		env.manager, env.evaluator, env.allocator, env.ledger, &stubBalances{}, reasoner,
		WithExecutor(executor),
	)

	_, err := orch.RunCycle(context.Background(), sponsorPayload())
	if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("期望超出单笔上限被拒绝: %v", err)
	}
	if executor.calls.Load() != 0 {
		t.Fatal("超出上限时不应触达执行器")
	}
}
