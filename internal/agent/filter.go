package agent

import (
	"GasWarden/internal/llm"
	"GasWarden/internal/trigger"
)

// defaultRelevantEvents 是代理关心的事件类型集合。
// 不在集合中的事件直接过滤，不消耗任何推理预算。
var defaultRelevantEvents = map[string]struct{}{
	"scheduled_tick":      {},
	"reserve_check":       {},
	"low_balance_alert":   {},
	"delegation_created":  {},
	"sponsorship_request": {},
	"gas_topup_request":   {},
}

// defaultTemplates 是已知低风险模式的模板响应。
// 命中模板的事件跳过付费推理，直接使用预置结论。
var defaultTemplates = map[string]llm.Assessment{
	"reserve_check": {
		Decision:   llm.DecisionSkip,
		Confidence: 1,
		Reason:     "定期储备检查，无需发起赞助",
	},
	"delegation_created": {
		Decision:   llm.DecisionSkip,
		Confidence: 1,
		Reason:     "委托创建事件仅用于记账，无需发起赞助",
	},
}

// Filter 实现廉价的观察过滤与模板匹配，减少付费推理调用。
type Filter struct {
	relevant  map[string]struct{}
	templates map[string]llm.Assessment
}

// NewFilter 创建使用默认规则的过滤器。
func NewFilter() *Filter {
	return &Filter{
		relevant:  defaultRelevantEvents,
		templates: defaultTemplates,
	}
}

// Relevant 判断事件是否与 gas 赞助治理相关。
func (f *Filter) Relevant(payload trigger.Payload) bool {
	if f == nil {
		return true
	}
	_, ok := f.relevant[payload.Event]
	return ok
}

// Template 返回事件命中的模板响应。
func (f *Filter) Template(payload trigger.Payload) (*llm.Assessment, bool) {
	if f == nil {
		return nil, false
	}
	assessment, ok := f.templates[payload.Event]
	if !ok {
		return nil, false
	}
	copied := assessment
	return &copied, true
}
