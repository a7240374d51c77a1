package llm

import "context"

// Observation 汇总一次代理周期收集到的上下文，作为推理输入。
type Observation struct {
	TriggerSource string
	ChainID       int64
	Event         string
	Data          string
	ETHBalance    float64
	USDCBalance   float64
	RunwayDays    float64
	HealthScore   int
}

// Decision 是推理给出的处置建议。
type Decision string

const (
	DecisionSponsor Decision = "sponsor"
	DecisionSkip    Decision = "skip"
)

// Assessment 是推理得到的结构化输出。
type Assessment struct {
	Decision          Decision
	Confidence        float64
	Reason            string
	EstimatedValueUSD float64
}

// Client 定义了调用付费推理服务的统一接口。
type Client interface {
	Assess(ctx context.Context, obs Observation) (*Assessment, error)
}
