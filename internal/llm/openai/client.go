package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"GasWarden/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容接口完成赞助评估。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Assess 调用大模型评估是否值得赞助本次交易。
func (c *Client) Assess(ctx context.Context, obs llm.Observation) (*llm.Assessment, error) {
	payload, err := c.buildPayload(obs)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	var structured struct {
		Decision          string  `json:"decision"`
		Confidence        float64 `json:"confidence"`
		Reason            string  `json:"reason"`
		EstimatedValueUSD float64 `json:"estimated_value_usd"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return nil, fmt.Errorf("OpenAI 响应不是合法的评估 JSON: %w", err)
	}

	decision := llm.DecisionSkip
	if strings.EqualFold(structured.Decision, string(llm.DecisionSponsor)) {
		decision = llm.DecisionSponsor
	}
	confidence := structured.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &llm.Assessment{
		Decision:          decision,
		Confidence:        confidence,
		Reason:            structured.Reason,
		EstimatedValueUSD: structured.EstimatedValueUSD,
	}, nil
}

func (c *Client) buildPayload(obs llm.Observation) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(obs),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.1,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the sponsorship assessor of a gas-sponsoring agent. " +
	"Given an on-chain event and the agent's reserve status, decide whether sponsoring the transaction is worthwhile. " +
	"Always respond with a compact JSON object: " +
	`{"decision": "sponsor"|"skip", "confidence": number 0-1, "reason": string, "estimated_value_usd": number}.`

func buildUserPrompt(obs llm.Observation) string {
	var builder strings.Builder
	builder.WriteString("## 待评估事件\n")
	builder.WriteString(fmt.Sprintf("触发来源: %s\n", obs.TriggerSource))
	builder.WriteString(fmt.Sprintf("链 ID: %d\n", obs.ChainID))
	builder.WriteString(fmt.Sprintf("事件: %s\n", strings.TrimSpace(obs.Event)))
	if data := strings.TrimSpace(obs.Data); data != "" {
		builder.WriteString(fmt.Sprintf("事件数据: %s\n", truncate(data)))
	}

	builder.WriteString("\n## 储备状况\n")
	builder.WriteString(fmt.Sprintf("ETH 余额: %.4f\n", obs.ETHBalance))
	builder.WriteString(fmt.Sprintf("USDC 余额: %.2f\n", obs.USDCBalance))
	builder.WriteString(fmt.Sprintf("剩余 runway: %.1f 天\n", obs.RunwayDays))
	builder.WriteString(fmt.Sprintf("健康度: %d/100\n", obs.HealthScore))

	builder.WriteString("\n请综合事件价值与储备状况给出评估。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 200 {
		return string([]rune(text)[:200]) + "..."
	}
	return text
}
