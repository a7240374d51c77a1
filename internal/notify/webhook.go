package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "GasWarden/internal/errors"
)

// WebhookConfig 描述 Webhook 通知渠道的配置。
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookSink 将通知以 JSON 形式 POST 到配置的 Webhook 地址。
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink 创建 Webhook 通知渠道。
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 Webhook 地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Channel 返回 Webhook 渠道。
func (s *WebhookSink) Channel() Channel { return ChannelWebhook }

// PostNotification 发送通知。
func (s *WebhookSink) PostNotification(ctx context.Context, text string) error {
	if s == nil || s.client == nil {
		return nil
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "发送 Webhook 通知失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.New(xerrors.CodeUpstreamUnavailable,
			fmt.Sprintf("Webhook 返回非预期状态码 %d", resp.StatusCode))
	}
	return nil
}

var _ Sink = (*WebhookSink)(nil)
var _ Sink = (*LogSink)(nil)
