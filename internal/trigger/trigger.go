package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "GasWarden/internal/errors"
)

// 触发器来源。
const (
	SourceWebhook   = "webhook"
	SourceScheduler = "scheduler"
	SourceManual    = "manual"
)

// Payload 描述一次外部触发事件，由队列投递给代理循环。
type Payload struct {
	// Source 标记触发来源，缺省按 webhook 处理。
	Source string `json:"source,omitempty"`
	// ChainID 是事件关联的链 ID，0 表示与具体链无关。
	ChainID int64 `json:"chain_id"`
	// Event 是事件类型标识，例如 reserve_check、delegation_created。
	Event string `json:"event"`
	// Data 携带事件的附加字段。
	Data map[string]any `json:"data,omitempty"`
	// ReceivedAt 是事件进入系统的时间。
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate 校验触发事件是否合法。
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Event) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "触发事件缺少 event 字段")
	}
	if p.ChainID < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("触发事件的 chain_id 非法: %d", p.ChainID))
	}
	return nil
}

// Encode 将事件序列化为队列消息体。
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("序列化触发事件失败: %w", err)
	}
	return string(raw), nil
}

// Decode 从队列消息体还原事件，并执行合法性校验。
func Decode(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析触发事件失败")
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
