package trigger

import (
	"context"
)

// Handler 处理来自消息队列的触发事件消息体。返回的错误按错误码注册表
// 的可重试属性决定是否重新投递，不可重试的失败由队列直接丢弃。
type Handler func(ctx context.Context, payload string) error

// Producer 负责向队列投递触发事件。
type Producer interface {
	Publish(ctx context.Context, payload string) error
	Close() error
}

// Consumer 负责从队列中消费触发事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
