package trigger

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 模拟消息队列，主要用于测试与单机部署。
// 数据通道永远不会被 close，关闭通过 done 信号广播，
// 保证并发的 Publish 与 Close 不会向已关闭的 channel 发送。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

// Publish 将触发事件投递到队列，队列已关闭时返回错误。
func (q *MemoryQueue) Publish(ctx context.Context, payload string) error {
	select {
	case <-q.done:
		return errors.New("队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errors.New("队列已关闭")
	case q.ch <- payload:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的事件。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case payload := <-q.ch:
					_ = handler(ctx, payload)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case <-q.done:
		wg.Wait()
		return nil
	}
}

// Close 关闭内存队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
