package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"GasWarden/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// Sink 负责将人类可读的通知文本发送到指定渠道。
type Sink interface {
	Channel() Channel
	PostNotification(ctx context.Context, text string) error
}

// Fanout 将同一条通知广播给多个渠道。
type Fanout struct {
	sinks map[Channel]Sink
}

// NewFanout 创建一个新的 Fanout。
func NewFanout(sinks ...Sink) *Fanout {
	set := make(map[Channel]Sink, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		set[s.Channel()] = s
	}
	return &Fanout{sinks: set}
}

// PostNotification 将通知广播至所有注册渠道。
func (f *Fanout) PostNotification(ctx context.Context, text string) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.PostNotification(ctx, text); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", sink.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogSink 仅把通知写入结构化日志，用于未接入外部渠道的部署。
type LogSink struct{}

// Channel 返回日志渠道。
func (s *LogSink) Channel() Channel { return ChannelLog }

// PostNotification 记录通知内容。
func (s *LogSink) PostNotification(_ context.Context, text string) error {
	logger.Named("notify").Info("发布通知", slog.String("text", text))
	return nil
}
