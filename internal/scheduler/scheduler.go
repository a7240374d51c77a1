package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"GasWarden/internal/trigger"
	"GasWarden/pkg/logger"
)

// defaultTickSpec 每五分钟发起一次定时巡检。
const defaultTickSpec = "0 */5 * * * *"

// Scheduler 周期性地向触发队列投递定时巡检事件，驱动代理周期。
type Scheduler struct {
	cron     *cron.Cron
	producer trigger.Producer
	tickSpec string
	log      *slog.Logger
}

// New 创建调度器。spec 为空时使用默认的五分钟间隔。
func New(spec string, producer trigger.Producer) *Scheduler {
	if spec == "" {
		spec = defaultTickSpec
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		producer: producer,
		tickSpec: spec,
		log:      logger.Named("scheduler"),
	}
}

// Start 注册定时任务并启动调度。
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.producer == nil {
		return fmt.Errorf("调度器缺少触发队列")
	}
	if _, err := s.cron.AddFunc(s.tickSpec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("注册定时巡检失败: %w", err)
	}
	s.cron.Start()
	s.log.Info("调度器已启动", slog.String("spec", s.tickSpec))
	return nil
}

// Stop 停止调度并等待进行中的任务结束。
func (s *Scheduler) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("调度器已停止")
}

// tick 投递一次定时巡检事件。投递失败只记录日志，等待下一个周期。
func (s *Scheduler) tick(ctx context.Context) {
	payload := trigger.Payload{
		Source:     trigger.SourceScheduler,
		Event:      "scheduled_tick",
		ReceivedAt: time.Now().UTC(),
	}
	raw, err := trigger.Encode(payload)
	if err != nil {
		s.log.Error("序列化定时巡检事件失败", slog.Any("error", err))
		return
	}
	if err := s.producer.Publish(ctx, raw); err != nil {
		s.log.Error("投递定时巡检事件失败", slog.Any("error", err))
	}
}
