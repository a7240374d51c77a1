package scheduler

import (
	"context"
	"testing"

	"GasWarden/internal/trigger"
)

type stubProducer struct {
	published []string
}

func (p *stubProducer) Publish(_ context.Context, payload string) error {
	p.published = append(p.published, payload)
	return nil
}

func (p *stubProducer) Close() error { return nil }

func TestTickPublishesScheduledTrigger(t *testing.T) {
	producer := &stubProducer{}
	sched := New("", producer)

	sched.tick(context.Background())

	if len(producer.published) != 1 {
		t.Fatalf("期望投递一条定时事件，实际 %d", len(producer.published))
	}
	payload, err := trigger.Decode(producer.published[0])
	if err != nil {
		t.Fatalf("定时事件不可解析: %v", err)
	}
	if payload.Source != trigger.SourceScheduler || payload.Event != "scheduled_tick" {
		t.Fatalf("定时事件内容不符: %+v", payload)
	}
}

func TestStartRejectsMissingProducer(t *testing.T) {
	sched := New("", nil)
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("期望缺少触发队列时启动失败")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	sched := New("not-a-cron-spec", &stubProducer{})
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("期望非法 cron 表达式启动失败")
	}
}
