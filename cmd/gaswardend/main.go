package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"GasWarden/internal/agent"
	"GasWarden/internal/api"
	"GasWarden/internal/auth"
	"GasWarden/internal/budget"
	"GasWarden/internal/config"
	"GasWarden/internal/delegation"
	"GasWarden/internal/llm/openai"
	"GasWarden/internal/notify"
	"GasWarden/internal/reserve"
	"GasWarden/internal/scheduler"
	"GasWarden/internal/store"
	"GasWarden/internal/trigger"
	"GasWarden/internal/web3/provider"
	"GasWarden/pkg/logger"
)

// main 是 GasWarden 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		log.Fatalf("gaswardend 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("GASWARDEN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "gaswarden.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 原子存储：储备快照与配额计数共用同一后端。
	atomicStore, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := atomicStore.Close(); err != nil {
			log.Printf("关闭存储失败: %v", err)
		}
	}()

	reserveManager := reserve.NewManager(atomicStore)
	if err := seedReserveFloors(ctx, reserveManager, cfg.Reserve); err != nil {
		return err
	}

	budgetCfg, err := budgetConfig(cfg)
	if err != nil {
		return err
	}
	allocator := budget.NewAllocator(atomicStore, budgetCfg)

	notifier, err := createNotifier(cfg)
	if err != nil {
		return err
	}
	evaluator := reserve.NewEvaluator(reserveManager, notifier)

	delegationRepo, err := createDelegationRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := delegationRepo.Close(); err != nil {
			log.Printf("关闭委托仓库失败: %v", err)
		}
	}()
	ledger := delegation.NewLedger(delegationRepo)

	triggerQueue, err := createTriggerQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := triggerQueue.Close(); err != nil {
			log.Printf("关闭触发队列失败: %v", err)
		}
	}()

	balances, err := provider.NewRegistry(ctx, provider.Config{
		ChainConfig:   cfg.Web3.ChainConfig,
		WalletAddress: cfg.Web3.WalletAddress,
		CallTimeout:   time.Duration(cfg.Web3.CallTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer balances.Close()

	reasoner, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	orchestrator := agent.NewOrchestrator(
		agent.Config{
			ConfidenceThreshold:    cfg.Agent.ConfidenceThreshold,
			MaxTransactionValueUSD: cfg.Agent.MaxTransactionValueUSD,
			ExecutionMode:          agent.ExecutionMode(cfg.Agent.ExecutionMode),
		},
		reserveManager,
		evaluator,
		allocator,
		ledger,
		balances,
		reasoner,
	)

	// 消费循环：队列中的每条触发事件驱动一次代理周期。
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		err := triggerQueue.Consume(consumerCtx, cfg.Trigger.Workers, func(ctx context.Context, raw string) error {
			payload, err := trigger.Decode(raw)
			if err != nil {
				log.Printf("丢弃非法触发事件: %v", err)
				return nil
			}
			if _, err := orchestrator.RunCycle(ctx, payload); err != nil {
				log.Printf("代理周期执行失败: %v", err)
				return err
			}
			return nil
		})
		if err != nil && !stdErrors.Is(err, context.Canceled) {
			log.Printf("触发消费循环异常退出: %v", err)
		}
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler.TickSpec, triggerQueue)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	authSvc, err := auth.NewService(auth.Config{
		Mode:  auth.Mode(cfg.Auth.Mode),
		Token: cfg.Auth.Token,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, authSvc, triggerQueue, reserveManager, allocator, ledger)
	if err := server.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// budgetConfig 把配置中的分类配额映射为分配器配置。未知分类在启动
// 阶段直接拒绝，避免配额悄悄落空。
func budgetConfig(cfg *config.Config) (budget.Config, error) {
	budgets := make(map[budget.Category]int64, len(cfg.Budget.MonthlyBudgets))
	for name, quota := range cfg.Budget.MonthlyBudgets {
		category := budget.Category(name)
		if !knownCategory(category) {
			return budget.Config{}, fmt.Errorf("未知的配额分类: %s", name)
		}
		budgets[category] = quota
	}
	return budget.Config{
		MonthlyBudgets: budgets,
		AvgCallCostUSD: cfg.Budget.AvgCallCostUSD,
	}, nil
}

func knownCategory(category budget.Category) bool {
	for _, known := range budget.Categories {
		if known == category {
			return true
		}
	}
	return false
}

// seedReserveFloors 把配置中的储备阈值写入快照，让紧急评估在第一次
// 链上观察之前就有可用的判断基准。
func seedReserveFloors(ctx context.Context, manager *reserve.Manager, cfg config.ReserveConfig) error {
	update := reserve.Update{}
	if cfg.CriticalThresholdETH > 0 {
		update.CriticalThresholdETH = &cfg.CriticalThresholdETH
	}
	if cfg.TargetReserveETH > 0 {
		update.TargetReserveETH = &cfg.TargetReserveETH
	}
	if cfg.DailyBurnRateETH > 0 {
		update.DailyBurnRateETH = &cfg.DailyBurnRateETH
	}
	if update.CriticalThresholdETH == nil && update.TargetReserveETH == nil && update.DailyBurnRateETH == nil {
		return nil
	}
	_, err := manager.Update(ctx, update)
	return err
}

func createStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Address:   cfg.Store.Redis.Address,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
			Timeout:   time.Duration(cfg.Store.Redis.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Store.Driver)
	}
}

func createDelegationRepo(ctx context.Context, cfg *config.Config) (delegation.Repository, error) {
	switch cfg.Delegation.Driver {
	case "", "memory":
		return delegation.NewMemoryRepository(), nil
	case "mysql":
		return delegation.NewMySQLRepository(ctx, delegation.MySQLConfig{
			DSN:             cfg.Delegation.MySQL.DSN,
			MaxOpenConns:    cfg.Delegation.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Delegation.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Delegation.MySQL.ConnMaxLifetimeMins) * time.Minute,
			ConnMaxIdleTime: time.Duration(cfg.Delegation.MySQL.ConnMaxIdleTimeMins) * time.Minute,
		})
	default:
		return nil, fmt.Errorf("未知的委托存储驱动: %s", cfg.Delegation.Driver)
	}
}

func createTriggerQueue(cfg *config.Config) (trigger.Queue, error) {
	switch cfg.Trigger.Driver {
	case "", "memory":
		return trigger.NewMemoryQueue(cfg.Trigger.QueueSize), nil
	case "redis":
		return trigger.NewRedisQueue(trigger.RedisQueueConfig{
			Address:   cfg.Trigger.Redis.Address,
			Password:  cfg.Trigger.Redis.Password,
			DB:        cfg.Trigger.Redis.DB,
			Queue:     cfg.Trigger.Redis.Queue,
			BlockWait: time.Duration(cfg.Trigger.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return trigger.NewRabbitMQQueue(trigger.RabbitMQConfig{
			URL:        cfg.Trigger.RabbitMQ.URL,
			Queue:      cfg.Trigger.RabbitMQ.Queue,
			Prefetch:   cfg.Trigger.RabbitMQ.Prefetch,
			Durable:    cfg.Trigger.RabbitMQ.Durable,
			AutoDelete: cfg.Trigger.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Trigger.Driver)
	}
}

func createNotifier(cfg *config.Config) (reserve.Notifier, error) {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewFanout(&notify.LogSink{}), nil
	}
	webhook, err := notify.NewWebhookSink(notify.WebhookConfig{
		URL:     cfg.Notify.WebhookURL,
		Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return notify.NewFanout(webhook, &notify.LogSink{}), nil
}
