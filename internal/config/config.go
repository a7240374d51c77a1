package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 GasWarden 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Auth       AuthConfig       `json:"auth"`
	Store      StoreConfig      `json:"store"`
	Delegation DelegationConfig `json:"delegation"`
	Trigger    TriggerConfig    `json:"trigger"`
	LLM        LLMConfig        `json:"llm"`
	Web3       Web3Config       `json:"web3"`
	Agent      AgentConfig      `json:"agent"`
	Reserve    ReserveConfig    `json:"reserve"`
	Budget     BudgetConfig     `json:"budget"`
	Notify     NotifyConfig     `json:"notify"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 控制外部触发调用的认证方式。
type AuthConfig struct {
	Mode  string `json:"mode"`
	Token string `json:"token"`
}

// StoreConfig 描述储备快照与配额计数使用的原子存储。
type StoreConfig struct {
	Driver string           `json:"driver"`
	Redis  RedisStoreConfig `json:"redis"`
}

// RedisStoreConfig 是 Redis 存储的连接信息。
type RedisStoreConfig struct {
	Address        string `json:"address"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	KeyPrefix      string `json:"key_prefix"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// DelegationConfig 描述委托账本的持久化后端。
type DelegationConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 是委托账本 MySQL 后端的连接信息。
type MySQLConfig struct {
	DSN                 string `json:"dsn"`
	MaxOpenConns        int    `json:"max_open_conns"`
	MaxIdleConns        int    `json:"max_idle_conns"`
	ConnMaxLifetimeMins int    `json:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMins int    `json:"conn_max_idle_time_minutes"`
}

// TriggerConfig 描述触发事件队列。
type TriggerConfig struct {
	Driver    string              `json:"driver"`
	Workers   int                 `json:"workers"`
	QueueSize int                 `json:"queue_size"`
	Redis     RedisTriggerConfig  `json:"redis"`
	RabbitMQ  RabbitTriggerConfig `json:"rabbitmq"`
}

// RedisTriggerConfig 是 Redis 触发队列的连接信息。
type RedisTriggerConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitTriggerConfig 是 RabbitMQ 触发队列的连接信息。
type RabbitTriggerConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 配置付费推理服务的调用方式。
type LLMConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 描述链上余额查询所需的信息。
type Web3Config struct {
	ChainConfig        string `json:"chain_config"`
	WalletAddress      string `json:"wallet_address"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
}

// AgentConfig 是代理周期的门控参数。
type AgentConfig struct {
	ConfidenceThreshold    float64 `json:"confidence_threshold"`
	MaxTransactionValueUSD float64 `json:"max_transaction_value_usd"`
	ExecutionMode          string  `json:"execution_mode"`
}

// ReserveConfig 是储备健康的初始阈值，守护进程启动时写入储备快照，
// 之后每个代理周期根据观察到的余额重新推导 runway。
type ReserveConfig struct {
	TargetReserveETH     float64 `json:"target_reserve_eth"`
	CriticalThresholdETH float64 `json:"critical_threshold_eth"`
	DailyBurnRateETH     float64 `json:"daily_burn_rate_eth"`
}

// BudgetConfig 覆盖各分类的月度配额。
type BudgetConfig struct {
	MonthlyBudgets map[string]int64 `json:"monthly_budgets"`
	AvgCallCostUSD float64          `json:"avg_call_cost_usd"`
}

// NotifyConfig 描述紧急通知的 Webhook 渠道。
type NotifyConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SchedulerConfig 控制定时巡检。
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	TickSpec string `json:"tick_spec"`
}

// LoggingConfig 控制结构化日志与审计输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "static_token"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "gaswarden:"
	}
	if c.Store.Redis.TimeoutSeconds <= 0 {
		c.Store.Redis.TimeoutSeconds = 5
	}

	if c.Delegation.Driver == "" {
		c.Delegation.Driver = "memory"
	}

	if c.Trigger.Driver == "" {
		c.Trigger.Driver = "memory"
	}
	if c.Trigger.Workers <= 0 {
		c.Trigger.Workers = 2
	}
	if c.Trigger.QueueSize <= 0 {
		c.Trigger.QueueSize = 64
	}
	if c.Trigger.Redis.BlockWaitSeconds <= 0 {
		c.Trigger.Redis.BlockWaitSeconds = 5
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 30
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.CallTimeoutSeconds <= 0 {
		c.Web3.CallTimeoutSeconds = 10
	}

	if c.Agent.ConfidenceThreshold <= 0 {
		c.Agent.ConfidenceThreshold = 0.8
	}
	if c.Agent.MaxTransactionValueUSD <= 0 {
		c.Agent.MaxTransactionValueUSD = 50
	}
	if c.Agent.ExecutionMode == "" {
		c.Agent.ExecutionMode = "SIMULATION"
	}

	if c.Reserve.CriticalThresholdETH <= 0 {
		c.Reserve.CriticalThresholdETH = 0.1
	}

	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = 5
	}

	if c.Scheduler.TickSpec == "" {
		c.Scheduler.TickSpec = "0 */5 * * * *"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "audit.log")
	}
}
