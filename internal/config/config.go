package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 marketd 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Catalog      CatalogConfig      `json:"catalog"`
	Ledger       LedgerConfig       `json:"ledger"`
	Settlement   SettlementConfig   `json:"settlement"`
	Coordination CoordinationConfig `json:"coordination"`
	Workflow     WorkflowConfig     `json:"workflow"`
	Storage      StorageConfig      `json:"storage"`
	Metrics      MetricsConfig      `json:"metrics"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// CatalogConfig 描述智能体目录的加载来源。
type CatalogConfig struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
	DSN    string `json:"dsn"`
}

// LedgerConfig 控制支付账本的分成比例与默认付款方。
type LedgerConfig struct {
	PlatformFeeRatio float64 `json:"platform_fee_ratio"`
	TreasuryRef      string  `json:"treasury_ref"`
	DefaultPayerRef  string  `json:"default_payer_ref"`
}

// SettlementConfig 描述支付结算后端。
type SettlementConfig struct {
	Driver string `json:"driver"`
	RPCURL string `json:"rpc_url"`
}

// CoordinationConfig 描述外部协调服务的接入方式。
type CoordinationConfig struct {
	BaseURL        string `json:"base_url"`
	ApplicationID  string `json:"application_id"`
	PrivacyKey     string `json:"privacy_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回协调服务调用的超时时间。
func (c CoordinationConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkflowConfig 控制工作流的执行参数与异步提交队列。
type WorkflowConfig struct {
	Workers           int         `json:"workers"`
	SimulateLatencyMS int         `json:"simulate_latency_ms"`
	Queue             QueueConfig `json:"queue"`
}

// SimulateLatency 返回模拟的单个智能体处理耗时。
func (c WorkflowConfig) SimulateLatency() time.Duration {
	if c.SimulateLatencyMS <= 0 {
		return 0
	}
	return time.Duration(c.SimulateLatencyMS) * time.Millisecond
}

// QueueConfig 描述异步提交队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// StorageConfig 描述工作流状态的持久化后端。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// MetricsConfig 控制指标服务的监听地址，留空表示不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 映射 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string          `json:"level"`
	Format      string          `json:"format"`
	OutputPaths []string        `json:"output_paths"`
	Ledger      LedgerLogConfig `json:"ledger_log"`
}

// LedgerLogConfig 控制账本审计日志。
type LedgerLogConfig struct {
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

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "static"
	}
	if c.Catalog.Driver == "yaml" && c.Catalog.Source != "" && !filepath.IsAbs(c.Catalog.Source) {
		c.Catalog.Source = filepath.Join(baseDir, c.Catalog.Source)
	}

	if c.Ledger.PlatformFeeRatio <= 0 || c.Ledger.PlatformFeeRatio >= 1 {
		c.Ledger.PlatformFeeRatio = 0.25
	}
	if c.Ledger.TreasuryRef == "" {
		c.Ledger.TreasuryRef = "marketplace_treasury"
	}
	if c.Ledger.DefaultPayerRef == "" {
		c.Ledger.DefaultPayerRef = "demo_wallet"
	}

	if c.Settlement.Driver == "" {
		c.Settlement.Driver = "memory"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = 4
	}
	if c.Workflow.Queue.Driver == "" {
		c.Workflow.Queue.Driver = "memory"
	}
}
