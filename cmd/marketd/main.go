package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentMarket-Chain/internal/api"
	"AgentMarket-Chain/internal/catalog"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/coordination"
	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/internal/invoke"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/payment"
	"AgentMarket-Chain/internal/settlement/ethereum"
	"AgentMarket-Chain/internal/workflow"
	"AgentMarket-Chain/pkg/logger"
)

// main 是市场守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("marketd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("MARKET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "market.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Ledger: logger.LedgerLogConfig{
			Enabled:    cfg.Logging.Ledger.Enabled,
			Path:       cfg.Logging.Ledger.Path,
			MaxSizeMB:  cfg.Logging.Ledger.MaxSizeMB,
			MaxBackups: cfg.Logging.Ledger.MaxBackups,
			MaxAgeDays: cfg.Logging.Ledger.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	cat, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	ledgerOpts := []payment.Option{
		payment.WithTreasuryRef(cfg.Ledger.TreasuryRef),
	}
	switch cfg.Settlement.Driver {
	case "", "memory":
		// 默认结算器在 NewLedger 内部创建。
	case "ethereum":
		settler, err := ethereum.NewSettler(ctx, ethereum.Config{
			Name:   "settlement",
			RPCURL: cfg.Settlement.RPCURL,
		})
		if err != nil {
			return err
		}
		defer settler.Close()
		ledgerOpts = append(ledgerOpts, payment.WithSettler(settler))
	default:
		return fmt.Errorf("未知的结算驱动: %s", cfg.Settlement.Driver)
	}
	ledger := payment.NewLedger(cfg.Ledger.PlatformFeeRatio, ledgerOpts...)

	broadcaster := events.NewBroadcaster(64)
	defer broadcaster.Close()

	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭工作流队列失败", slog.Any("error", err))
		}
	}()

	invokers := invoke.DefaultRegistry(cfg.Workflow.SimulateLatency())
	orchestrator := workflow.NewOrchestrator(cat, ledger, invokers,
		workflow.WithBroadcaster(broadcaster),
	)

	// 协调服务不可达时退化为纯本地执行，不阻塞启动。
	var integration *coordination.Integration
	var executor workflow.Executor = orchestrator
	if cfg.Coordination.BaseURL != "" {
		client, err := coordination.NewClient(coordination.Config{
			BaseURL:       cfg.Coordination.BaseURL,
			ApplicationID: cfg.Coordination.ApplicationID,
			PrivacyKey:    cfg.Coordination.PrivacyKey,
			Timeout:       cfg.Coordination.Timeout(),
		})
		if err != nil {
			return err
		}
		integration = coordination.NewIntegration(client, orchestrator)
		integration.Initialize(ctx)
		executor = integration
	}

	processor := workflow.NewProcessor(executor, store, queue,
		workflow.WithWorkerCount(cfg.Workflow.Workers),
		workflow.WithProcessorBroadcaster(broadcaster),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("工作流处理器异常退出", slog.Any("error", err))
		}
	}()

	service := workflow.NewService(store, queue, processor,
		workflow.WithServiceBroadcaster(broadcaster),
		workflow.WithDefaultPayer(cfg.Ledger.DefaultPayerRef),
	)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	serverOpts := []api.ServerOption{
		api.WithEventBroadcaster(broadcaster),
	}
	if integration != nil {
		serverOpts = append(serverOpts, api.WithCoordination(integration))
	}
	server := api.NewServer(cfg.Server.Address, cat, ledger, service, serverOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadCatalog 根据配置选择目录数据源。
func loadCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	switch cfg.Catalog.Driver {
	case "", "static":
		return catalog.Default(), nil
	case "yaml":
		return catalog.LoadYAML(cfg.Catalog.Source)
	case "mysql":
		return catalog.LoadMySQL(ctx, catalog.MySQLConfig{
			DSN:             cfg.Catalog.DSN,
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		})
	default:
		return nil, fmt.Errorf("未知的目录驱动: %s", cfg.Catalog.Driver)
	}
}

// createStore 根据配置选择工作流状态的存储实现。
func createStore(cfg *config.Config) (workflow.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return workflow.NewMemoryStore(), nil
	case "mysql":
		return workflow.NewMySQLStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// createQueue 根据配置选择异步提交队列的实现。
func createQueue(cfg *config.Config) (workflow.Queue, error) {
	switch cfg.Workflow.Queue.Driver {
	case "", "memory":
		return workflow.NewMemoryQueue(1024), nil
	case "redis":
		return workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:   cfg.Workflow.Queue.Redis.Address,
			Password:  cfg.Workflow.Queue.Redis.Password,
			DB:        cfg.Workflow.Queue.Redis.DB,
			Queue:     cfg.Workflow.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Workflow.Queue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:        cfg.Workflow.Queue.RabbitMQ.URL,
			Queue:      cfg.Workflow.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Workflow.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Workflow.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Workflow.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Workflow.Queue.Driver)
	}
}
