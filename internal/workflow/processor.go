package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/pkg/logger"
)

// Processor 负责从队列消费工作流并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	broadcaster *events.Broadcaster
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithProcessorBroadcaster 配置生命周期事件的广播器。
func WithProcessorBroadcaster(broadcaster *events.Broadcaster) ProcessorOption {
	return func(p *Processor) {
		p.broadcaster = broadcaster
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动工作流处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置工作流消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 领取并执行一个工作流。同步提交路径也复用这段逻辑。
func (p *Processor) Handle(ctx context.Context, workflowID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	wf, err := p.store.Claim(ctx, workflowID)
	if err != nil {
		if stdErrors.Is(err, ErrWorkflowNotFound) || stdErrors.Is(err, ErrWorkflowCompleted) || stdErrors.Is(err, ErrWorkflowConflict) {
			p.logDebug("跳过工作流", slog.String("workflow_id", workflowID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取工作流失败", slog.Any("error", err), slog.String("workflow_id", workflowID))
		return err
	}

	p.publish(events.Event{
		Type:       events.TypeWorkflowStarted,
		WorkflowID: wf.ID,
		Status:     string(StatusProcessing),
		Detail:     map[string]any{"query": wf.Query, "selected_providers": len(wf.SelectedProviders)},
	})

	outcome, execErr := p.executor.Execute(ctx, wf)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, wf, outcome, execErr)
	}

	if err := p.store.MarkCompleted(ctx, wf.ID, outcome); err != nil {
		logger.L().Error("标记工作流完成状态失败", slog.Any("error", err), slog.String("workflow_id", wf.ID))
		return err
	}
	logger.Ledger().Info("工作流执行完成",
		slog.String("workflow_id", wf.ID),
		slog.String("query", wf.Query),
		slog.Int("stages", len(outcome.Stages)),
		slog.Float64("total_cost", outcome.TotalCost),
	)
	p.publish(events.Event{
		Type:       events.TypeWorkflowCompleted,
		WorkflowID: wf.ID,
		Status:     string(StatusCompleted),
		Detail:     map[string]any{"stages": len(outcome.Stages), "total_cost": outcome.TotalCost},
	})
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, wf *Workflow, outcome Outcome, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeProviderInvocation
	}

	if storeErr := p.store.MarkFailed(ctx, wf.ID, code, execErr.Error(), outcome); storeErr != nil {
		logger.L().Error("标记工作流失败状态出错", slog.Any("error", storeErr), slog.String("workflow_id", wf.ID))
		return storeErr
	}
	logger.Ledger().Warn("工作流执行失败",
		slog.String("workflow_id", wf.ID),
		slog.String("query", wf.Query),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("charged_stages", len(outcome.Stages)),
		slog.Float64("total_cost", outcome.TotalCost),
	)
	p.publish(events.Event{
		Type:       events.TypeWorkflowFailed,
		WorkflowID: wf.ID,
		Status:     string(StatusFailed),
		Detail:     map[string]any{"error": execErr.Error(), "total_cost": outcome.TotalCost},
	})
	p.emitAlert(ctx, wf, outcome, code, execErr)
	return nil
}

func (p *Processor) publish(event events.Event) {
	if p.broadcaster != nil {
		p.broadcaster.Publish(event)
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, wf *Workflow, outcome Outcome, code xerrors.Code, cause error) {
	if p == nil || p.alerter == nil || wf == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	providerID := ""
	if len(outcome.Stages) > 0 {
		providerID = outcome.Stages[len(outcome.Stages)-1].ProviderID
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		WorkflowID: wf.ID,
		ProviderID: providerID,
		TotalCost:  outcome.TotalCost,
		Metadata:   map[string]string{"query": wf.Query},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("workflow_id", wf.ID),
		)
	}
}
