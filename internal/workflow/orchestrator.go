package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"AgentMarket-Chain/internal/catalog"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/internal/invoke"
	"AgentMarket-Chain/internal/payment"
	"AgentMarket-Chain/pkg/logger"
)

// Executor 定义了执行一个已领取工作流的能力。
// Orchestrator 是本地实现；协调层包装它并保持相同语义。
type Executor interface {
	Execute(ctx context.Context, wf *Workflow) (Outcome, error)
}

// Orchestrator 按顺序驱动工作流的各个 Provider 阶段，是系统的业务核心。
// 每个阶段先扣费后调用；调用失败终止后续阶段，已扣费用不退回。
type Orchestrator struct {
	catalog     *catalog.Catalog
	ledger      *payment.Ledger
	invokers    *invoke.Registry
	broadcaster *events.Broadcaster
}

// OrchestratorOption 定义可选的编排器配置。
type OrchestratorOption func(*Orchestrator)

// WithBroadcaster 配置阶段事件的广播器。
func WithBroadcaster(broadcaster *events.Broadcaster) OrchestratorOption {
	return func(o *Orchestrator) {
		o.broadcaster = broadcaster
	}
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(cat *catalog.Catalog, ledger *payment.Ledger, invokers *invoke.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		catalog:  cat,
		ledger:   ledger,
		invokers: invokers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Execute 按 SelectedProviders 的顺序逐个执行 Provider 阶段。
// 未知的 Provider ID 被静默跳过；空选择是合法的零花费执行。
// 返回的 Outcome 总是包含失败前已经产生的阶段与扣费。
func (o *Orchestrator) Execute(ctx context.Context, wf *Workflow) (Outcome, error) {
	outcome := Outcome{}
	if o.catalog == nil || o.ledger == nil || o.invokers == nil {
		return outcome, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化")
	}
	if wf == nil || wf.ID == "" {
		return outcome, xerrors.New(CodeWorkflowValidation, "工作流不能为空")
	}

	priorResults := make(map[string]any)
	for position, providerID := range wf.SelectedProviders {
		provider, ok := o.catalog.Get(providerID)
		if !ok {
			logger.L().Debug("跳过未知 Provider",
				slog.String("workflow_id", wf.ID),
				slog.String("provider_id", providerID),
				slog.Int("position", position),
			)
			continue
		}

		tx, err := o.ledger.Charge(ctx, provider.ID, provider.PriceUnit, wf.PayerRef)
		if err != nil {
			return outcome, xerrors.Wrap(CodeProviderCharge, err,
				fmt.Sprintf("Provider %s 扣费失败", provider.ID))
		}
		outcome.Stages = append(outcome.Stages, Stage{ProviderID: provider.ID, Transaction: tx})
		outcome.TotalCost += tx.Amount

		invoker, ok := o.invokers.Resolve(provider.Category)
		if !ok {
			return outcome, xerrors.New(CodeProviderInvocation,
				fmt.Sprintf("Provider 分类 %s 没有可用的调用实现", provider.Category))
		}
		payload, err := invoker.Invoke(ctx, invoke.Request{Query: wf.Query, Prior: priorResults})
		if err != nil {
			return outcome, xerrors.Wrap(CodeProviderInvocation, err,
				fmt.Sprintf("Provider %s 调用失败", provider.ID))
		}
		outcome.Stages[len(outcome.Stages)-1].Result = payload
		priorResults[provider.ID] = payload

		o.publish(events.Event{
			Type:       events.TypeStageCompleted,
			WorkflowID: wf.ID,
			ProviderID: provider.ID,
			Status:     string(StatusProcessing),
			Detail: map[string]any{
				"position": position,
				"amount":   tx.Amount,
				"tx_id":    tx.ID,
			},
		})
	}
	return outcome, nil
}

func (o *Orchestrator) publish(event events.Event) {
	if o.broadcaster != nil {
		o.broadcaster.Publish(event)
	}
}

var _ Executor = (*Orchestrator)(nil)
