package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/pkg/logger"
)

// Request 描述一次工作流提交。
type Request struct {
	ID                string   `json:"id,omitempty"`
	Query             string   `json:"query"`
	SelectedProviders []string `json:"selected_providers"`
	PayerRef          string   `json:"payer_ref,omitempty"`
}

// Runner 定义了立即执行一个已入库工作流的能力，由 Processor 提供。
type Runner interface {
	Handle(ctx context.Context, workflowID string) error
}

// Service 负责工作流的创建与查询，是对外接口层的统一入口。
type Service struct {
	store        Store
	producer     Producer
	runner       Runner
	broadcaster  *events.Broadcaster
	defaultPayer string
}

// ServiceOption 定义可选的服务配置。
type ServiceOption func(*Service)

// WithServiceBroadcaster 配置生命周期事件的广播器。
func WithServiceBroadcaster(broadcaster *events.Broadcaster) ServiceOption {
	return func(s *Service) {
		s.broadcaster = broadcaster
	}
}

// WithDefaultPayer 设置未指定付款方时使用的默认付款标识。
func WithDefaultPayer(payerRef string) ServiceOption {
	return func(s *Service) {
		if payerRef != "" {
			s.defaultPayer = payerRef
		}
	}
}

// NewService 构造工作流服务。producer 为空时仅支持同步提交。
func NewService(store Store, producer Producer, runner Runner, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		producer:     producer,
		runner:       runner,
		defaultPayer: "demo_wallet",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建工作流并同步执行，返回终态的工作流记录。
// 失败的工作流同样通过正常返回值给出，不作为错误抛出。
func (s *Service) Submit(ctx context.Context, req Request) (*Workflow, error) {
	wf, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.runner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流执行器未初始化")
	}
	if err := s.runner.Handle(ctx, wf.ID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, wf.ID)
}

// SubmitAsync 创建工作流并投递到队列，立即返回排队中的记录。
func (s *Service) SubmitAsync(ctx context.Context, req Request) (*Workflow, error) {
	if s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流队列未初始化")
	}
	wf, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, wf.ID); err != nil {
		logger.L().Error("工作流入队失败", slog.Any("error", err), slog.String("workflow_id", wf.ID))
		wrapped := xerrors.Wrap(CodeWorkflowPublish, err, "发布工作流到队列失败")
		_ = s.store.MarkFailed(ctx, wf.ID, CodeWorkflowPublish, wrapped.Error(), Outcome{})
		return nil, wrapped
	}
	if s.broadcaster != nil {
		s.broadcaster.Publish(events.Event{
			Type:       events.TypeWorkflowQueued,
			WorkflowID: wf.ID,
			Status:     string(StatusQueued),
			Detail:     map[string]any{"query": wf.Query},
		})
	}
	logger.Ledger().Info("工作流入队成功",
		slog.String("workflow_id", wf.ID),
		slog.String("query", wf.Query),
		slog.Int("selected_providers", len(wf.SelectedProviders)),
	)
	return wf, nil
}

func (s *Service) create(ctx context.Context, req Request) (*Workflow, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerrors.New(CodeWorkflowValidation, "查询内容不能为空")
	}
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}

	workflowID := strings.TrimSpace(req.ID)
	if workflowID != "" {
		wf, err := s.store.Get(ctx, workflowID)
		if err == nil {
			return wf, nil
		}
		if !stdErrors.Is(err, ErrWorkflowNotFound) {
			return nil, err
		}
	} else {
		workflowID = uuid.NewString()
	}

	payerRef := strings.TrimSpace(req.PayerRef)
	if payerRef == "" {
		payerRef = s.defaultPayer
	}

	wf := &Workflow{
		ID:                workflowID,
		Query:             req.Query,
		SelectedProviders: append([]string(nil), req.SelectedProviders...),
		PayerRef:          payerRef,
		Status:            StatusQueued,
	}
	if err := s.store.Create(ctx, wf); err != nil {
		if stdErrors.Is(err, ErrWorkflowConflict) {
			existing, getErr := s.store.Get(ctx, workflowID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrWorkflowNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	return wf, nil
}

// Get 返回指定工作流的状态。
func (s *Service) Get(ctx context.Context, id string) (*Workflow, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的工作流列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Workflow, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的工作流统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (WorkflowStats, error) {
	if s.store == nil {
		return WorkflowStats{}, xerrors.New(xerrors.CodeInitializationFailure, "工作流存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// WaitUntilCompleted 在指定超时时间内轮询工作流状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Workflow, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		wf, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if wf.IsTerminal() {
			return wf, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
