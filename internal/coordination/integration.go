package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/workflow"
	"AgentMarket-Chain/pkg/logger"
)

// State 表示协调层在进程生命周期内的状态。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateProbing       State = "probing"
	StateEnabled       State = "enabled"
	StateDisabled      State = "disabled"
)

// Integration 在本地编排之上叠加可选的外部协调。
// 本地执行永远是结果与扣费的权威来源，协调只产生附加元数据；
// 协调服务的任何异常都静默降级为纯本地执行。
type Integration struct {
	client   *Client
	delegate workflow.Executor

	mu        sync.Mutex
	state     State
	sessionID string
}

// NewIntegration 创建协调层。client 为空时协调被永久停用。
func NewIntegration(client *Client, delegate workflow.Executor) *Integration {
	return &Integration{
		client:   client,
		delegate: delegate,
		state:    StateUninitialized,
	}
}

// Initialize 探测协调服务并尝试建立会话，进程内只执行一次。
// 探测失败后本进程不再重试，协调保持停用。
func (i *Integration) Initialize(ctx context.Context) {
	i.mu.Lock()
	if i.state != StateUninitialized {
		i.mu.Unlock()
		return
	}
	i.state = StateProbing
	i.mu.Unlock()

	if i.client == nil {
		i.setState(StateDisabled, "")
		return
	}
	if err := i.client.Probe(ctx); err != nil {
		logger.L().Warn("协调服务不可达，使用纯本地执行", slog.Any("error", err))
		i.setState(StateDisabled, "")
		return
	}
	sessionID, err := i.client.OpenSession(ctx)
	if err != nil {
		logger.L().Warn("创建协调会话失败，使用纯本地执行", slog.Any("error", err))
		i.setState(StateDisabled, "")
		return
	}
	logger.L().Info("协调会话已建立", slog.String("session_id", sessionID))
	i.setState(StateEnabled, sessionID)
}

// State 返回当前协调状态。
func (i *Integration) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// SessionID 返回当前会话 ID，协调未启用时为空。
func (i *Integration) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessionID
}

// Execute 实现 workflow.Executor。
// 协调启用时先转发描述性消息，无论转发是否成功都以本地执行为准；
// 转发成功时把会话与线程标识附加到结果上。
func (i *Integration) Execute(ctx context.Context, wf *workflow.Workflow) (workflow.Outcome, error) {
	if i.delegate == nil {
		return workflow.Outcome{}, xerrors.New(xerrors.CodeInitializationFailure, "协调层缺少本地执行器")
	}

	i.mu.Lock()
	enabled := i.state == StateEnabled
	sessionID := i.sessionID
	i.mu.Unlock()

	if !enabled {
		return i.delegate.Execute(ctx, wf)
	}

	threadID := i.forward(ctx, sessionID, wf)

	outcome, err := i.delegate.Execute(ctx, wf)
	if err != nil {
		return outcome, err
	}
	if threadID != "" {
		outcome.SessionID = sessionID
		outcome.ThreadID = threadID
	}
	return outcome, nil
}

// forward 向协调服务转发一条描述消息，失败时返回空串并只记录日志。
func (i *Integration) forward(ctx context.Context, sessionID string, wf *workflow.Workflow) string {
	threadID, err := i.client.CreateThread(ctx, sessionID)
	if err != nil {
		logger.L().Warn("创建协调线程失败，本次降级为纯本地执行",
			slog.Any("error", err),
			slog.String("workflow_id", wf.ID),
		)
		return ""
	}
	message := fmt.Sprintf("workflow %s: query=%q providers=%d payer=%s",
		wf.ID, wf.Query, len(wf.SelectedProviders), wf.PayerRef)
	if err := i.client.SendMessage(ctx, sessionID, threadID, message); err != nil {
		logger.L().Warn("转发协调消息失败，本次降级为纯本地执行",
			slog.Any("error", err),
			slog.String("workflow_id", wf.ID),
		)
		return ""
	}
	return threadID
}

func (i *Integration) setState(state State, sessionID string) {
	i.mu.Lock()
	i.state = state
	i.sessionID = sessionID
	i.mu.Unlock()
}

var _ workflow.Executor = (*Integration)(nil)
