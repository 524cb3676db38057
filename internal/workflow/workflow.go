package workflow

import (
	stdErrors "errors"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/payment"
)

// Status 表示工作流在生命周期中的状态。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage 记录一个已扣费 Provider 阶段的执行情况。
// 扣费先于调用发生，因此失败的阶段仍然带有交易记录。
type Stage struct {
	ProviderID  string               `json:"provider_id"`
	Transaction *payment.Transaction `json:"transaction"`
	Result      map[string]any       `json:"result,omitempty"`
}

// Workflow 描述一次端到端的多 Provider 执行。
// Stages 按调用顺序追加，同一 Provider 可以出现多次。
type Workflow struct {
	ID                string   `json:"id"`
	Query             string   `json:"query"`
	SelectedProviders []string `json:"selected_providers"`
	PayerRef          string   `json:"payer_ref"`
	Status            Status   `json:"status"`
	Stages            []Stage  `json:"stages"`
	TotalCost         float64  `json:"total_cost"`
	ErrorDetail       string   `json:"error_detail,omitempty"`
	ErrorCode         string   `json:"error_code,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	ThreadID          string   `json:"thread_id,omitempty"`
	CreatedAt         int64    `json:"created_at"`
	StartedAt         int64    `json:"started_at,omitempty"`
	CompletedAt       int64    `json:"completed_at,omitempty"`
	FailedAt          int64    `json:"failed_at,omitempty"`
	UpdatedAt         int64    `json:"updated_at"`
}

// Outcome 汇总一次执行产生的阶段、花费与协调元数据。
type Outcome struct {
	Stages    []Stage
	TotalCost float64
	SessionID string
	ThreadID  string
}

var (
	// ErrWorkflowNotFound 表示指定的工作流不存在。
	ErrWorkflowNotFound = xerrors.New(CodeWorkflowNotFound, "workflow not found")
	// ErrWorkflowConflict 表示工作流在当前状态下无法进行所请求的操作。
	ErrWorkflowConflict = xerrors.New(CodeWorkflowConflict, "workflow conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrWorkflowCompleted 表示工作流已经进入终态。
	ErrWorkflowCompleted = xerrors.New(CodeWorkflowCompleted, "workflow already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeWorkflowNotFound   xerrors.Code = "WORKFLOW_NOT_FOUND"
	CodeWorkflowConflict   xerrors.Code = "WORKFLOW_CONFLICT"
	CodeWorkflowCompleted  xerrors.Code = "WORKFLOW_COMPLETED"
	CodeWorkflowValidation xerrors.Code = "WORKFLOW_VALIDATION_FAILED"
	CodeWorkflowPublish    xerrors.Code = "WORKFLOW_PUBLISH_FAILED"
	CodeProviderInvocation xerrors.Code = "PROVIDER_INVOCATION_FAILED"
	CodeProviderCharge     xerrors.Code = "PROVIDER_CHARGE_FAILED"
)

func init() {
	xerrors.Register(CodeWorkflowNotFound, xerrors.Attributes{
		Message:   "workflow not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkflowConflict, xerrors.Attributes{
		Message:   "workflow conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkflowCompleted, xerrors.Attributes{
		Message:   "workflow already finished",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkflowValidation, xerrors.Attributes{
		Message:   "workflow validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWorkflowPublish, xerrors.Attributes{
		Message:   "failed to publish workflow",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeProviderInvocation, xerrors.Attributes{
		Message:   "provider invocation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeProviderCharge, xerrors.Attributes{
		Message:   "provider charge failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsWorkflowError 判断错误是否为指定的统一工作流错误。
func IsWorkflowError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrWorkflowNotFound) {
		return target == CodeWorkflowNotFound
	}
	if stdErrors.Is(err, ErrWorkflowConflict) {
		return target == CodeWorkflowConflict
	}
	if stdErrors.Is(err, ErrWorkflowCompleted) {
		return target == CodeWorkflowCompleted
	}
	return false
}

// Results 以 Provider ID 为键返回各阶段产出。
// 同一 Provider 出现多次时保留最后一次的产出。
func (w *Workflow) Results() map[string]map[string]any {
	if w == nil || len(w.Stages) == 0 {
		return map[string]map[string]any{}
	}
	out := make(map[string]map[string]any, len(w.Stages))
	for _, stage := range w.Stages {
		if stage.Result != nil {
			out[stage.ProviderID] = stage.Result
		}
	}
	return out
}

// Transactions 以 Provider ID 为键返回各阶段的扣费记录。
func (w *Workflow) Transactions() map[string]*payment.Transaction {
	if w == nil || len(w.Stages) == 0 {
		return map[string]*payment.Transaction{}
	}
	out := make(map[string]*payment.Transaction, len(w.Stages))
	for _, stage := range w.Stages {
		if stage.Transaction != nil {
			out[stage.ProviderID] = stage.Transaction
		}
	}
	return out
}

// IsTerminal 判断工作流是否已进入终态。
func (w *Workflow) IsTerminal() bool {
	return w != nil && (w.Status == StatusCompleted || w.Status == StatusFailed)
}

// IsValidStatus 检查给定的工作流状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneStages(stages []Stage) []Stage {
	if stages == nil {
		return nil
	}
	cloned := make([]Stage, len(stages))
	for i, stage := range stages {
		cloned[i] = cloneStage(stage)
	}
	return cloned
}

func cloneStage(stage Stage) Stage {
	clone := stage
	if stage.Transaction != nil {
		txCopy := *stage.Transaction
		clone.Transaction = &txCopy
	}
	if stage.Result != nil {
		result := make(map[string]any, len(stage.Result))
		for key, value := range stage.Result {
			result[key] = value
		}
		clone.Result = result
	}
	return clone
}

func cloneWorkflow(w *Workflow) *Workflow {
	clone := *w
	if w.SelectedProviders != nil {
		clone.SelectedProviders = append([]string(nil), w.SelectedProviders...)
	}
	clone.Stages = cloneStages(w.Stages)
	return &clone
}
