package workflow

import (
	"context"

	xerrors "AgentMarket-Chain/internal/errors"
)

// Store 抽象了工作流状态的存取接口。
type Store interface {
	Create(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	Claim(ctx context.Context, id string) (*Workflow, error)
	MarkCompleted(ctx context.Context, id string, outcome Outcome) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, errorDetail string, outcome Outcome) error
	List(ctx context.Context, opts ListOptions) ([]*Workflow, error)
	Stats(ctx context.Context, opts ListOptions) (WorkflowStats, error)
	Close() error
}
