package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
)

// MemoryStore 以内存方式保存工作流状态，生命周期等同于进程。
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*Workflow)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "workflow 不能为空")
	}
	if wf.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}
	if _, ok := m.workflows[wf.ID]; ok {
		return ErrWorkflowConflict
	}
	now := time.Now().Unix()
	if wf.CreatedAt == 0 {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// Get 返回工作流。
func (m *MemoryStore) Get(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return cloneWorkflow(wf), nil
}

// Claim 将排队中的工作流转入处理中，防止重复执行。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	switch wf.Status {
	case StatusCompleted, StatusFailed:
		return cloneWorkflow(wf), ErrWorkflowCompleted
	case StatusProcessing:
		return cloneWorkflow(wf), ErrWorkflowConflict
	}
	now := time.Now().Unix()
	wf.Status = StatusProcessing
	wf.StartedAt = now
	wf.UpdatedAt = now
	return cloneWorkflow(wf), nil
}

// MarkCompleted 记录成功结果并进入终态。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	now := time.Now().Unix()
	wf.Status = StatusCompleted
	wf.Stages = cloneStages(outcome.Stages)
	wf.TotalCost = outcome.TotalCost
	wf.SessionID = outcome.SessionID
	wf.ThreadID = outcome.ThreadID
	wf.ErrorDetail = ""
	wf.ErrorCode = ""
	wf.CompletedAt = now
	wf.UpdatedAt = now
	return nil
}

// MarkFailed 标记工作流失败，保留失败前已产生的阶段与扣费。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, errorDetail string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	now := time.Now().Unix()
	wf.Status = StatusFailed
	wf.Stages = cloneStages(outcome.Stages)
	wf.TotalCost = outcome.TotalCost
	wf.SessionID = outcome.SessionID
	wf.ThreadID = outcome.ThreadID
	wf.ErrorDetail = errorDetail
	wf.ErrorCode = string(code)
	wf.FailedAt = now
	wf.UpdatedAt = now
	return nil
}

// List 返回符合过滤条件的工作流。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if !matchesListFilters(wf, opts) {
			continue
		}
		results = append(results, cloneWorkflow(wf))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Workflow{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的工作流数量与花费。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (WorkflowStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := WorkflowStats{}
	for _, wf := range m.workflows {
		if !matchesListFilters(wf, opts) {
			continue
		}
		stats.Total++
		stats.TotalCost += wf.TotalCost
		switch wf.Status {
		case StatusQueued:
			stats.Queued++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		if wf.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = wf.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (wf.UpdatedAt != 0 && wf.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = wf.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(wf *Workflow, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if wf.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && wf.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && wf.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" && !strings.Contains(strings.ToLower(wf.Query), strings.ToLower(opts.Query)) {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
