package invoke

import "context"

// Request 描述一次 Provider 调用的上下文。
// Prior 以 Provider ID 为键，携带同一工作流中前序阶段的产出。
type Request struct {
	Query string
	Prior map[string]any
}

// Invoker 定义了调用一个 Provider 能力的统一接口。
// 返回的载荷会原样写入工作流阶段结果。
type Invoker interface {
	Invoke(ctx context.Context, req Request) (map[string]any, error)
}
