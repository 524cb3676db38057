package workflow

// WorkflowStats 聚合了工作流状态的统计信息，常用于市场总览接口。
type WorkflowStats struct {
	Total           int     `json:"total"`
	Queued          int     `json:"queued"`
	Processing      int     `json:"processing"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	TotalCost       float64 `json:"total_cost"`
	OldestUpdatedAt int64   `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64   `json:"newest_updated_at,omitempty"`
}
