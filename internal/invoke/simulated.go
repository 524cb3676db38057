package invoke

import (
	"context"
	"fmt"
	"time"
)

// simulatedInvoker 按固定模板生成结构化产出，用于本地演示和测试。
type simulatedInvoker struct {
	latency time.Duration
	build   func(req Request) map[string]any
}

func (s *simulatedInvoker) Invoke(ctx context.Context, req Request) (map[string]any, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return s.build(req), nil
}

// NewResearchInvoker 模拟检索类 Provider，产出市场情报摘要。
func NewResearchInvoker(latency time.Duration) Invoker {
	return &simulatedInvoker{latency: latency, build: func(req Request) map[string]any {
		return map[string]any{
			"results": map[string]any{
				"web_results": []map[string]any{
					{
						"title":   fmt.Sprintf("Market Analysis: %s", req.Query),
						"snippet": fmt.Sprintf("Aggregated findings for the %s landscape", req.Query),
					},
				},
				"market_intelligence": map[string]any{
					"market_size_usd": "$47.2B",
					"growth_rate":     "23.4% CAGR",
				},
			},
			"confidence_score": 0.94,
		}
	}}
}

// NewContentInvoker 模拟创作类 Provider，基于前序检索产出文案结构。
func NewContentInvoker(latency time.Duration) Invoker {
	return &simulatedInvoker{latency: latency, build: func(req Request) map[string]any {
		return map[string]any{
			"content": map[string]any{
				"blog_post": map[string]any{
					"title":      fmt.Sprintf("The State of %s", req.Query),
					"word_count": 1250,
					"seo_score":  89,
				},
				"marketing_copy": map[string]any{
					"headline": fmt.Sprintf("Transform Your Business with %s Solutions", req.Query),
					"cta":      "Start Your Transformation Today",
				},
			},
			"source_stages": len(req.Prior),
		}
	}}
}

// NewAnalysisInvoker 模拟分析类 Provider，汇总前序阶段给出商业判断。
func NewAnalysisInvoker(latency time.Duration) Invoker {
	return &simulatedInvoker{latency: latency, build: func(req Request) map[string]any {
		return map[string]any{
			"analysis": map[string]any{
				"executive_summary": fmt.Sprintf("Strategic analysis reveals significant market opportunity in %s", req.Query),
				"investment_thesis": map[string]any{
					"investment_required": "$1.5M - $3M",
					"expected_roi":        "300-500% over 3 years",
				},
			},
			"inputs_considered": len(req.Prior),
		}
	}}
}

// NewEchoInvoker 是兜底 Invoker，仅回显请求内容。
func NewEchoInvoker(latency time.Duration) Invoker {
	return &simulatedInvoker{latency: latency, build: func(req Request) map[string]any {
		return map[string]any{
			"echo":         req.Query,
			"prior_stages": len(req.Prior),
		}
	}}
}
