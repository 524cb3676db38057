package catalog

import (
	"sort"
	"strings"
)

// Provider 描述市场中一个可租用的智能体能力。
// 目录加载完成后 Provider 不再变更。
type Provider struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PriceUnit     float64  `json:"price_unit"`
	Capabilities  []string `json:"capabilities"`
	Category      string   `json:"category"`
	Owner         string   `json:"owner"`
	Rating        float64  `json:"rating"`
	TotalUses     int      `json:"total_uses"`
	AvgLatencySec float64  `json:"avg_latency_sec"`
	SuccessRate   float64  `json:"success_rate"`
}

// Catalog 保存所有可用的 Provider，构建完成后只读。
type Catalog struct {
	providers []Provider
	index     map[string]int
}

// New 根据给定的 Provider 列表构建目录。
// 重复的 ID 以先出现的为准；价格为负的条目会被归零。
func New(providers []Provider) *Catalog {
	c := &Catalog{index: make(map[string]int, len(providers))}
	for _, p := range providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		if _, ok := c.index[id]; ok {
			continue
		}
		p.ID = id
		if p.PriceUnit < 0 {
			p.PriceUnit = 0
		}
		c.index[id] = len(c.providers)
		c.providers = append(c.providers, p)
	}
	return c
}

// List 返回目录中的全部 Provider，顺序与加载顺序一致。
func (c *Catalog) List() []Provider {
	if c == nil {
		return nil
	}
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Get 根据 ID 查找 Provider。未找到不是错误，返回 false。
func (c *Catalog) Get(id string) (Provider, bool) {
	if c == nil {
		return Provider{}, false
	}
	idx, ok := c.index[strings.TrimSpace(id)]
	if !ok {
		return Provider{}, false
	}
	return c.providers[idx], true
}

// Categories 返回目录中出现过的分类名称，按字典序排列。
func (c *Catalog) Categories() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.providers))
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		category := strings.TrimSpace(p.Category)
		if category == "" {
			continue
		}
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		names = append(names, category)
	}
	sort.Strings(names)
	return names
}

// Len 返回目录条目数量。空目录是合法状态。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

// Default 返回内置的演示目录。
func Default() *Catalog {
	return New([]Provider{
		{
			ID:            "search_pro_2024",
			Name:          "Search Pro Agent",
			Description:   "面向市场情报的聚合检索智能体，输出结构化的检索摘要。",
			PriceUnit:     0.012,
			Capabilities:  []string{"web_search", "market_research", "competitor_analysis", "trend_analysis"},
			Category:      "Research",
			Owner:         "marketplace_labs",
			Rating:        4.9,
			TotalUses:     3247,
			AvgLatencySec: 2.8,
			SuccessRate:   97.5,
		},
		{
			ID:            "content_creator_pro",
			Name:          "Content Creator Pro",
			Description:   "基于上游检索结果生成结构化文案大纲的创作智能体。",
			PriceUnit:     0.008,
			Capabilities:  []string{"blog_writing", "social_media", "marketing_copy", "seo_optimization"},
			Category:      "Content",
			Owner:         "creative_ai_studio",
			Rating:        4.8,
			TotalUses:     2891,
			AvgLatencySec: 3.1,
			SuccessRate:   96.2,
		},
		{
			ID:            "business_analyst_ai",
			Name:          "Business Analyst AI",
			Description:   "汇总前序阶段产出并给出评分化商业分析的智能体。",
			PriceUnit:     0.018,
			Capabilities:  []string{"strategic_analysis", "financial_modeling", "risk_assessment", "opportunity_mapping"},
			Category:      "Business Intelligence",
			Owner:         "strategy_consulting_ai",
			Rating:        4.7,
			TotalUses:     1756,
			AvgLatencySec: 4.2,
			SuccessRate:   94.8,
		},
	})
}
