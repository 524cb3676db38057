package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlDefinitions models the structure of configs/catalog.yaml.
type yamlDefinitions struct {
	Providers []yamlProvider `yaml:"providers"`
}

type yamlProvider struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	PriceUnit     float64  `yaml:"price_unit"`
	Capabilities  []string `yaml:"capabilities"`
	Category      string   `yaml:"category"`
	Owner         string   `yaml:"owner"`
	Rating        float64  `yaml:"rating"`
	TotalUses     int      `yaml:"total_uses"`
	AvgLatencySec float64  `yaml:"avg_latency_sec"`
	SuccessRate   float64  `yaml:"success_rate"`
}

// LoadYAML 从 YAML 文件加载目录定义。
func LoadYAML(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}

	var defs yamlDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}

	providers := make([]Provider, 0, len(defs.Providers))
	for _, def := range defs.Providers {
		providers = append(providers, Provider{
			ID:            def.ID,
			Name:          def.Name,
			Description:   def.Description,
			PriceUnit:     def.PriceUnit,
			Capabilities:  def.Capabilities,
			Category:      def.Category,
			Owner:         def.Owner,
			Rating:        def.Rating,
			TotalUses:     def.TotalUses,
			AvgLatencySec: def.AvgLatencySec,
			SuccessRate:   def.SuccessRate,
		})
	}
	return New(providers), nil
}
