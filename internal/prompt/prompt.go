package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config 评估提示词配置
// 从JSON文件加载，描述系统提示词、默认规则和按列覆盖的规则
type Config struct {
	// SystemPrompt 系统提示词，描述评估者角色和产出格式
	SystemPrompt string `json:"system_prompt"`

	// Rubric 评分标准，追加在系统提示词之后
	Rubric string `json:"rubric,omitempty"`

	// DefaultRule 默认评估规则模板
	// 支持{search_query}和{context}占位符
	DefaultRule string `json:"default_rule,omitempty"`

	// ColumnRules 按列名覆盖的评估规则模板
	ColumnRules map[string]string `json:"column_rules,omitempty"`
}

// DefaultConfig 返回内置的默认提示词配置
func DefaultConfig() *Config {
	return &Config{
		SystemPrompt: "你是一名文档验收评估专家。请根据参考材料判断评估项是否达标，" +
			"给出「符合」「部分符合」或「不符合」的结论，并简要说明依据。",
		DefaultRule: "评估项：{search_query}\n\n参考材料：\n{context}\n\n" +
			"请根据参考材料判断该评估项是否达标。",
	}
}

// Load 从JSON文件加载提示词配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config: %w", err)
	}

	return Parse(data)
}

// Parse 解析JSON格式的提示词配置
// 未知字段被忽略，缺失字段使用零值
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %v", err)
	}

	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, fmt.Errorf("prompt config missing system_prompt")
	}

	return &cfg, nil
}

// FullSystemPrompt 返回完整的系统提示词
// 配置了评分标准时追加在系统提示词之后
func (c *Config) FullSystemPrompt() string {
	if strings.TrimSpace(c.Rubric) == "" {
		return c.SystemPrompt
	}
	return c.SystemPrompt + "\n\n评分标准:\n" + c.Rubric
}

// RuleFor 返回指定列的评估规则模板
// 列名匹配忽略首尾空白和大小写；无覆盖时返回默认规则
func (c *Config) RuleFor(column string) string {
	target := strings.ToLower(strings.TrimSpace(column))
	for name, rule := range c.ColumnRules {
		if strings.ToLower(strings.TrimSpace(name)) == target {
			return rule
		}
	}
	return c.DefaultRule
}

// Columns 返回配置了规则覆盖的列名列表
func (c *Config) Columns() []string {
	columns := make([]string, 0, len(c.ColumnRules))
	for name := range c.ColumnRules {
		columns = append(columns, name)
	}
	return columns
}
