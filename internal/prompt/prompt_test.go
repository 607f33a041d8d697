package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse 测试提示词配置解析
func TestParse(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		data := []byte(`{
			"system_prompt": "你是评审专家",
			"rubric": "满分5分",
			"default_rule": "评估{search_query}\n{context}",
			"column_rules": {
				"合规性": "检查{search_query}的合规情况"
			}
		}`)

		cfg, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "你是评审专家", cfg.SystemPrompt)
		assert.Equal(t, "满分5分", cfg.Rubric)
		assert.Contains(t, cfg.ColumnRules, "合规性")
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		data := []byte(`{"system_prompt": "p", "future_field": [1,2,3]}`)

		cfg, err := Parse(data)
		require.NoError(t, err, "未知字段不应导致解析失败")
		assert.Equal(t, "p", cfg.SystemPrompt)
	})

	t.Run("missing system prompt", func(t *testing.T) {
		_, err := Parse([]byte(`{"default_rule": "r"}`))
		assert.Error(t, err, "缺少system_prompt应报错")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Parse([]byte(`{not json`))
		assert.Error(t, err)
	})
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"system_prompt": "from file"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from file", cfg.SystemPrompt)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// TestFullSystemPrompt 测试评分标准追加
func TestFullSystemPrompt(t *testing.T) {
	withRubric := &Config{SystemPrompt: "base", Rubric: "5-point scale"}
	assert.Equal(t, "base\n\n评分标准:\n5-point scale", withRubric.FullSystemPrompt())

	withoutRubric := &Config{SystemPrompt: "base"}
	assert.Equal(t, "base", withoutRubric.FullSystemPrompt())
}

// TestRuleFor 测试按列查找规则
func TestRuleFor(t *testing.T) {
	cfg := &Config{
		DefaultRule: "default",
		ColumnRules: map[string]string{
			"Compliance ": "compliance rule",
		},
	}

	assert.Equal(t, "compliance rule", cfg.RuleFor("compliance"),
		"列名匹配应忽略大小写和空白")
	assert.Equal(t, "default", cfg.RuleFor("other"),
		"无覆盖的列应使用默认规则")
}
