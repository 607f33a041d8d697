package document

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter token计数函数类型
// 必须是纯函数，且文本拼接后的计数不小于拼接前任意一段的计数
type TokenCounter func(text string) int

// TokenCount 默认的token计数实现
// 用空白分隔的词数近似token数
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// NewTiktokenCounter 创建基于tiktoken编码的token计数器
// 可替换默认的词数近似，分块语义不变
func NewTiktokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}
