package document

import (
	"regexp"
	"strings"
)

// 段落分类使用的正则
var (
	// 标题：行首一个或多个#后跟空白
	headingPattern = regexp.MustCompile(`^(#+)\s`)
	// 列表项：数字编号（"1. "）或可转义的无序标记（"- "、"* "、"\- "）
	listItemPattern = regexp.MustCompile(`^(\d+\.\s+|\\?[-*]\s+)`)
	// 段落分隔：一个或多个空行
	paragraphSeparator = regexp.MustCompile(`\n\s*\n`)
)

// SplitParagraphs 将markdown文本按空行切分成段落
// 返回的段落已去除首尾空白，空段落被丢弃
func SplitParagraphs(text string) []string {
	// 规范化换行符
	text = strings.ReplaceAll(text, "\r\n", "\n")

	parts := paragraphSeparator.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	return paragraphs
}

// HeadingLevel 根据行首#的数量返回标题层级
// 例如"# 标题"返回1，"### 标题"返回3，非标题返回0
func HeadingLevel(para string) int {
	match := headingPattern.FindStringSubmatch(strings.TrimSpace(para))
	if match == nil {
		return 0
	}
	return len(match[1])
}

// IsHeading 判断段落是否为标题
func IsHeading(para string) bool {
	return HeadingLevel(para) > 0
}

// IsListItem 判断段落是否以列表项标记开头
func IsListItem(para string) bool {
	return listItemPattern.MatchString(strings.TrimSpace(para))
}

// IsTable 判断段落是否包含表格内容
// 识别markdown表格的"|"分隔符或HTML的<table>标签
func IsTable(para string) bool {
	return strings.Contains(para, "|") ||
		strings.Contains(strings.ToLower(para), "<table>")
}

// IsPageBreak 判断段落是否为分页标记
// 覆盖"<!-- PageBreak -->"注释及包含pagebreak字样的标记
func IsPageBreak(para string) bool {
	return strings.Contains(strings.ToLower(para), "pagebreak")
}

// allHeadings 判断一组段落是否全部为标题
func allHeadings(paragraphs []string) bool {
	for _, p := range paragraphs {
		if !IsHeading(p) {
			return false
		}
	}
	return true
}

// allPageBreaks 判断一组段落是否全部为分页标记
func allPageBreaks(paragraphs []string) bool {
	for _, p := range paragraphs {
		if !IsPageBreak(p) {
			return false
		}
	}
	return true
}
