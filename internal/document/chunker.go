package document

import (
	"fmt"
	"strings"
)

// Chunk 分块结果
// Text为按空行重新连接的markdown文本，Reason描述该分块边界的产生原因
type Chunk struct {
	Text   string // 分块文本内容
	Reason string // 分块原因（诊断用）
}

// ChunkerConfig 分块器配置
type ChunkerConfig struct {
	SoftLimit    int          // 软限制（保留参数，当前算法不参与决策）
	HardLimit    int          // 硬限制（token数）
	TokenCounter TokenCounter // 自定义token计数器，nil时使用词数近似
}

// DefaultChunkerConfig 返回默认分块器配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		SoftLimit: 300,
		HardLimit: 800,
	}
}

// MarkdownChunker markdown分块器
// 按标题层级、表格分组、分页标记等规则将markdown组织成大小受限的分块：
//  1. 标题开启一个分块，更深层的子标题留在同一分块内，
//     直到遇到同级或更浅的标题为止
//  2. 标题紧跟表格时按（标题,表格）对分组，每个分块最多2组
//  3. 分页标记后紧跟列表项时丢弃分页标记，保持列表完整
//  4. 仅含1–6个标题的分组暂存在pendingHeadings中，等待并入后续内容
//  5. 单个标题超出硬限制时按词数强制切分
//  6. 整个分块全部为分页标记时丢弃
type MarkdownChunker struct {
	config ChunkerConfig
	count  TokenCounter
}

// NewMarkdownChunker 创建markdown分块器
func NewMarkdownChunker(config ChunkerConfig) *MarkdownChunker {
	defaults := DefaultChunkerConfig()
	if config.SoftLimit <= 0 {
		config.SoftLimit = defaults.SoftLimit
	}
	if config.HardLimit <= 0 {
		config.HardLimit = defaults.HardLimit
	}

	counter := config.TokenCounter
	if counter == nil {
		counter = TokenCount
	}

	return &MarkdownChunker{
		config: config,
		count:  counter,
	}
}

// Config 返回分块器配置
func (c *MarkdownChunker) Config() ChunkerConfig {
	return c.config
}

// Chunk 将markdown文本切分成分块
// 单次前向遍历，游标只前进不回退；对任意字符串输入都能正常返回
func (c *MarkdownChunker) Chunk(text string) []Chunk {
	paragraphs := SplitParagraphs(text)
	chunks := make([]Chunk, 0)
	hard := c.config.HardLimit

	// 暂存尚未并入内容的纯标题分组
	var pendingHeadings []string

	i := 0
	for i < len(paragraphs) {
		// 分页标记后紧跟列表项时跳过该标记，避免列表被拆开
		if IsPageBreak(paragraphs[i]) && i+1 < len(paragraphs) && IsListItem(paragraphs[i+1]) {
			i++
			continue
		}

		if IsHeading(paragraphs[i]) {
			level := HeadingLevel(paragraphs[i])

			// 标题本身超出硬限制：先冲刷暂存标题，再按词数强制切分
			if c.count(paragraphs[i]) > hard {
				if len(pendingHeadings) > 0 && !allPageBreaks(pendingHeadings) {
					chunks = append(chunks, Chunk{
						Text:   joinParagraphs(pendingHeadings),
						Reason: "heading-only group flushed before forced split",
					})
				}
				pendingHeadings = nil

				chunks = append(chunks, c.forceSplit(paragraphs[i], hard)...)
				i++
				continue
			}

			// 标题紧跟表格：进入表格分组
			if i+1 < len(paragraphs) && IsTable(paragraphs[i+1]) {
				var group []string
				groupTokens := 0
				tableGroups := 0

				for i < len(paragraphs) && tableGroups < 2 {
					if !IsHeading(paragraphs[i]) ||
						i+1 >= len(paragraphs) || !IsTable(paragraphs[i+1]) {
						break
					}

					pairTokens := c.count(paragraphs[i]) + c.count(paragraphs[i+1])
					// 判空以段落数为准，首对即使超限也放行
					if groupTokens+pairTokens > hard && len(group) > 0 {
						break
					}

					group = append(group, paragraphs[i], paragraphs[i+1])
					groupTokens += pairTokens
					tableGroups++
					i += 2
				}

				if len(pendingHeadings) > 0 {
					group = prepend(pendingHeadings, group)
					pendingHeadings = nil
				}

				if len(group) > 0 && !allPageBreaks(group) {
					chunks = append(chunks, Chunk{
						Text:   joinParagraphs(group),
						Reason: fmt.Sprintf("table group under heading level %d", level),
					})
				}
				continue
			}

			// 普通标题组：收纳后续段落与更深层子标题，
			// 遇到同级或更浅的标题、或token超限为止
			group := []string{paragraphs[i]}
			groupTokens := c.count(paragraphs[i])
			i++

			for i < len(paragraphs) {
				if IsHeading(paragraphs[i]) && HeadingLevel(paragraphs[i]) <= level {
					break
				}
				tc := c.count(paragraphs[i])
				if groupTokens+tc > hard {
					break
				}
				group = append(group, paragraphs[i])
				groupTokens += tc
				i++
			}

			// 纯标题小分组（1–6个）暂不输出，等待并入后续内容
			if allHeadings(group) && len(group) >= 1 && len(group) <= 6 {
				pendingHeadings = append(pendingHeadings, group...)
				continue
			}

			if len(pendingHeadings) > 0 {
				group = prepend(pendingHeadings, group)
				pendingHeadings = nil
			}

			if len(group) > 0 && !allPageBreaks(group) {
				reason := fmt.Sprintf("content under heading level %d", level)
				if allHeadings(group) {
					reason = "heading-only group"
				}
				chunks = append(chunks, Chunk{
					Text:   joinParagraphs(group),
					Reason: reason,
				})
			}
			continue
		}

		// 非标题：收纳段落直到遇到标题或超出硬限制
		var group []string
		groupTokens := 0

		for i < len(paragraphs) && !IsHeading(paragraphs[i]) {
			tc := c.count(paragraphs[i])
			// 空累积时必须收纳至少一个段落，保证游标前进
			if groupTokens+tc > hard && len(group) > 0 {
				break
			}
			group = append(group, paragraphs[i])
			groupTokens += tc
			i++
		}

		// 先并入暂存标题，再判断合并结果是否仍为纯标题小分组
		if len(pendingHeadings) > 0 {
			group = prepend(pendingHeadings, group)
			pendingHeadings = nil
		}

		if len(group) > 0 && allHeadings(group) && len(group) <= 6 {
			pendingHeadings = append(pendingHeadings, group...)
			continue
		}

		if len(group) > 0 && !allPageBreaks(group) {
			chunks = append(chunks, Chunk{
				Text:   joinParagraphs(group),
				Reason: "text block",
			})
		}
	}

	// 收尾：剩余的暂存标题并入最后一个分块，没有分块时单独输出
	if len(pendingHeadings) > 0 {
		if len(chunks) > 0 {
			last := &chunks[len(chunks)-1]
			combined := append(strings.Split(last.Text, "\n\n"), pendingHeadings...)
			if !allPageBreaks(combined) {
				last.Text = joinParagraphs(combined)
				last.Reason = last.Reason + "; trailing headings appended"
			}
		} else if !allPageBreaks(pendingHeadings) {
			chunks = append(chunks, Chunk{
				Text:   joinParagraphs(pendingHeadings),
				Reason: "trailing heading-only group",
			})
		}
	}

	return chunks
}

// forceSplit 将超长段落按词数切分成连续窗口，每个窗口不超过limit个词
func (c *MarkdownChunker) forceSplit(para string, limit int) []Chunk {
	words := strings.Fields(para)
	chunks := make([]Chunk, 0, (len(words)+limit-1)/limit)

	for start := 0; start < len(words); start += limit {
		end := start + limit
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Text:   strings.Join(words[start:end], " "),
			Reason: fmt.Sprintf("forced split of oversized heading (words %d-%d)", start+1, end),
		})
	}

	return chunks
}

// joinParagraphs 用空行连接段落，还原为markdown文本
func joinParagraphs(paragraphs []string) string {
	return strings.Join(paragraphs, "\n\n")
}

// prepend 将head中的段落置于tail之前，返回新切片
func prepend(head, tail []string) []string {
	merged := make([]string, 0, len(head)+len(tail))
	merged = append(merged, head...)
	merged = append(merged, tail...)
	return merged
}
