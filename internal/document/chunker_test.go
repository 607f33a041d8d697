package document

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunkHeadingWithBody 测试标题与正文合并为一个分块
func TestChunkHeadingWithBody(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 300, HardLimit: 800})

	chunks := chunker.Chunk("# Title\n\nSome body text.")
	require.Len(t, chunks, 1, "标题和正文应合并为一个分块")
	assert.Equal(t, "# Title\n\nSome body text.", chunks[0].Text)
	assert.Equal(t, "content under heading level 1", chunks[0].Reason)
}

// TestChunkLoneHeading 测试孤立标题经暂存后单独输出
func TestChunkLoneHeading(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	chunks := chunker.Chunk("# Title")
	require.Len(t, chunks, 1, "没有后续内容时暂存标题应单独成块")
	assert.Equal(t, "# Title", chunks[0].Text)
	assert.Equal(t, "trailing heading-only group", chunks[0].Reason)
}

// TestChunkPageBreakWithText 测试分页标记与正文同块输出
func TestChunkPageBreakWithText(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	chunks := chunker.Chunk("<!-- PageBreak -->\n\nSome text.")
	require.Len(t, chunks, 1)
	// 分块混入正文后不会被丢弃，分页标记保留在原位置
	assert.Equal(t, "<!-- PageBreak -->\n\nSome text.", chunks[0].Text)
	assert.Equal(t, "text block", chunks[0].Reason)
}

// TestChunkOversizedParagraph 测试空累积时超限段落仍被收纳
func TestChunkOversizedParagraph(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 300, HardLimit: 800})

	para := strings.TrimSpace(strings.Repeat("word ", 1000))
	chunks := chunker.Chunk(para)

	// 非标题段落不做强制切分，必须整段放行以保证游标前进
	require.Len(t, chunks, 1, "超限的首段落应被整段收纳")
	assert.Equal(t, para, chunks[0].Text)
	assert.Greater(t, TokenCount(chunks[0].Text), 800)
}

// TestChunkHeadingTableGroup 测试标题紧跟表格的分组
func TestChunkHeadingTableGroup(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	t.Run("single pair then text", func(t *testing.T) {
		chunks := chunker.Chunk("## A\n\n| x | y |\n\nunrelated text")
		require.Len(t, chunks, 2)
		assert.Equal(t, "## A\n\n| x | y |", chunks[0].Text)
		assert.Equal(t, "table group under heading level 2", chunks[0].Reason)
		assert.Equal(t, "unrelated text", chunks[1].Text)
		assert.Equal(t, "text block", chunks[1].Reason)
	})

	t.Run("at most two pairs per chunk", func(t *testing.T) {
		text := "# A\n\n| a |\n\n# B\n\n| b |\n\n# C\n\n| c |"
		chunks := chunker.Chunk(text)
		require.Len(t, chunks, 2, "每个分块最多容纳两个（标题,表格）对")
		assert.Equal(t, "# A\n\n| a |\n\n# B\n\n| b |", chunks[0].Text)
		assert.Equal(t, "# C\n\n| c |", chunks[1].Text)
	})

	t.Run("first pair admitted even when oversized", func(t *testing.T) {
		small := NewMarkdownChunker(ChunkerConfig{SoftLimit: 5, HardLimit: 10})
		bigTable := "| " + strings.Repeat("cell ", 30) + "|"
		chunks := small.Chunk("# T\n\n" + bigTable + "\n\n# U\n\n| u |")

		require.Len(t, chunks, 2, "累积为空时首对放行，第二对被超限拦截")
		assert.Equal(t, "# T\n\n"+bigTable, chunks[0].Text)
		assert.Greater(t, TokenCount(chunks[0].Text), 10)
		assert.Equal(t, "# U\n\n| u |", chunks[1].Text)
	})
}

// TestChunkPageBreakBeforeList 测试分页标记后紧跟列表项时被丢弃
func TestChunkPageBreakBeforeList(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	chunks := chunker.Chunk("<!-- PageBreak -->\n\n- item one\n\nmore text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "- item one\n\nmore text", chunks[0].Text, "分页标记应被丢弃以保持列表完整")
}

// TestChunkDropPageBreakOnly 测试纯分页标记的分块被丢弃
func TestChunkDropPageBreakOnly(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	t.Run("single page break", func(t *testing.T) {
		chunks := chunker.Chunk("<!-- PageBreak -->")
		assert.Empty(t, chunks, "孤立的分页标记应产生零个分块")
	})

	t.Run("consecutive page breaks", func(t *testing.T) {
		chunks := chunker.Chunk("<!-- PageBreak -->\n\n<!-- PageBreak -->")
		assert.Empty(t, chunks)
	})
}

// TestChunkEmptyInput 测试空输入
func TestChunkEmptyInput(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	assert.Empty(t, chunker.Chunk(""), "空输入应产生零个分块")
	assert.Empty(t, chunker.Chunk("   \n\n\t\n\n  "), "全空白输入应产生零个分块")
}

// TestChunkHeadingLevelNesting 测试标题层级的收纳与截断
func TestChunkHeadingLevelNesting(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	text := "# Top\n\ntext a\n\n## Sub\n\ntext b\n\n# Next\n\ntext c"
	chunks := chunker.Chunk(text)

	require.Len(t, chunks, 2, "同级标题应截断当前分组")
	assert.Equal(t, "# Top\n\ntext a\n\n## Sub\n\ntext b", chunks[0].Text,
		"更深层的子标题应留在同一分块内")
	assert.Equal(t, "# Next\n\ntext c", chunks[1].Text)
}

// TestChunkHeadingGroupOverflow 测试标题组的token超限截断
func TestChunkHeadingGroupOverflow(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 300, HardLimit: 800})

	p600 := strings.TrimSpace(strings.Repeat("alpha ", 600))
	p300 := strings.TrimSpace(strings.Repeat("beta ", 300))
	chunks := chunker.Chunk("# H\n\n" + p600 + "\n\n" + p300)

	require.Len(t, chunks, 2, "超出硬限制的段落应开启新分块")
	assert.Equal(t, "# H\n\n"+p600, chunks[0].Text)
	assert.Equal(t, p300, chunks[1].Text)
	assert.LessOrEqual(t, TokenCount(chunks[0].Text), 800)
}

// TestChunkPendingHeadingsMerge 测试暂存标题并入后续内容
func TestChunkPendingHeadingsMerge(t *testing.T) {
	chunker := NewMarkdownChunker(DefaultChunkerConfig())

	t.Run("merge into following heading group", func(t *testing.T) {
		chunks := chunker.Chunk("# A\n\n# B\n\nbody text")
		require.Len(t, chunks, 1, "暂存标题应并入后续内容分块")
		assert.Equal(t, "# A\n\n# B\n\nbody text", chunks[0].Text)
	})

	t.Run("merge into trailing chunk at finalization", func(t *testing.T) {
		chunks := chunker.Chunk("body text\n\n# Trailing")
		require.Len(t, chunks, 1)
		assert.Equal(t, "body text\n\n# Trailing", chunks[0].Text)
		assert.Equal(t, "text block; trailing headings appended", chunks[0].Reason)
	})

	t.Run("run of headings before content", func(t *testing.T) {
		chunks := chunker.Chunk("# A\n\n# B\n\n# C\n\nbody text")
		require.Len(t, chunks, 1)
		assert.Equal(t, "# A\n\n# B\n\n# C\n\nbody text", chunks[0].Text,
			"连续标题应按原始顺序置于内容之前")
	})
}

// TestChunkForcedSplitHeading 测试超长标题的强制切分
func TestChunkForcedSplitHeading(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 5, HardLimit: 10})

	// "#"加25个词共26个token，应切成10/10/6三个窗口
	heading := "# " + strings.TrimSpace(strings.Repeat("word ", 25))
	chunks := chunker.Chunk(heading)

	require.Len(t, chunks, 3, "26个token按10切分应产生3个窗口")
	assert.Equal(t, 10, TokenCount(chunks[0].Text))
	assert.Equal(t, 10, TokenCount(chunks[1].Text))
	assert.Equal(t, 6, TokenCount(chunks[2].Text))
	assert.Equal(t, "forced split of oversized heading (words 1-10)", chunks[0].Reason)
	assert.Equal(t, "forced split of oversized heading (words 11-20)", chunks[1].Reason)
	assert.Equal(t, "forced split of oversized heading (words 21-26)", chunks[2].Reason)

	// 窗口重新拼接后应还原原始词序列
	var words []string
	for _, chunk := range chunks {
		words = append(words, strings.Fields(chunk.Text)...)
	}
	assert.Equal(t, strings.Fields(heading), words, "强制切分应保持词序且不丢词")
}

// TestChunkForcedSplitFlushesPending 测试强制切分前冲刷暂存标题
func TestChunkForcedSplitFlushesPending(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 5, HardLimit: 10})

	long := "# " + strings.TrimSpace(strings.Repeat("word ", 15))
	chunks := chunker.Chunk("# Small\n\n" + long)

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, "# Small", chunks[0].Text)
	assert.Equal(t, "heading-only group flushed before forced split", chunks[0].Reason)
	assert.Contains(t, chunks[1].Reason, "forced split")
}

// TestChunkReconstruction 测试分块重新拼接后还原原始段落序列
func TestChunkReconstruction(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 50, HardLimit: 120})

	var sb strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&sb, "# Section %d\n\n", i)
		for j := 0; j < 3; j++ {
			fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(strings.Repeat(fmt.Sprintf("p%d-%d ", i, j), 30)))
		}
	}
	text := sb.String()
	original := SplitParagraphs(text)

	chunks := chunker.Chunk(text)
	require.NotEmpty(t, chunks)

	// 所有分块的段落按顺序连接后应与原始段落一一对应
	var rebuilt []string
	for _, chunk := range chunks {
		rebuilt = append(rebuilt, strings.Split(chunk.Text, "\n\n")...)
	}
	assert.Equal(t, original, rebuilt, "段落不应被复制、重排或丢失")

	// 无超限段落的输入下，所有分块都应满足硬限制
	for i, chunk := range chunks {
		assert.LessOrEqual(t, TokenCount(chunk.Text), 120, "分块%d超出硬限制", i)
	}
}

// TestChunkNoPageBreakOnlyChunks 测试任何输入下都不输出纯分页标记分块
func TestChunkNoPageBreakOnlyChunks(t *testing.T) {
	chunker := NewMarkdownChunker(ChunkerConfig{SoftLimit: 20, HardLimit: 40})

	inputs := []string{
		"<!-- PageBreak -->\n\n# A\n\ntext\n\n<!-- PageBreak -->",
		"<!-- PageBreak -->\n\n<!-- PageBreak -->\n\n- list item",
		"# H\n\n<!-- PageBreak -->\n\n<!-- PageBreak -->",
	}

	for _, input := range inputs {
		for _, chunk := range chunker.Chunk(input) {
			paragraphs := strings.Split(chunk.Text, "\n\n")
			assert.False(t, allPageBreaks(paragraphs),
				"分块不应全部由分页标记构成: %q", chunk.Text)
		}
	}
}

// TestChunkSoftLimitUnused 测试软限制不参与分块决策
func TestChunkSoftLimitUnused(t *testing.T) {
	text := "# H\n\n" + strings.TrimSpace(strings.Repeat("word ", 100))

	loose := NewMarkdownChunker(ChunkerConfig{SoftLimit: 1, HardLimit: 800})
	tight := NewMarkdownChunker(ChunkerConfig{SoftLimit: 799, HardLimit: 800})

	assert.Equal(t, loose.Chunk(text), tight.Chunk(text),
		"软限制只做参数透传，不应影响分块结果")
}

// TestChunkCustomTokenCounter 测试自定义token计数器
func TestChunkCustomTokenCounter(t *testing.T) {
	// 每个词计两个token，硬限制等效减半
	doubled := func(text string) int {
		return 2 * len(strings.Fields(text))
	}

	text := "first paragraph here\n\nsecond paragraph here"

	standard := NewMarkdownChunker(ChunkerConfig{SoftLimit: 3, HardLimit: 6})
	custom := NewMarkdownChunker(ChunkerConfig{SoftLimit: 3, HardLimit: 6, TokenCounter: doubled})

	assert.Len(t, standard.Chunk(text), 1, "默认计数下两段合计6个token恰好放入一块")
	assert.Len(t, custom.Chunk(text), 2, "双倍计数下两段应被拆成两块")
}
