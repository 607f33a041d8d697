package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]interface{}) *excelize.File {
	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })

	first := true
	for sheet, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", sheet))
			first = false
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &row))
		}
	}
	return f
}

// TestSheetToMarkdown 测试单个工作表转markdown表格
func TestSheetToMarkdown(t *testing.T) {
	t.Run("basic table", func(t *testing.T) {
		f := buildWorkbook(t, map[string][][]interface{}{
			"Data": {
				{"Name", "Score"},
				{"Alice", "90"},
				{"Bob", "85"},
			},
		})

		table, err := SheetToMarkdown(f, "Data")
		require.NoError(t, err)
		assert.Equal(t,
			"| Name | Score |\n| --- | --- |\n| Alice | 90 |\n| Bob | 85 |",
			table)
	})

	t.Run("ragged rows padded", func(t *testing.T) {
		f := buildWorkbook(t, map[string][][]interface{}{
			"Data": {
				{"A", "B", "C"},
				{"1"},
			},
		})

		table, err := SheetToMarkdown(f, "Data")
		require.NoError(t, err)
		assert.Contains(t, table, "| 1 |  |  |", "短行应补齐空单元格")
	})

	t.Run("cell content escaped", func(t *testing.T) {
		f := buildWorkbook(t, map[string][][]interface{}{
			"Data": {
				{"Header"},
				{"a|b\nc"},
			},
		})

		table, err := SheetToMarkdown(f, "Data")
		require.NoError(t, err)
		assert.Contains(t, table, `a\|b<br>c`, "竖线和换行应被转义")
	})

	t.Run("empty sheet", func(t *testing.T) {
		f := buildWorkbook(t, map[string][][]interface{}{"Empty": {}})

		table, err := SheetToMarkdown(f, "Empty")
		require.NoError(t, err)
		assert.Empty(t, table)
	})
}

// TestWorkbookToMarkdown 测试整个工作簿转markdown
func TestWorkbookToMarkdown(t *testing.T) {
	f := buildWorkbook(t, map[string][][]interface{}{
		"Scores": {
			{"Item", "Requirement"},
			{"Security", "Encrypt data"},
		},
	})

	content, err := WorkbookToMarkdown(f)
	require.NoError(t, err)
	assert.Contains(t, content, "# Scores", "工作表名应作为一级标题")
	assert.Contains(t, content, "| Item | Requirement |")
}

// TestColumnIndex 测试列名查找
func TestColumnIndex(t *testing.T) {
	headers := []string{"Item", " Requirement ", "Score"}

	assert.Equal(t, 0, ColumnIndex(headers, "Item"))
	assert.Equal(t, 1, ColumnIndex(headers, "requirement"), "匹配应忽略大小写和空白")
	assert.Equal(t, 2, ColumnIndex(headers, "SCORE"))
	assert.Equal(t, -1, ColumnIndex(headers, "Missing"))
}
