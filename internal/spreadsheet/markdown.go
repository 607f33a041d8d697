package spreadsheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetToMarkdown 将单个工作表转换为markdown表格
// 第一行作为表头，单元格中的竖线和换行会被转义
func SheetToMarkdown(f *excelize.File, sheet string) (string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", fmt.Errorf("failed to read sheet %s: %v", sheet, err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	// 对齐所有行到最大列数，短行补空单元格
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, row := range rows {
		cells := make([]string, width)
		for j := 0; j < width; j++ {
			if j < len(row) {
				cells[j] = escapeCell(row[j])
			}
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")

		// 表头下方的分隔行
		if i == 0 {
			separators := make([]string, width)
			for j := range separators {
				separators[j] = "---"
			}
			sb.WriteString("| " + strings.Join(separators, " | ") + " |\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}

// WorkbookToMarkdown 将整个工作簿转换为markdown
// 每个工作表以其名称作为一级标题，表格紧随其后
func WorkbookToMarkdown(f *excelize.File) (string, error) {
	var sections []string
	for _, sheet := range f.GetSheetList() {
		table, err := SheetToMarkdown(f, sheet)
		if err != nil {
			return "", err
		}
		if table == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("# %s\n\n%s", sheet, table))
	}

	return strings.Join(sections, "\n\n"), nil
}

// HeaderRow 返回工作表的表头（第一行）
func HeaderRow(f *excelize.File, sheet string) ([]string, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet %s: %v", sheet, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return rows.Columns()
}

// ColumnIndex 在表头中查找列名，返回从0开始的列索引
// 匹配时忽略首尾空白和大小写，未找到返回-1
func ColumnIndex(headers []string, name string) int {
	target := strings.ToLower(strings.TrimSpace(name))
	for i, h := range headers {
		if strings.ToLower(strings.TrimSpace(h)) == target {
			return i
		}
	}
	return -1
}

// escapeCell 转义单元格内容，避免破坏markdown表格结构
func escapeCell(cell string) string {
	cell = strings.ReplaceAll(cell, "|", `\|`)
	cell = strings.ReplaceAll(cell, "\r\n", "<br>")
	cell = strings.ReplaceAll(cell, "\n", "<br>")
	return strings.TrimSpace(cell)
}
