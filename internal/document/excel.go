package document

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/fyerfyer/doc-assess-system/internal/spreadsheet"
)

// SpreadsheetParser 电子表格解析器
// 将工作簿转换为markdown表格，每个工作表以名称作为标题，
// 恰好与分块器的（标题,表格）分组规则对应
type SpreadsheetParser struct{}

// NewSpreadsheetParser 创建电子表格解析器
func NewSpreadsheetParser() Parser {
	return &SpreadsheetParser{}
}

// Parse 解析电子表格文件
func (p *SpreadsheetParser) Parse(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %v", err)
	}
	defer f.Close()

	return p.convert(f)
}

// ParseReader 从Reader解析电子表格内容
func (p *SpreadsheetParser) ParseReader(r io.Reader, filename string) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %v", err)
	}
	defer f.Close()

	return p.convert(f)
}

func (p *SpreadsheetParser) convert(f *excelize.File) (string, error) {
	content, err := spreadsheet.WorkbookToMarkdown(f)
	if err != nil {
		return "", fmt.Errorf("failed to convert spreadsheet to markdown: %v", err)
	}
	if content == "" {
		return "", fmt.Errorf("no content found in spreadsheet")
	}
	return content, nil
}
