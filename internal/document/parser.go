package document

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType 不支持的文档类型
var ErrUnsupportedType = errors.New("unsupported document type")

// Parser 文档解析器
// 把各种格式的源文档统一解析为markdown文本，供分块器消费
type Parser interface {
	// Parse 解析本地文件
	Parse(filePath string) (string, error)

	// ParseReader 从Reader解析，filename仅用于判断格式
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 文档内容类型
type ContentType string

const (
	PDF         ContentType = "pdf"
	Markdown    ContentType = "markdown"
	PlainText   ContentType = "plaintext"
	Spreadsheet ContentType = "spreadsheet"
	Unknown     ContentType = "unknown"
)

// DetectContentType 根据文件扩展名判断内容类型
func DetectContentType(filePath string) ContentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	case ".xlsx", ".xlsm":
		return Spreadsheet
	default:
		return Unknown
	}
}

// ParserFactory 根据文件类型返回对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	case Spreadsheet:
		return NewSpreadsheetParser(), nil
	default:
		return nil, ErrUnsupportedType
	}
}
