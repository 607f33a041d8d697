package storage

import (
	"context"
	"fmt"
	"io"
)

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 内部存储路径(实现相关)
}

// Storage 文件存储接口
// 定义文件存储的基本操作，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, id string) error

	// List 列出所有文件
	List(ctx context.Context) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, id string) (bool, error)
}

// PathResolver 可以把文件ID解析为本地磁盘路径的存储实现
// 文档转换和解析需要真实文件路径时使用
type PathResolver interface {
	// LocalPath 返回文件在本地磁盘上的绝对路径
	LocalPath(id string) (string, error)
}

// Config 存储配置
type Config struct {
	Type string // 存储类型: local/minio

	// 本地存储配置
	LocalPath string // 本地存储根目录

	// MinIO配置
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// Factory 存储实现的工厂函数
type Factory func(cfg *Config) (Storage, error)

var storageFactories = make(map[string]Factory)

// RegisterStorage 注册存储实现
func RegisterStorage(storageType string, factory Factory) {
	storageFactories[storageType] = factory
}

// NewStorage 根据配置创建存储实例
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is nil")
	}

	factory, exists := storageFactories[cfg.Type]
	if !exists {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}

	return factory(cfg)
}
