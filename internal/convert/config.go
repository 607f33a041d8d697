package convert

import (
	"time"
)

// Config 存储转换服务连接配置
type Config struct {
	BaseURL      string        // 转换服务基础URL
	APIKey       string        // 服务访问密钥
	Timeout      time.Duration // 单次请求超时时间
	MaxRetries   int           // 最大重试次数
	RetryDelay   time.Duration // 重试间隔
	PollInterval time.Duration // 任务轮询间隔
	PollTimeout  time.Duration // 任务轮询总超时
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "http://localhost:8000/api",
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		PollInterval: 2 * time.Second,
		PollTimeout:  5 * time.Minute,
	}
}

// WithBaseURL 设置基础URL
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithAPIKey 设置访问密钥
func (c *Config) WithAPIKey(key string) *Config {
	c.APIKey = key
	return c
}

// WithTimeout 设置请求超时时间
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetry 设置重试参数
func (c *Config) WithRetry(maxRetries int, retryDelay time.Duration) *Config {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
	return c
}

// WithPolling 设置轮询参数
func (c *Config) WithPolling(interval, timeout time.Duration) *Config {
	c.PollInterval = interval
	c.PollTimeout = timeout
	return c
}
