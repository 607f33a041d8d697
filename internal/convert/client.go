package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client 是转换服务的HTTP客户端接口
type Client interface {
	// Get 发送GET请求
	Get(ctx context.Context, path string, result interface{}) error
	// PostMultipart 发送multipart表单POST请求
	PostMultipart(ctx context.Context, path string, body io.Reader, contentType string, result interface{}) error
	// GetConfig 获取客户端配置
	GetConfig() *Config
}

// HTTPClient 实现了转换服务的HTTP客户端
type HTTPClient struct {
	client *http.Client
	config *Config
}

// APIError 表示API调用返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convert API error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// NewClient 创建一个新的转换服务HTTP客户端
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		client: client,
		config: config,
	}, nil
}

// Get 发送GET请求到转换服务
func (c *HTTPClient) Get(ctx context.Context, path string, result interface{}) error {
	url := fmt.Sprintf("%s%s", c.config.BaseURL, path)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("request context canceled: %w", ctx.Err())
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		// GET请求无请求体，每次重试重建即可
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req, "application/json")

		lastErr = c.doRequest(req, result)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// PostMultipart 发送multipart表单POST请求到转换服务
// 请求体只能消费一次，调用方负责在需要重试时重新提交
func (c *HTTPClient) PostMultipart(ctx context.Context, path string, body io.Reader, contentType string, result interface{}) error {
	url := fmt.Sprintf("%s%s", c.config.BaseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, contentType)

	return c.doRequest(req, result)
}

// setHeaders 设置请求头
func (c *HTTPClient) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "doc-assess-convert-client/1.0")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// doRequest 执行HTTP请求并解析响应
func (c *HTTPClient) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    "API call failed",
		}

		// 尝试解析错误详情
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			apiErr.Detail = errResp.Detail
		} else {
			apiErr.Detail = string(bytes.TrimSpace(body))
		}

		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response JSON: %w", err)
		}
	}

	return nil
}

// isRetryable 判断错误是否可重试
// 仅服务端错误和网络错误重试，4xx客户端错误直接失败
func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode >= 500
	}
	return true
}

// GetConfig 返回客户端配置
func (c *HTTPClient) GetConfig() *Config {
	return c.config
}
