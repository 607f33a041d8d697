package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// JobStatus 表示转换任务状态
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ErrPollTimeout 表示轮询超时
var ErrPollTimeout = errors.New("conversion job polling timed out")

// SubmitResponse 表示提交转换任务的响应
type SubmitResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobResult 表示转换任务的结果
type JobResult struct {
	Markdown string `json:"markdown"`
	Title    string `json:"title"`
	Pages    int    `json:"pages"`
}

// JobResponse 表示转换任务状态查询的响应
type JobResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
	Result *JobResult `json:"result,omitempty"`
}

// Converter 是外部文档转markdown服务的客户端
// 转换是异步任务：提交文件后轮询任务状态，成功后取回markdown内容
type Converter struct {
	client Client
}

// NewConverter 创建一个新的转换客户端
func NewConverter(client Client) *Converter {
	return &Converter{client: client}
}

// Submit 提交本地文件进行转换，返回任务ID
func (c *Converter) Submit(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "打开源文件失败")
	}
	defer file.Close()

	return c.SubmitReader(ctx, file, filepath.Base(filePath))
}

// SubmitReader 提交文件内容进行转换，返回任务ID
func (c *Converter) SubmitReader(ctx context.Context, reader io.Reader, fileName string) (string, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", errors.Wrap(err, "创建文件表单字段失败")
	}
	if _, err := io.Copy(part, reader); err != nil {
		return "", errors.Wrap(err, "复制文件数据失败")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "关闭表单写入器失败")
	}

	var response SubmitResponse
	err = c.client.PostMultipart(ctx, "/v1/convert", &requestBody, writer.FormDataContentType(), &response)
	if err != nil {
		return "", errors.Wrap(err, "提交转换任务失败")
	}

	if response.JobID == "" {
		return "", errors.New("转换服务未返回任务ID")
	}

	return response.JobID, nil
}

// GetJob 查询转换任务状态
func (c *Converter) GetJob(ctx context.Context, jobID string) (*JobResponse, error) {
	var response JobResponse
	err := c.client.Get(ctx, fmt.Sprintf("/v1/convert/%s", jobID), &response)
	if err != nil {
		return nil, errors.Wrap(err, "查询转换任务失败")
	}
	return &response, nil
}

// WaitForResult 轮询任务直到完成，返回转换结果
func (c *Converter) WaitForResult(ctx context.Context, jobID string) (*JobResult, error) {
	config := c.client.GetConfig()

	deadline := time.Now().Add(config.PollTimeout)
	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case JobStatusSucceeded:
			if job.Result == nil {
				return nil, errors.New("转换任务成功但未返回结果")
			}
			return job.Result, nil
		case JobStatusFailed:
			return nil, fmt.Errorf("转换任务失败: %s", job.Error)
		}

		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Convert 提交文件并等待转换完成，返回markdown内容
func (c *Converter) Convert(ctx context.Context, filePath string) (string, error) {
	jobID, err := c.Submit(ctx, filePath)
	if err != nil {
		return "", err
	}

	result, err := c.WaitForResult(ctx, jobID)
	if err != nil {
		return "", err
	}

	return result.Markdown, nil
}

// ConvertReader 提交文件内容并等待转换完成，返回markdown内容
func (c *Converter) ConvertReader(ctx context.Context, reader io.Reader, fileName string) (string, error) {
	jobID, err := c.SubmitReader(ctx, reader, fileName)
	if err != nil {
		return "", err
	}

	result, err := c.WaitForResult(ctx, jobID)
	if err != nil {
		return "", err
	}

	return result.Markdown, nil
}
