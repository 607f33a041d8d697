package embedding

// DashScopeRequest DashScope原生嵌入API请求结构
type DashScopeRequest struct {
	Model      string               `json:"model"`
	Input      DashScopeInput       `json:"input"`
	Parameters *DashScopeParameters `json:"parameters,omitempty"`
}

// DashScopeInput 请求的文本输入
type DashScopeInput struct {
	Texts []string `json:"texts"`
}

// DashScopeParameters 请求的可选参数
type DashScopeParameters struct {
	Dimension  int    `json:"dimension,omitempty"`
	OutputType string `json:"output_type,omitempty"`
}

// DashScopeResponse DashScope原生嵌入API响应结构
type DashScopeResponse struct {
	StatusCode int             `json:"status_code,omitempty"`
	RequestID  string          `json:"request_id"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Output     DashScopeOutput `json:"output"`
	Usage      DashScopeUsage  `json:"usage"`
}

// DashScopeOutput 嵌入输出结果
type DashScopeOutput struct {
	Embeddings []DashScopeEmbedding `json:"embeddings"`
}

// DashScopeEmbedding 单条文本的嵌入向量
type DashScopeEmbedding struct {
	Embedding []float32 `json:"embedding"`
	TextIndex int       `json:"text_index"`
}

// DashScopeUsage 资源使用情况
type DashScopeUsage struct {
	TotalTokens int `json:"total_tokens"`
}
