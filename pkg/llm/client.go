package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// 响应体大小上限，防止异常响应撑爆内存
const maxResponseSize = 10 * 1024 * 1024

// Client 生成模型客户端，封装变体选择与重试/降级策略
type Client struct {
	apiKey       string
	baseURL      string
	preferred    string // 默认首选变体
	singlePolicy InvokePolicy
	batchPolicy  InvokePolicy
	httpClient   *http.Client

	// call和sleep可在测试中替换
	call  func(ctx context.Context, variant, prompt string, images []ImagePart) (string, error)
	sleep func(time.Duration)
}

// NewClient 创建模型客户端
func NewClient(apiKey, baseURL, preferred, fallback string, timeout time.Duration, batchBackoff time.Duration, batchAttempts int) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		preferred:    preferred,
		singlePolicy: SinglePolicy(fallback),
		batchPolicy:  BatchPolicy(fallback, batchBackoff, batchAttempts),
		httpClient:   &http.Client{Timeout: timeout},
		sleep:        time.Sleep,
	}
	c.call = c.generateContent
	return c
}

// Invoke 单图路径调用：首选变体一次，过载时立即降级重试一次
func (c *Client) Invoke(ctx context.Context, prompt string, images []ImagePart, preferredVariant string) (string, string, error) {
	return c.invokeWithPolicy(ctx, prompt, images, preferredVariant, c.singlePolicy)
}

// InvokeBatch 多图路径调用：最多3次尝试，指数退避，
// 首次失败后强制切换默认变体
func (c *Client) InvokeBatch(ctx context.Context, prompt string, images []ImagePart, preferredVariant string) (string, string, error) {
	return c.invokeWithPolicy(ctx, prompt, images, preferredVariant, c.batchPolicy)
}

// GenerateText 纯文本调用（二次提炼、对话），使用单图路径策略
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	text, _, err := c.invokeWithPolicy(ctx, prompt, nil, "", c.singlePolicy)
	return text, err
}

// invokeWithPolicy 按策略执行调用循环。
// 不可重试的错误立即向上传播；可重试错误耗尽尝试后返回ExhaustedError
func (c *Client) invokeWithPolicy(ctx context.Context, prompt string, images []ImagePart, preferredVariant string, policy InvokePolicy) (string, string, error) {
	preferred := preferredVariant
	if preferred == "" {
		preferred = c.preferred
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		variant := policy.VariantFor(attempt, preferred)

		text, err := c.call(ctx, variant, prompt, images)
		if err == nil {
			return text, variant, nil
		}
		lastErr = err

		if policy.Retryable == nil || !policy.Retryable(err) {
			// 非过载错误（认证、请求格式等）不重试
			return "", variant, err
		}

		logrus.Warnf("模型变体 %s 第 %d 次调用过载: %v", variant, attempt+1, err)

		if attempt+1 < policy.MaxAttempts {
			if delay := policy.BackoffFor(attempt); delay > 0 {
				c.sleep(delay)
			}
		}
	}

	return "", "", NewExhaustedError(policy.MaxAttempts, lastErr)
}

// generateContent 实际的HTTP调用
func (c *Client) generateContent(ctx context.Context, variant, prompt string, images []ImagePart) (string, error) {
	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: prompt})
	for _, img := range images {
		parts = append(parts, part{
			InlineData: &inlineData{
				MIMEType: img.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	payload, err := json.Marshal(&generateRequest{
		Contents: []content{{Parts: parts}},
	})
	if err != nil {
		return "", NewInvalidRequestError(fmt.Sprintf("序列化模型请求失败: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, variant, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", NewInvalidRequestError(fmt.Sprintf("创建模型请求失败: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络层失败按过载处理，允许切换变体重试
		return "", NewOverloadedError(variant, fmt.Sprintf("模型请求失败: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", NewProviderError(fmt.Sprintf("读取模型响应失败: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", errorFromStatus(variant, resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", NewProviderError(fmt.Sprintf("解析模型响应失败: %v", err))
	}
	if genResp.Error != nil {
		return "", errorFromStatus(variant, genResp.Error.Code, genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", NewProviderError("模型响应不包含任何候选内容")
	}

	var text string
	for _, p := range genResp.Candidates[0].Content.Parts {
		text += p.Text
	}
	return text, nil
}
