package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chart_analyst/models"
)

// 单次查询最多保留的结果条数
const maxResultsPerQuery = 5

// Client 网页搜索客户端（Serper风格API）
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建搜索客户端
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

type organicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
	Position int    `json:"position"`
}

// Search 执行单条查询，返回按相关性排序的结果。
// 超时和可选字段缺失都按部分结果容忍
func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	payload, err := json.Marshal(&searchRequest{Query: query, Num: maxResultsPerQuery})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("搜索请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取搜索响应失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("搜索调用失败: HTTP %d", resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("解析搜索响应失败: %v", err)
	}

	now := time.Now()
	results := make([]models.SearchResult, 0, len(searchResp.Organic))
	for i, item := range searchResp.Organic {
		if i >= maxResultsPerQuery {
			break
		}
		date := ParseResultDate(item.Date, now)
		results = append(results, models.SearchResult{
			Title:     item.Title,
			Link:      item.Link,
			Snippet:   item.Snippet,
			Source:    SourceDomain(item.Link),
			Relevance: RelevanceScore(item.Position, date, now),
			Date:      date,
		})
	}
	return results, nil
}

// SourceDomain 从链接提取来源域名，解析失败时返回原始链接
func SourceDomain(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return link
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// RelevanceScore 计算相关性评分 [0,1]：排名越靠前越高，近7天内的结果加权
func RelevanceScore(position int, date, now time.Time) float64 {
	if position <= 0 {
		position = maxResultsPerQuery
	}
	score := 1.0 / float64(position)
	if now.Sub(date) <= 7*24*time.Hour {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ParseResultDate 解析搜索结果的时间字段，
// 支持常见的绝对格式和"N hours/days ago"相对格式，失败时取检索时间
func ParseResultDate(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now
	}

	for _, layout := range []string{"Jan 2, 2006", "2006-01-02", "02 Jan 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}

	// 相对时间格式，如"3 days ago"
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 3 && fields[2] == "ago" {
		var n int
		if _, err := fmt.Sscanf(fields[0], "%d", &n); err == nil {
			switch strings.TrimSuffix(fields[1], "s") {
			case "minute":
				return now.Add(-time.Duration(n) * time.Minute)
			case "hour":
				return now.Add(-time.Duration(n) * time.Hour)
			case "day":
				return now.AddDate(0, 0, -n)
			case "week":
				return now.AddDate(0, 0, -n*7)
			case "month":
				return now.AddDate(0, -n, 0)
			}
		}
	}

	return now
}
