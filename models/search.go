package models

import "time"

// SearchResult 单条搜索结果，仅嵌入结果和二次调用，不单独持久化
type SearchResult struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Snippet   string    `json:"snippet"`
	Source    string    `json:"source"`    // 来源域名
	Relevance float64   `json:"relevance"` // 计算得出的相关性评分 [0,1]
	Date      time.Time `json:"date"`      // 结果时间，缺失时为检索时间
}
