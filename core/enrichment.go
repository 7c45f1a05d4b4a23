package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chart_analyst/models"

	"github.com/sirupsen/logrus"
)

// 实际发出的搜索查询上限（模型最多建议3条，只执行前2条）
const maxIssuedQueries = 2

// SearchProvider 网页搜索提供方
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// TextGenerator 二次提炼所需的纯文本模型调用
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// enrich 执行搜索增强：逐条查询（带间隔），单条失败跳过；
// 至少有一条查询返回结果时发起二次模型调用提炼信号。
// 任何失败都降级到未提炼的结果，绝不使整个请求失败
func (p *Pipeline) enrich(ctx context.Context, base *models.AnalysisResult) ([]models.SearchResult, bool) {
	queries := base.SearchQueries
	if len(queries) > maxIssuedQueries {
		queries = queries[:maxIssuedQueries]
	}

	var collected []models.SearchResult
	for i, query := range queries {
		if i > 0 {
			// 查询之间的固定间隔，遵守搜索方限流
			p.pace(p.paceDelay)
		}
		results, err := p.searcher.Search(ctx, query)
		if err != nil {
			logrus.Warnf("搜索查询失败，跳过: %q: %v", query, err)
			continue
		}
		collected = append(collected, results...)
	}

	if len(collected) == 0 {
		// 没有任何结果时跳过提炼调用，保持原信号
		return nil, false
	}

	refined, err := p.generator.GenerateText(ctx, refinementPrompt(base, collected))
	if err != nil {
		logrus.Warnf("提炼调用失败，保留未提炼结果: %v", err)
		return collected, false
	}

	signal, reasoning := NormalizeRefinement(refined, base)
	base.Signal = signal
	base.Reasoning = reasoning
	return collected, true
}

// refinementPrompt 组装二次提炼指令：基础分析 + 搜索摘要
func refinementPrompt(base *models.AnalysisResult, results []models.SearchResult) string {
	var b strings.Builder
	b.WriteString("以下是一份图表技术分析和相关的实时市场资讯摘要。\n")
	b.WriteString("请结合资讯修正信号，只输出一个JSON对象，结构为 {\"signal\": {...}, \"reasoning\": {...}}，字段含义与原分析一致。\n\n")

	b.WriteString(fmt.Sprintf("## 原分析\n标的: %s\n动作: %s（置信度%.0f）\n主要理由: %s\n\n",
		base.MarketContext.Symbol, base.Signal.Action, base.Signal.Confidence, base.Reasoning.Primary))

	b.WriteString("## 市场资讯\n")
	for i, r := range results {
		age := time.Since(r.Date).Round(time.Hour)
		b.WriteString(fmt.Sprintf("%d. [%s] %s（%v前）\n   %s\n", i+1, r.Source, r.Title, age, r.Snippet))
	}
	return b.String()
}
