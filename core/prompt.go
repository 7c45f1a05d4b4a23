package core

import (
	"fmt"
	"strings"
)

// LearningRecord 学习上下文中的单条历史分析摘要
type LearningRecord struct {
	Symbol     string
	Action     string
	Confidence float64
	Patterns   []string // 检测到的形态摘要
	Outcome    string   // 反馈的实际结果
	Rating     int
}

// LearningContext 每次请求构建的瞬态学习上下文，只用于偏置提示词，不持久化
type LearningContext struct {
	Records     []LearningRecord // 语料库高评分记录，最新在前，最多10条
	UserRecords []LearningRecord // 请求用户自己的高评分历史，最多5条
}

// TotalLearningPoints 学习上下文包含的总条数
func (lc *LearningContext) TotalLearningPoints() int {
	if lc == nil {
		return 0
	}
	return len(lc.Records) + len(lc.UserRecords)
}

// 固定的分析规则正文
const rulesBody = `你是一名专业的技术分析师。请严格依据图表中可见的结构给出交易信号：
1. 市场结构优先：先判定趋势方向（higher highs/lower lows）和关键摆动点。
2. 支撑与阻力：只标注至少两次被测试过的价位，区分区域与精确价位。
3. 形态识别：只报告完整形成的形态（FVG、Order Block、双顶/双底、旗形等），并给出各自的置信度。
4. 指标确认：图表中可见的指标（RSI、MACD、均线等）只作确认用途，不单独作为信号依据。
5. 成交量验证：突破信号必须有成交量配合，否则降低置信度。
6. 风险控制：止损必须放在结构位之外，只有风险收益比不低于1:1.5才给出BUY/SELL，否则给出HOLD。
7. 不确定时宁可观望：图表信息不足以支撑判断时，返回HOLD并说明缺少什么。`

// 多时间框架补充框架
const multiTimeframeFraming = `本次提交了多个时间框架的图表，请执行多时间框架联合分析：
- 用较高时间框架确定方向，较低时间框架确定入场位。
- 对每个形态和指标标注其所属时间框架（timeframe字段）。
- 在chartAnalysis.timeframeAlignment中给出各时间框架的一致性判定（aligned/conflicted/mixed）。`

// BuildPrompt 组装完整的模型指令：学习上下文（可选）+ 固定规则 + JSON结构要求。
// 纯字符串构造，无错误路径
func BuildPrompt(learning *LearningContext, imageCount int) string {
	var b strings.Builder

	if learning.TotalLearningPoints() > 0 {
		writeLearningSection(&b, learning)
	}

	b.WriteString(rulesBody)
	b.WriteString("\n\n")

	if imageCount > 1 {
		b.WriteString(multiTimeframeFraming)
		b.WriteString("\n\n")
	}

	b.WriteString(responseShapeInstruction(imageCount > 1))
	return b.String()
}

// writeLearningSection 写入历史高评分分析的学习片段
func writeLearningSection(b *strings.Builder, learning *LearningContext) {
	b.WriteString("## 历史验证过的分析模式\n")
	b.WriteString("以下是近期获得高评价的分析要点，优先复用其中被验证的判断方式：\n")

	for i, record := range learning.Records {
		b.WriteString(formatLearningRecord(i+1, &record))
	}

	if len(learning.UserRecords) > 0 {
		b.WriteString("该用户自己评价较高的历史分析：\n")
		for i, record := range learning.UserRecords {
			b.WriteString(formatLearningRecord(i+1, &record))
		}
	}
	b.WriteString("\n")
}

// formatLearningRecord 单条学习记录：动作、置信度和前2个形态类型
func formatLearningRecord(index int, record *LearningRecord) string {
	patterns := record.Patterns
	if len(patterns) > 2 {
		patterns = patterns[:2]
	}
	line := fmt.Sprintf("%d. %s %s（置信度%.0f）", index, record.Symbol, record.Action, record.Confidence)
	if len(patterns) > 0 {
		line += "，关键形态: " + strings.Join(patterns, ", ")
	}
	if record.Outcome != "" {
		line += "，实际结果: " + record.Outcome
	}
	return line + "\n"
}

// responseShapeInstruction 要求模型以固定JSON结构作答
func responseShapeInstruction(multi bool) string {
	patternShape := `"detectedPatterns": ["形态摘要", ...]`
	indicatorShape := `"technicalIndicators": ["指标摘要", ...]`
	alignment := ""
	if multi {
		patternShape = `"detectedPatterns": [{"type": "形态", "confidence": 80, "timeframe": "4h"}, ...]`
		indicatorShape = `"technicalIndicators": [{"name": "指标", "signal": "判读", "timeframe": "1h"}, ...]`
		alignment = `,
    "timeframeAlignment": "aligned|conflicted|mixed"`
	}

	return fmt.Sprintf(`请只输出一个JSON对象，不要输出其它文本，结构如下：
{
  "signal": {
    "action": "BUY|SELL|HOLD",
    "confidence": 0-100,
    "entryPoint": 数值,
    "takeProfit": [最多3个数值],
    "stopLoss": 数值,
    "riskReward": "如1:2.5",
    "timeframe": "信号适用时间框架"
  },
  "chartAnalysis": {
    %s,
    %s,
    "supportLevels": [数值],
    "resistanceLevels": [数值],
    "volume": "high|low|average",
    "trend": "bullish|bearish|neutral"%s
  },
  "reasoning": {
    "primary": "主要理由",
    "secondary": ["次要因素"],
    "risks": ["风险"],
    "catalysts": ["催化因素"]
  },
  "marketContext": {
    "symbol": "标的",
    "timeframe": "主时间框架",
    "marketType": "crypto|stock|forex|unknown"
  },
  "searchQueries": ["最多3条用于补充市场背景的搜索查询"]
}`, patternShape, indicatorShape, alignment)
}
