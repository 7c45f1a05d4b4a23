package models

import (
	"time"
)

// 交易信号动作常量
const (
	ActionBuy  = "BUY"  // 买入
	ActionSell = "SELL" // 卖出
	ActionHold = "HOLD" // 观望（默认动作）
)

// 成交量状态常量
const (
	VolumeHigh    = "high"
	VolumeLow     = "low"
	VolumeAverage = "average" // 中性默认值
)

// 趋势方向常量
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral" // 中性默认值
)

// 市场类型常量
const (
	MarketTypeCrypto  = "crypto"
	MarketTypeStock   = "stock"
	MarketTypeForex   = "forex"
	MarketTypeUnknown = "unknown" // 中性默认值
)

// 多时间框架一致性常量
const (
	AlignmentAligned    = "aligned"
	AlignmentConflicted = "conflicted"
	AlignmentMixed      = "mixed" // 中性默认值
)

// 列表容量上限
const (
	MaxTakeProfitLevels = 3 // 止盈位上限
	MaxPatterns         = 5 // 形态摘要上限
	MaxIndicators       = 5 // 指标摘要上限
	MaxSearchQueries    = 3 // 搜索查询上限
	MaxBatchImages      = 5 // 批量分析图片上限
)

// Signal 交易信号
type Signal struct {
	Action     string    `json:"action"`     // BUY, SELL, HOLD
	Confidence float64   `json:"confidence"` // 置信度 [0,100]
	EntryPoint float64   `json:"entryPoint"` // 入场价
	TakeProfit []float64 `json:"takeProfit"` // 止盈位，最多3个
	StopLoss   float64   `json:"stopLoss"`   // 止损价
	RiskReward string    `json:"riskReward"` // 风险收益比，如"1:2.5"
	Timeframe  string    `json:"timeframe"`  // 信号适用时间框架
}

// ChartAnalysis 图表技术分析
type ChartAnalysis struct {
	DetectedPatterns    []string  `json:"detectedPatterns"`    // 检测到的形态摘要，最多5条
	TechnicalIndicators []string  `json:"technicalIndicators"` // 技术指标摘要，最多5条
	SupportLevels       []float64 `json:"supportLevels"`       // 支撑位
	ResistanceLevels    []float64 `json:"resistanceLevels"`    // 阻力位
	Volume              string    `json:"volume"`              // high, low, average
	Trend               string    `json:"trend"`               // bullish, bearish, neutral
	TimeframeAlignment  string    `json:"timeframeAlignment"`  // aligned, conflicted, mixed（多图路径）
}

// Reasoning 分析依据
type Reasoning struct {
	Primary   string   `json:"primary"`   // 主要理由
	Secondary []string `json:"secondary"` // 次要因素
	Risks     []string `json:"risks"`     // 风险
	Catalysts []string `json:"catalysts"` // 催化因素
}

// MarketContext 市场环境
type MarketContext struct {
	Symbol     string   `json:"symbol"`     // 标的符号
	Timeframe  string   `json:"timeframe"`  // 主时间框架
	Timeframes []string `json:"timeframes"` // 多图路径的全部时间框架
	MarketType string   `json:"marketType"` // crypto, stock, forex, unknown
}

// AnalysisResult 规范化输出结构，所有字段总是完整填充
type AnalysisResult struct {
	Signal           Signal         `json:"signal"`
	ChartAnalysis    ChartAnalysis  `json:"chartAnalysis"`
	Reasoning        Reasoning      `json:"reasoning"`
	MarketContext    MarketContext  `json:"marketContext"`
	SearchQueries    []string       `json:"searchQueries"`              // 模型建议的增强搜索查询，最多3条
	WebSearchResults []SearchResult `json:"webSearchResults,omitempty"` // 增强阶段收集的搜索结果
}

// AnalysisMeta 单次分析的提供方元数据
type AnalysisMeta struct {
	AnalysisID   string        `json:"analysis_id"`   // 本次分析ID
	VariantUsed  string        `json:"variant_used"`  // 实际使用的模型变体
	Latency      time.Duration `json:"latency"`       // 端到端耗时
	Enriched     bool          `json:"enriched"`      // 是否执行了搜索增强
	FromCache    bool          `json:"from_cache"`    // 是否命中结果缓存
	Fingerprints []string      `json:"fingerprints"`  // 图片内容指纹
	ImageCount   int           `json:"image_count"`   // 图片数量
}

// AnalysisOutcome 管线返回给调用方的完整结果
type AnalysisOutcome struct {
	Result *AnalysisResult `json:"result"`
	Meta   AnalysisMeta    `json:"meta"`
}

// ImageInput 单张待分析图片
type ImageInput struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// AnalysisRequest 一次分析请求的瞬态载体
type AnalysisRequest struct {
	Images           []ImageInput `json:"images"`
	UserID           string       `json:"user_id"`           // 可选
	PreferredVariant string       `json:"preferred_variant"` // 可选的模型变体提示
	SessionID        string       `json:"session_id"`        // 用于匿名化来源指纹
	ClientIP         string       `json:"client_ip"`
	OptIn            bool         `json:"opt_in"` // 是否同意用于训练
}

// HistoryEntry 用户分析历史条目（Redis）
type HistoryEntry struct {
	AnalysisID  string    `json:"analysis_id"`
	Fingerprint string    `json:"fingerprint"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Patterns    []string  `json:"patterns"`
	Rating      int       `json:"rating"` // 0表示未评分
	CreatedAt   time.Time `json:"created_at"`
}
