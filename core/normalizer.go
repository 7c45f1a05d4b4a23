package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"chart_analyst/models"
)

// NormalizeResponse 把模型的自由文本响应解析为完整的AnalysisResult。
// 这是一个全函数：任何输入（合法JSON、截断JSON、纯文本、空串）
// 都返回结构完整、字段类型正确的结果，fallback标记响应是否无法解析。
// 畸形或残缺的上游载荷绝不产生畸形或残缺的结果
func NormalizeResponse(raw string) (*models.AnalysisResult, bool) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return fallbackResult(), true
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return fallbackResult(), true
	}

	result := emptyResult()

	if signal := asMap(payload["signal"]); signal != nil {
		result.Signal = normalizeSignal(signal)
	}
	if chart := asMap(payload["chartAnalysis"]); chart != nil {
		result.ChartAnalysis = normalizeChartAnalysis(chart)
	}
	if reasoning := asMap(payload["reasoning"]); reasoning != nil {
		result.Reasoning = normalizeReasoning(reasoning)
	}
	if market := asMap(payload["marketContext"]); market != nil {
		result.MarketContext = normalizeMarketContext(market)
	}
	result.SearchQueries = asStringSlice(payload["searchQueries"], models.MaxSearchQueries)

	return result, false
}

// NormalizeRefinement 解析二次提炼响应中的signal和reasoning，
// 任何解析失败都退回未提炼的基础值
func NormalizeRefinement(raw string, base *models.AnalysisResult) (models.Signal, models.Reasoning) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return base.Signal, base.Reasoning
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return base.Signal, base.Reasoning
	}

	signal := base.Signal
	reasoning := base.Reasoning
	if s := asMap(payload["signal"]); s != nil {
		signal = normalizeSignal(s)
	}
	if r := asMap(payload["reasoning"]); r != nil {
		reasoning = normalizeReasoning(r)
	}
	return signal, reasoning
}

// extractJSONObject 取文本中第一个'{'到最后一个'}'之间的子串
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func normalizeSignal(signal map[string]interface{}) models.Signal {
	return models.Signal{
		Action:     normalizeAction(asString(signal["action"], "")),
		Confidence: clampConfidence(asFloat(signal["confidence"], 50)),
		EntryPoint: asFloat(signal["entryPoint"], 0),
		TakeProfit: asFloatSlice(signal["takeProfit"], models.MaxTakeProfitLevels),
		StopLoss:   asFloat(signal["stopLoss"], 0),
		RiskReward: asString(signal["riskReward"], ""),
		Timeframe:  asString(signal["timeframe"], ""),
	}
}

func normalizeChartAnalysis(chart map[string]interface{}) models.ChartAnalysis {
	return models.ChartAnalysis{
		DetectedPatterns:    asSummarySlice(chart["detectedPatterns"], models.MaxPatterns, "Pattern detected"),
		TechnicalIndicators: asSummarySlice(chart["technicalIndicators"], models.MaxIndicators, "Indicator detected"),
		SupportLevels:       asFloatSlice(chart["supportLevels"], 0),
		ResistanceLevels:    asFloatSlice(chart["resistanceLevels"], 0),
		Volume:              normalizeEnum(asString(chart["volume"], ""), models.VolumeAverage, models.VolumeHigh, models.VolumeLow, models.VolumeAverage),
		Trend:               normalizeEnum(asString(chart["trend"], ""), models.TrendNeutral, models.TrendBullish, models.TrendBearish, models.TrendNeutral),
		TimeframeAlignment:  normalizeEnum(asString(chart["timeframeAlignment"], ""), models.AlignmentMixed, models.AlignmentAligned, models.AlignmentConflicted, models.AlignmentMixed),
	}
}

func normalizeReasoning(reasoning map[string]interface{}) models.Reasoning {
	return models.Reasoning{
		Primary:   asString(reasoning["primary"], ""),
		Secondary: asStringSlice(reasoning["secondary"], 0),
		Risks:     asStringSlice(reasoning["risks"], 0),
		Catalysts: asStringSlice(reasoning["catalysts"], 0),
	}
}

func normalizeMarketContext(market map[string]interface{}) models.MarketContext {
	timeframes := asStringSlice(market["timeframes"], 0)
	timeframe := asString(market["timeframe"], "")
	if timeframe == "" && len(timeframes) > 0 {
		timeframe = timeframes[0]
	}
	return models.MarketContext{
		Symbol:     asString(market["symbol"], ""),
		Timeframe:  timeframe,
		Timeframes: timeframes,
		MarketType: normalizeEnum(asString(market["marketType"], ""), models.MarketTypeUnknown, models.MarketTypeCrypto, models.MarketTypeStock, models.MarketTypeForex),
	}
}

// normalizeAction 把动作归一到BUY/SELL/HOLD，无法识别时取HOLD
func normalizeAction(action string) string {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case models.ActionBuy:
		return models.ActionBuy
	case models.ActionSell:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// normalizeEnum 只接受列出的合法取值，否则取中性默认值
func normalizeEnum(value, neutral string, accepted ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range accepted {
		if value == a {
			return a
		}
	}
	return neutral
}

func clampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}

// ========== 宽容的类型提取 ==========

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asString(v interface{}, def string) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return def
	}
}

func asFloat(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return parsed
		}
	}
	return def
}

// asFloatSlice 接受数组或标量，标量包装为单元素数组；cap为0表示不限长度
func asFloatSlice(v interface{}, cap int) []float64 {
	values := []float64{}
	switch arr := v.(type) {
	case []interface{}:
		for _, item := range arr {
			if cap > 0 && len(values) >= cap {
				break
			}
			switch n := item.(type) {
			case float64:
				values = append(values, n)
			case string:
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
					values = append(values, parsed)
				}
			}
		}
	case float64:
		values = append(values, arr)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(arr), 64); err == nil {
			values = append(values, parsed)
		}
	}
	return values
}

func asStringSlice(v interface{}, cap int) []string {
	values := []string{}
	arr, ok := v.([]interface{})
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			values = append(values, s)
		}
		return values
	}
	for _, item := range arr {
		if cap > 0 && len(values) >= cap {
			break
		}
		if s, ok := item.(string); ok && s != "" {
			values = append(values, s)
		}
	}
	return values
}

// asSummarySlice 形态/指标列表的宽容提取：
// 字符串原样保留；对象合成可读摘要；无法识别的形状取兜底文案
func asSummarySlice(v interface{}, cap int, fallback string) []string {
	values := []string{}
	arr, ok := v.([]interface{})
	if !ok {
		return values
	}
	for _, item := range arr {
		if cap > 0 && len(values) >= cap {
			break
		}
		switch entry := item.(type) {
		case string:
			if entry != "" {
				values = append(values, entry)
			}
		case map[string]interface{}:
			values = append(values, summarizeObject(entry, fallback))
		default:
			values = append(values, fallback)
		}
	}
	return values
}

// summarizeObject 从对象字段合成人类可读摘要，
// 如 {type:"FVG", confidence:80} → "FVG (80% confidence)"
func summarizeObject(entry map[string]interface{}, fallback string) string {
	if t := asString(entry["type"], ""); t != "" {
		if conf, ok := entry["confidence"]; ok {
			return fmt.Sprintf("%s (%.0f%% confidence)", t, asFloat(conf, 0))
		}
		return t
	}
	if name := asString(entry["name"], ""); name != "" {
		if signal := asString(entry["signal"], ""); signal != "" {
			return fmt.Sprintf("%s: %s", name, signal)
		}
		return name
	}
	return fallback
}

// emptyResult 返回所有字段就位的空结果
func emptyResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		Signal: models.Signal{
			Action:     models.ActionHold,
			Confidence: 50,
			TakeProfit: []float64{},
		},
		ChartAnalysis: models.ChartAnalysis{
			DetectedPatterns:    []string{},
			TechnicalIndicators: []string{},
			SupportLevels:       []float64{},
			ResistanceLevels:    []float64{},
			Volume:              models.VolumeAverage,
			Trend:               models.TrendNeutral,
			TimeframeAlignment:  models.AlignmentMixed,
		},
		Reasoning: models.Reasoning{
			Secondary: []string{},
			Risks:     []string{},
			Catalysts: []string{},
		},
		MarketContext: models.MarketContext{
			Timeframes: []string{},
			MarketType: models.MarketTypeUnknown,
		},
		SearchQueries: []string{},
	}
}

// fallbackResult 返回固定的不可解析兜底结果：观望信号，低置信度
func fallbackResult() *models.AnalysisResult {
	result := emptyResult()
	result.Signal.Confidence = 30
	result.Reasoning.Primary = "模型响应无法解析，返回保守的观望信号"
	result.Reasoning.Risks = []string{"分析结果不完整，请重新上传图表"}
	return result
}
