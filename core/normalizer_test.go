package core

import (
	"encoding/json"
	"fmt"
	"testing"

	"chart_analyst/models"
)

// checkComplete 校验结果结构完整：置信度在界内，各列表不超上限且非nil
func checkComplete(t *testing.T, result *models.AnalysisResult) {
	t.Helper()
	if result == nil {
		t.Fatal("结果不应为nil")
	}
	if result.Signal.Confidence < 0 || result.Signal.Confidence > 100 {
		t.Errorf("置信度越界: %v", result.Signal.Confidence)
	}
	if result.Signal.Action != models.ActionBuy && result.Signal.Action != models.ActionSell && result.Signal.Action != models.ActionHold {
		t.Errorf("动作非法: %s", result.Signal.Action)
	}
	if len(result.Signal.TakeProfit) > models.MaxTakeProfitLevels {
		t.Errorf("止盈位超限: %d", len(result.Signal.TakeProfit))
	}
	if len(result.ChartAnalysis.DetectedPatterns) > models.MaxPatterns {
		t.Errorf("形态列表超限: %d", len(result.ChartAnalysis.DetectedPatterns))
	}
	if len(result.ChartAnalysis.TechnicalIndicators) > models.MaxIndicators {
		t.Errorf("指标列表超限: %d", len(result.ChartAnalysis.TechnicalIndicators))
	}
	if len(result.SearchQueries) > models.MaxSearchQueries {
		t.Errorf("搜索查询超限: %d", len(result.SearchQueries))
	}
	if result.Signal.TakeProfit == nil || result.ChartAnalysis.DetectedPatterns == nil ||
		result.ChartAnalysis.TechnicalIndicators == nil || result.Reasoning.Secondary == nil ||
		result.SearchQueries == nil {
		t.Error("列表字段不应为nil")
	}
}

func TestNormalizeTotality(t *testing.T) {
	inputs := []string{
		"",
		"纯文本描述，没有任何JSON",
		"{",
		"}{",
		`{"signal": truncated`,
		`{"signal": {"action": "BUY", "confidence": 85}}`,
		`前置说明 {"signal":{"action":"sell"}} 后置说明`,
		"```json\n{\"signal\":{\"action\":\"BUY\",\"confidence\":70}}\n```",
		`{"signal": null, "chartAnalysis": 42, "reasoning": [1,2]}`,
		`{"signal": {"confidence": "not a number", "takeProfit": "oops"}}`,
	}

	for _, input := range inputs {
		result, _ := NormalizeResponse(input)
		checkComplete(t, result)
	}
}

func TestNormalizeFallbackIdempotent(t *testing.T) {
	first, fallback1 := NormalizeResponse("完全无法解析的响应")
	second, fallback2 := NormalizeResponse("完全无法解析的响应")

	if !fallback1 || !fallback2 {
		t.Fatal("无法解析的输入应标记为fallback")
	}
	if first.Signal.Action != models.ActionHold || first.Signal.Confidence != 30 {
		t.Errorf("兜底信号错误: %s/%v", first.Signal.Action, first.Signal.Confidence)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("两次兜底结果应逐字节一致")
	}
}

func TestNormalizeConfidenceClamp(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{-10, 0},
		{150, 100},
		{85, 85},
	}
	for _, c := range cases {
		raw := fmt.Sprintf(`{"signal":{"action":"BUY","confidence":%v}}`, c.input)
		result, fallback := NormalizeResponse(raw)
		if fallback {
			t.Fatalf("合法JSON不应落入fallback: %s", raw)
		}
		if result.Signal.Confidence != c.want {
			t.Errorf("置信度 %v 应钳制为 %v, 实际 %v", c.input, c.want, result.Signal.Confidence)
		}
	}
}

func TestNormalizePatternCoercion(t *testing.T) {
	raw := `{"chartAnalysis":{"detectedPatterns":[
		{"type":"FVG","confidence":80},
		"Double Top",
		{"unexpected":"shape"},
		{"name":"RSI","signal":"oversold"}
	]}}`

	result, fallback := NormalizeResponse(raw)
	if fallback {
		t.Fatal("合法JSON不应落入fallback")
	}

	patterns := result.ChartAnalysis.DetectedPatterns
	if len(patterns) != 4 {
		t.Fatalf("形态数量错误: %d", len(patterns))
	}
	if patterns[0] != "FVG (80% confidence)" {
		t.Errorf("对象形态合成错误: %s", patterns[0])
	}
	if patterns[1] != "Double Top" {
		t.Errorf("字符串形态应原样保留: %s", patterns[1])
	}
	if patterns[2] != "Pattern detected" {
		t.Errorf("无法识别的形状应取兜底文案: %s", patterns[2])
	}
	if patterns[3] != "RSI: oversold" {
		t.Errorf("name/signal对象合成错误: %s", patterns[3])
	}
}

func TestNormalizeScalarTakeProfit(t *testing.T) {
	result, _ := NormalizeResponse(`{"signal":{"action":"BUY","takeProfit":45000.5}}`)
	if len(result.Signal.TakeProfit) != 1 || result.Signal.TakeProfit[0] != 45000.5 {
		t.Errorf("标量止盈位应包装为单元素数组: %v", result.Signal.TakeProfit)
	}

	result, _ = NormalizeResponse(`{"signal":{"takeProfit":[1,2,3,4,5]}}`)
	if len(result.Signal.TakeProfit) != models.MaxTakeProfitLevels {
		t.Errorf("止盈位应截断到 %d 个: %v", models.MaxTakeProfitLevels, result.Signal.TakeProfit)
	}
}

func TestNormalizeListCaps(t *testing.T) {
	raw := `{"chartAnalysis":{"detectedPatterns":["a","b","c","d","e","f","g"],
		"technicalIndicators":["1","2","3","4","5","6"]},
		"searchQueries":["q1","q2","q3","q4","q5"]}`

	result, _ := NormalizeResponse(raw)
	if len(result.ChartAnalysis.DetectedPatterns) != models.MaxPatterns {
		t.Errorf("形态列表应截断到 %d 条", models.MaxPatterns)
	}
	if len(result.ChartAnalysis.TechnicalIndicators) != models.MaxIndicators {
		t.Errorf("指标列表应截断到 %d 条", models.MaxIndicators)
	}
	if len(result.SearchQueries) != models.MaxSearchQueries {
		t.Errorf("搜索查询应截断到 %d 条", models.MaxSearchQueries)
	}
}

func TestNormalizeEnumDefaults(t *testing.T) {
	result, _ := NormalizeResponse(`{"chartAnalysis":{"volume":"EXTREME","trend":"sideways"},
		"marketContext":{"marketType":"commodity"}}`)

	if result.ChartAnalysis.Volume != models.VolumeAverage {
		t.Errorf("非法成交量取值应取中性默认: %s", result.ChartAnalysis.Volume)
	}
	if result.ChartAnalysis.Trend != models.TrendNeutral {
		t.Errorf("非法趋势取值应取中性默认: %s", result.ChartAnalysis.Trend)
	}
	if result.MarketContext.MarketType != models.MarketTypeUnknown {
		t.Errorf("非法市场类型应取中性默认: %s", result.MarketContext.MarketType)
	}
}

func TestNormalizeRefinementFallback(t *testing.T) {
	base, _ := NormalizeResponse(`{"signal":{"action":"BUY","confidence":75},"reasoning":{"primary":"突破阻力"}}`)

	// 解析失败退回基础值
	signal, reasoning := NormalizeRefinement("无法解析的提炼响应", base)
	if signal.Action != models.ActionBuy || signal.Confidence != 75 {
		t.Errorf("提炼失败应保留基础信号: %+v", signal)
	}
	if reasoning.Primary != "突破阻力" {
		t.Errorf("提炼失败应保留基础依据: %s", reasoning.Primary)
	}

	// 解析成功采用提炼值
	signal, _ = NormalizeRefinement(`{"signal":{"action":"SELL","confidence":60}}`, base)
	if signal.Action != models.ActionSell || signal.Confidence != 60 {
		t.Errorf("提炼成功应采用新信号: %+v", signal)
	}
}
