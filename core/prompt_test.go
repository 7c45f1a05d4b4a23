package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"chart_analyst/models"
)

func TestBuildPromptWithoutLearning(t *testing.T) {
	prompt := BuildPrompt(&LearningContext{}, 1)

	if strings.Contains(prompt, "历史验证过的分析模式") {
		t.Error("空学习上下文不应产生学习片段")
	}
	if !strings.Contains(prompt, `"action": "BUY|SELL|HOLD"`) {
		t.Error("提示词必须要求固定JSON结构")
	}
	if strings.Contains(prompt, "多时间框架") {
		t.Error("单图提示词不应包含多时间框架框架")
	}
}

func TestBuildPromptWithLearning(t *testing.T) {
	learning := &LearningContext{
		Records: []LearningRecord{
			{Symbol: "BTC/USDT", Action: "BUY", Confidence: 82, Patterns: []string{"FVG (85% confidence)", "Order Block", "第三个形态"}},
		},
	}
	prompt := BuildPrompt(learning, 1)

	if !strings.Contains(prompt, "历史验证过的分析模式") {
		t.Error("有学习点时应包含学习片段")
	}
	if !strings.Contains(prompt, "BTC/USDT BUY") {
		t.Error("学习片段应包含历史动作")
	}
	// 只取前2个形态类型
	if !strings.Contains(prompt, "FVG (85% confidence), Order Block") {
		t.Error("学习片段应包含前2个形态")
	}
	if strings.Contains(prompt, "第三个形态") {
		t.Error("学习片段最多引用2个形态")
	}
}

func TestBuildPromptMultiTimeframe(t *testing.T) {
	prompt := BuildPrompt(&LearningContext{}, 3)

	if !strings.Contains(prompt, "多时间框架") {
		t.Error("多图提示词应包含多时间框架框架")
	}
	if !strings.Contains(prompt, "timeframeAlignment") {
		t.Error("多图提示词应要求timeframeAlignment字段")
	}
	if !strings.Contains(prompt, `"timeframe": "4h"`) {
		t.Error("多图提示词应要求逐形态的timeframe字段")
	}
}

func makeTrainingRecords(n int) []models.TrainingRecord {
	records := make([]models.TrainingRecord, n)
	for i := range records {
		records[i] = models.TrainingRecord{
			Symbol:     "BTC/USDT",
			Action:     models.ActionBuy,
			Confidence: 80,
			Rating:     5,
		}
	}
	return records
}

func TestBuildLearningContext(t *testing.T) {
	store := newFakeStore()
	store.highRated = makeTrainingRecords(3)
	store.userRated = makeTrainingRecords(2)

	learning := BuildLearningContext(store, "user-1", 4, 30*24*time.Hour)
	if learning.TotalLearningPoints() != 5 {
		t.Errorf("学习点总数错误: %d", learning.TotalLearningPoints())
	}
	if len(learning.Records) != 3 || len(learning.UserRecords) != 2 {
		t.Errorf("学习记录数量错误: %d/%d", len(learning.Records), len(learning.UserRecords))
	}
}

func TestBuildLearningContextBestEffort(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("语料库读取失败")

	learning := BuildLearningContext(store, "user-1", 4, 30*24*time.Hour)
	if learning == nil {
		t.Fatal("读取失败时应返回空上下文而不是nil")
	}
	if learning.TotalLearningPoints() != 0 {
		t.Errorf("读取失败时学习点应为0: %d", learning.TotalLearningPoints())
	}

	// nil读取器同样返回空上下文
	if BuildLearningContext(nil, "", 4, time.Hour).TotalLearningPoints() != 0 {
		t.Error("nil读取器应返回空上下文")
	}
}
