package models

import (
	"encoding/json"
	"time"
)

// 反馈结果常量
const (
	OutcomeCorrect   = "correct"   // 信号方向正确
	OutcomeIncorrect = "incorrect" // 信号方向错误
	OutcomePartial   = "partial"   // 部分正确
)

// TrainingRecord 对应 MySQL 中的 training_records 表，
// 以图片内容指纹为去重键，相同图片只产生一条记录
type TrainingRecord struct {
	ID          uint   `json:"id" gorm:"primarykey"`
	AnalysisID  string `json:"analysis_id" gorm:"size:64;index"`
	Fingerprint string `json:"fingerprint" gorm:"size:64;uniqueIndex"`
	// Fingerprints 多图分析时的全部指纹集合（JSON数组，含Fingerprint本身）
	Fingerprints json.RawMessage `json:"fingerprints" gorm:"type:json"`

	// 可检索的信号快照
	Symbol     string  `json:"symbol" gorm:"size:32;index"`
	Action     string  `json:"action" gorm:"size:8"`
	Confidence float64 `json:"confidence"`
	MarketType string  `json:"market_type" gorm:"size:16"`
	Timeframe  string  `json:"timeframe" gorm:"size:16"`

	// 完整分析快照
	Analysis json.RawMessage `json:"analysis" gorm:"type:json"`
	// Patterns 检测到的形态摘要（JSON数组），供学习上下文取top形态
	Patterns json.RawMessage `json:"patterns" gorm:"type:json"`

	// 反馈字段，创建时为空，由反馈入口事后更新
	Rating        int       `json:"rating" gorm:"index"` // 1-5，0表示未评分
	Comments      string    `json:"comments" gorm:"size:1024"`
	ActualOutcome string    `json:"actual_outcome" gorm:"size:16"` // correct, incorrect, partial
	PriceChange   float64   `json:"price_change"`                  // 反馈时的实际涨跌幅（%）
	FeedbackAt    time.Time `json:"feedback_at"`

	// 来源信息
	UserID    string `json:"user_id" gorm:"size:64;index"`
	OptIn     bool   `json:"opt_in"`                        // 用户是否同意用于训练
	SourceKey string `json:"source_key" gorm:"size:32"` // 匿名化的会话/IP指纹
	Variant   string `json:"variant" gorm:"size:64"`   // 生成本记录的模型变体

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnalysisFeedback 反馈入口的载体
type AnalysisFeedback struct {
	Rating        int     `json:"rating"`
	Comments      string  `json:"comments"`
	ActualOutcome string  `json:"actual_outcome"`
	PriceChange   float64 `json:"price_change"`
}

// PatternList 解出形态摘要列表，解析失败时返回空列表
func (r *TrainingRecord) PatternList() []string {
	if len(r.Patterns) == 0 {
		return nil
	}
	var patterns []string
	if err := json.Unmarshal(r.Patterns, &patterns); err != nil {
		return nil
	}
	return patterns
}

// FingerprintList 解出指纹集合，至少包含主指纹
func (r *TrainingRecord) FingerprintList() []string {
	var hashes []string
	if len(r.Fingerprints) > 0 {
		if err := json.Unmarshal(r.Fingerprints, &hashes); err == nil && len(hashes) > 0 {
			return hashes
		}
	}
	return []string{r.Fingerprint}
}
