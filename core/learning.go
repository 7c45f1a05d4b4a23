package core

import (
	"time"

	"chart_analyst/models"

	"github.com/sirupsen/logrus"
)

// 学习上下文容量上限
const (
	maxLearningRecords     = 10 // 语料库记录上限
	maxUserLearningRecords = 5  // 用户自身历史上限
)

// CorpusReader 学习上下文需要的语料库只读视图
type CorpusReader interface {
	RecentHighRated(limit, minRating int, since time.Time) ([]models.TrainingRecord, error)
	UserHighRated(userID string, limit, minRating int) ([]models.TrainingRecord, error)
}

// BuildLearningContext 构建本次请求的学习上下文。
// 读取失败时返回空上下文而不是传播错误，学习增强不阻塞分析主流程
func BuildLearningContext(reader CorpusReader, userID string, minRating int, window time.Duration) *LearningContext {
	context := &LearningContext{}
	if reader == nil {
		return context
	}

	since := time.Now().Add(-window)
	records, err := reader.RecentHighRated(maxLearningRecords, minRating, since)
	if err != nil {
		logrus.Warnf("读取学习语料失败，使用空上下文: %v", err)
		return &LearningContext{}
	}
	for i := range records {
		context.Records = append(context.Records, toLearningRecord(&records[i]))
	}

	if userID != "" {
		userRecords, err := reader.UserHighRated(userID, maxUserLearningRecords, minRating)
		if err != nil {
			logrus.Warnf("读取用户 %s 的历史语料失败: %v", userID, err)
			return context
		}
		for i := range userRecords {
			context.UserRecords = append(context.UserRecords, toLearningRecord(&userRecords[i]))
		}
	}

	return context
}

func toLearningRecord(record *models.TrainingRecord) LearningRecord {
	return LearningRecord{
		Symbol:     record.Symbol,
		Action:     record.Action,
		Confidence: record.Confidence,
		Patterns:   record.PatternList(),
		Outcome:    record.ActualOutcome,
		Rating:     record.Rating,
	}
}
