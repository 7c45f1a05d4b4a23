package training

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"chart_analyst/models"
)

// Store 训练语料库持久化适配器。
// 所有写入失败由调用方记录日志，不影响分析主流程
type Store struct {
	db *gorm.DB
}

// NewStore 创建训练语料库存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordTrainingData 按指纹写入训练记录。
// 相同指纹已存在时不重复写入，直接返回已有记录，
// 并发写入同一指纹时以先写入的记录为准
func (s *Store) RecordTrainingData(record *models.TrainingRecord) (*models.TrainingRecord, error) {
	var existing models.TrainingRecord
	err := s.db.Where("fingerprint = ?", record.Fingerprint).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.db.Create(record).Error; err != nil {
		// 并发写入触发唯一索引冲突时回读已有记录
		var raced models.TrainingRecord
		if readErr := s.db.Where("fingerprint = ?", record.Fingerprint).First(&raced).Error; readErr == nil {
			return &raced, nil
		}
		return nil, err
	}
	return record, nil
}

// UpdateFeedback 按指纹集合更新反馈字段，
// 同时匹配主指纹和多图记录的指纹集合成员，返回更新的记录数
func (s *Store) UpdateFeedback(fingerprints []string, feedback *models.AnalysisFeedback) (int64, error) {
	if len(fingerprints) == 0 {
		return 0, nil
	}

	updates := feedbackUpdates(feedback)
	if len(updates) == 0 {
		return 0, nil
	}

	cond := s.db.Where("fingerprint IN ?", fingerprints)
	for _, hash := range fingerprints {
		cond = cond.Or("JSON_CONTAINS(fingerprints, JSON_QUOTE(?))", hash)
	}

	result := s.db.Model(&models.TrainingRecord{}).Where(cond).Updates(updates)
	return result.RowsAffected, result.Error
}

// UpdateFeedbackByAnalysisID 按分析ID更新反馈字段
func (s *Store) UpdateFeedbackByAnalysisID(analysisID string, feedback *models.AnalysisFeedback) (int64, error) {
	updates := feedbackUpdates(feedback)
	if len(updates) == 0 {
		return 0, nil
	}
	result := s.db.Model(&models.TrainingRecord{}).
		Where("analysis_id = ?", analysisID).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// feedbackUpdates 只更新调用方实际提供的反馈字段
func feedbackUpdates(feedback *models.AnalysisFeedback) map[string]interface{} {
	updates := map[string]interface{}{}
	if feedback.Rating > 0 {
		updates["rating"] = feedback.Rating
	}
	if feedback.Comments != "" {
		updates["comments"] = feedback.Comments
	}
	if feedback.ActualOutcome != "" {
		updates["actual_outcome"] = feedback.ActualOutcome
	}
	if feedback.PriceChange != 0 {
		updates["price_change"] = feedback.PriceChange
	}
	if len(updates) > 0 {
		updates["feedback_at"] = time.Now()
	}
	return updates
}

// RecentHighRated 读取时间窗口内评分达标的记录，最新在前
func (s *Store) RecentHighRated(limit, minRating int, since time.Time) ([]models.TrainingRecord, error) {
	var records []models.TrainingRecord
	err := s.db.Where("rating >= ? AND created_at >= ?", minRating, since).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// UserHighRated 读取指定用户评分达标的记录，最新在前
func (s *Store) UserHighRated(userID string, limit, minRating int) ([]models.TrainingRecord, error) {
	var records []models.TrainingRecord
	err := s.db.Where("user_id = ? AND rating >= ?", userID, minRating).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// FindByFingerprint 按主指纹查找记录
func (s *Store) FindByFingerprint(fingerprint string) (*models.TrainingRecord, error) {
	var record models.TrainingRecord
	if err := s.db.Where("fingerprint = ?", fingerprint).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// RecordsPage 分页浏览训练记录，可按标的过滤
func (s *Store) RecordsPage(symbol string, offset, limit int) ([]models.TrainingRecord, int64, error) {
	query := s.db.Model(&models.TrainingRecord{})
	if symbol != "" {
		// 支持模糊查询：匹配包含symbol的记录
		query = query.Where("symbol LIKE ?", "%"+symbol+"%")
	}

	var total int64
	query.Count(&total)

	var records []models.TrainingRecord
	err := query.Order("updated_at desc").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}
