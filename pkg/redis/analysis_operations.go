package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"chart_analyst/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 用户历史保留的最大条数
const maxHistoryEntries = 50

// SetCachedResult 按指纹缓存分析结果，相同图片在TTL内直接复用
func (c *Client) SetCachedResult(fingerprint string, outcome *models.AnalysisOutcome, ttl time.Duration) error {
	key := fmt.Sprintf("%s:%s", KeyResultCache, fingerprint)
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return c.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedResult 读取指纹对应的缓存结果，未命中返回nil
func (c *Client) GetCachedResult(fingerprint string) (*models.AnalysisOutcome, error) {
	key := fmt.Sprintf("%s:%s", KeyResultCache, fingerprint)
	data, err := c.rdb.Get(c.ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var outcome models.AnalysisOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// PushHistory 写入用户分析历史，超出上限时裁剪最旧条目
func (c *Client) PushHistory(userID string, entry *models.HistoryEntry) error {
	key := fmt.Sprintf("%s:%s", KeyUserHistory, userID)
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.LPush(c.ctx, key, data)
	pipe.LTrim(c.ctx, key, 0, maxHistoryEntries-1)
	_, err = pipe.Exec(c.ctx)
	return err
}

// GetHistory 读取用户最近的分析历史，最新在前
func (c *Client) GetHistory(userID string, limit int) ([]*models.HistoryEntry, error) {
	key := fmt.Sprintf("%s:%s", KeyUserHistory, userID)
	items, err := c.rdb.LRange(c.ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	var entries []*models.HistoryEntry
	for i := range items {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(items[i]), &entry); err != nil {
			logrus.Errorf("解析历史条目失败 %s: %v", key, err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// UpdateHistoryRating 回填历史条目的评分，按指纹匹配
func (c *Client) UpdateHistoryRating(userID, fingerprint string, rating int) error {
	key := fmt.Sprintf("%s:%s", KeyUserHistory, userID)
	items, err := c.rdb.LRange(c.ctx, key, 0, maxHistoryEntries-1).Result()
	if err != nil {
		return err
	}

	for i := range items {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(items[i]), &entry); err != nil {
			continue
		}
		if entry.Fingerprint != fingerprint {
			continue
		}
		entry.Rating = rating
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		if err := c.rdb.LSet(c.ctx, key, int64(i), data).Err(); err != nil {
			return err
		}
	}
	return nil
}

// IncrDailyQuota 递增并返回用户当日的分析次数，计数在次日零点过期
func (c *Client) IncrDailyQuota(userID string) (int64, error) {
	day := time.Now().Format("2006-01-02")
	key := fmt.Sprintf("%s:%s:%s", KeyDailyQuota, userID, day)

	count, err := c.rdb.Incr(c.ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// 首次计数时设置到次日零点的过期时间
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		c.rdb.Expire(c.ctx, key, time.Until(midnight))
	}
	return count, nil
}
