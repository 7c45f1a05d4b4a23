package search

import (
	"testing"
	"time"
)

func TestSourceDomain(t *testing.T) {
	cases := []struct {
		link string
		want string
	}{
		{"https://www.coindesk.com/markets/btc", "coindesk.com"},
		{"https://finance.yahoo.com/quote/AAPL", "finance.yahoo.com"},
		{"not a url", "not a url"},
	}
	for _, c := range cases {
		if got := SourceDomain(c.link); got != c.want {
			t.Errorf("SourceDomain(%s): 期望 %s, 实际 %s", c.link, c.want, got)
		}
	}
}

func TestRelevanceScore(t *testing.T) {
	now := time.Now()

	// 排名第一且近期的结果应得满分
	if got := RelevanceScore(1, now, now); got != 1.0 {
		t.Errorf("近期首位结果评分错误: %v", got)
	}

	// 旧结果按排名衰减
	old := now.AddDate(0, -2, 0)
	first := RelevanceScore(1, old, now)
	third := RelevanceScore(3, old, now)
	if first <= third {
		t.Errorf("排名靠前的结果评分应更高: first=%v third=%v", first, third)
	}

	// 近期结果应高于同排名的旧结果
	if RelevanceScore(3, now, now) <= RelevanceScore(3, old, now) {
		t.Error("近7天结果应获得加权")
	}
}

func TestParseResultDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	if got := ParseResultDate("Mar 5, 2025", now); got.Month() != time.March || got.Day() != 5 {
		t.Errorf("绝对日期解析错误: %v", got)
	}

	if got := ParseResultDate("3 days ago", now); got != now.AddDate(0, 0, -3) {
		t.Errorf("相对日期解析错误: %v", got)
	}

	if got := ParseResultDate("2 hours ago", now); got != now.Add(-2*time.Hour) {
		t.Errorf("小时级相对日期解析错误: %v", got)
	}

	// 缺失或无法解析的时间取检索时间
	if got := ParseResultDate("", now); got != now {
		t.Errorf("空时间应取检索时间: %v", got)
	}
	if got := ParseResultDate("sometime", now); got != now {
		t.Errorf("无法解析的时间应取检索时间: %v", got)
	}
}
