package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chart_analyst/models"
	"chart_analyst/pkg/llm"
)

// ========== 测试替身 ==========

type fakeInvoker struct {
	response     string
	refinement   string
	err          error
	refineErr    error
	variant      string
	invokeCalls  int
	refineCalls  int
	lastPrompt   string
	lastPreferred string
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, images []llm.ImagePart, preferred string) (string, string, error) {
	f.invokeCalls++
	f.lastPrompt = prompt
	f.lastPreferred = preferred
	if f.err != nil {
		return "", "", f.err
	}
	return f.response, f.variant, nil
}

func (f *fakeInvoker) InvokeBatch(ctx context.Context, prompt string, images []llm.ImagePart, preferred string) (string, string, error) {
	return f.Invoke(ctx, prompt, images, preferred)
}

func (f *fakeInvoker) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.refineCalls++
	if f.refineErr != nil {
		return "", f.refineErr
	}
	return f.refinement, nil
}

type fakeSearcher struct {
	results map[string][]models.SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

type fakeStore struct {
	records    map[string]*models.TrainingRecord
	createErr  error
	readErr    error
	highRated  []models.TrainingRecord
	userRated  []models.TrainingRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*models.TrainingRecord{}}
}

func (f *fakeStore) RecordTrainingData(record *models.TrainingRecord) (*models.TrainingRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if existing, ok := f.records[record.Fingerprint]; ok {
		return existing, nil
	}
	f.records[record.Fingerprint] = record
	return record, nil
}

func (f *fakeStore) UpdateFeedback(fingerprints []string, feedback *models.AnalysisFeedback) (int64, error) {
	var rows int64
	for _, fp := range fingerprints {
		if record, ok := f.records[fp]; ok {
			record.Rating = feedback.Rating
			rows++
		}
	}
	return rows, nil
}

func (f *fakeStore) UpdateFeedbackByAnalysisID(analysisID string, feedback *models.AnalysisFeedback) (int64, error) {
	for _, record := range f.records {
		if record.AnalysisID == analysisID {
			record.Rating = feedback.Rating
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeStore) RecentHighRated(limit, minRating int, since time.Time) ([]models.TrainingRecord, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.highRated, nil
}

func (f *fakeStore) UserHighRated(userID string, limit, minRating int) ([]models.TrainingRecord, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.userRated, nil
}

type fakeCache struct {
	cached  map[string]*models.AnalysisOutcome
	history map[string][]*models.HistoryEntry
	getErr  error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		cached:  map[string]*models.AnalysisOutcome{},
		history: map[string][]*models.HistoryEntry{},
	}
}

func (f *fakeCache) GetCachedResult(fingerprint string) (*models.AnalysisOutcome, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.cached[fingerprint], nil
}

func (f *fakeCache) SetCachedResult(fingerprint string, outcome *models.AnalysisOutcome, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.cached[fingerprint] = outcome
	return nil
}

func (f *fakeCache) PushHistory(userID string, entry *models.HistoryEntry) error {
	f.history[userID] = append(f.history[userID], entry)
	return nil
}

func (f *fakeCache) UpdateHistoryRating(userID, fingerprint string, rating int) error {
	return nil
}

// ========== 测试工具 ==========

const goodResponse = `{"signal":{"action":"BUY","confidence":78,"entryPoint":45000,"takeProfit":[46000,47000],"stopLoss":44000,"riskReward":"1:2","timeframe":"4h"},
"chartAnalysis":{"detectedPatterns":["Bull Flag"],"technicalIndicators":["RSI: 45"],"supportLevels":[44200],"resistanceLevels":[46000],"volume":"high","trend":"bullish"},
"reasoning":{"primary":"旗形突破","secondary":[],"risks":[],"catalysts":[]},
"marketContext":{"symbol":"BTC/USDT","timeframe":"4h","marketType":"crypto"},
"searchQueries":["BTC news","bitcoin ETF flows"]}`

func testRequest(userID string) *models.AnalysisRequest {
	return &models.AnalysisRequest{
		Images: []models.ImageInput{
			{Data: []byte("fake-png-bytes"), MIMEType: "image/png"},
		},
		UserID:    userID,
		SessionID: "session-1",
		ClientIP:  "10.0.0.1",
		OptIn:     true,
	}
}

func newTestPipeline(invoker *fakeInvoker, searcher *fakeSearcher, store *fakeStore, cache *fakeCache) *Pipeline {
	var s SearchProvider
	if searcher != nil {
		s = searcher
	}
	var ts TrainingStore
	if store != nil {
		ts = store
	}
	var rc ResultCache
	if cache != nil {
		rc = cache
	}
	p := NewPipeline(invoker, s, ts, rc, Options{})
	p.pace = func(time.Duration) {}
	return p
}

// ========== 管线测试 ==========

func TestAnalyzeSingleFullFlow(t *testing.T) {
	invoker := &fakeInvoker{
		response:   goodResponse,
		refinement: `{"signal":{"action":"BUY","confidence":85},"reasoning":{"primary":"资讯面同向确认"}}`,
		variant:    "gemini-2.0-flash",
	}
	searcher := &fakeSearcher{results: map[string][]models.SearchResult{
		"BTC news": {{Title: "BTC突破", Source: "coindesk.com", Relevance: 1.0, Date: time.Now()}},
	}}
	store := newFakeStore()
	cache := newFakeCache()

	p := newTestPipeline(invoker, searcher, store, cache)
	outcome, err := p.AnalyzeSingle(context.Background(), testRequest("user-1"))
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if outcome.Result.Signal.Action != models.ActionBuy {
		t.Errorf("信号动作错误: %s", outcome.Result.Signal.Action)
	}
	if outcome.Result.Signal.Confidence != 85 {
		t.Errorf("提炼后的置信度应为85, 实际 %v", outcome.Result.Signal.Confidence)
	}
	if outcome.Result.Reasoning.Primary != "资讯面同向确认" {
		t.Errorf("提炼后的依据错误: %s", outcome.Result.Reasoning.Primary)
	}
	if !outcome.Meta.Enriched {
		t.Error("应标记为已增强")
	}
	if outcome.Meta.VariantUsed != "gemini-2.0-flash" {
		t.Errorf("变体元数据错误: %s", outcome.Meta.VariantUsed)
	}
	if len(outcome.Result.WebSearchResults) != 1 {
		t.Errorf("搜索结果数量错误: %d", len(outcome.Result.WebSearchResults))
	}

	if len(store.records) != 1 {
		t.Errorf("应写入1条训练记录, 实际 %d", len(store.records))
	}
	for _, record := range store.records {
		if record.Symbol != "BTC/USDT" || record.Action != models.ActionBuy {
			t.Errorf("训练记录快照错误: %+v", record)
		}
		// 训练记录保存的是增强前的快照
		if record.Confidence != 78 {
			t.Errorf("训练记录应保存增强前的置信度78, 实际 %v", record.Confidence)
		}
	}

	if len(cache.history["user-1"]) != 1 {
		t.Error("应写入1条用户历史")
	}
	// 最多执行2条查询
	if len(searcher.queries) != 2 {
		t.Errorf("应执行2条搜索查询, 实际 %d", len(searcher.queries))
	}
}

func TestAnalyzeSingleValidation(t *testing.T) {
	p := newTestPipeline(&fakeInvoker{response: goodResponse}, nil, nil, nil)

	cases := []struct {
		name string
		req  *models.AnalysisRequest
	}{
		{"空图片", &models.AnalysisRequest{Images: []models.ImageInput{{Data: nil, MIMEType: "image/png"}}}},
		{"超大图片", &models.AnalysisRequest{Images: []models.ImageInput{{Data: make([]byte, 11*1024*1024), MIMEType: "image/png"}}}},
		{"非法类型", &models.AnalysisRequest{Images: []models.ImageInput{{Data: []byte("GIF89a..."), MIMEType: "image/gif"}}}},
		{"无图片", &models.AnalysisRequest{}},
	}

	for _, c := range cases {
		_, err := p.AnalyzeSingle(context.Background(), c.req)
		if err == nil {
			t.Errorf("%s: 期望校验错误", c.name)
			continue
		}
		if !IsValidation(err) {
			t.Errorf("%s: 期望 ValidationError, 实际 %T", c.name, err)
		}
	}
}

func TestAnalyzeSingleDedup(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	store := newFakeStore()

	// 不带缓存，验证存储层自身的指纹去重
	p := newTestPipeline(invoker, nil, store, nil)

	if _, err := p.AnalyzeSingle(context.Background(), testRequest("")); err != nil {
		t.Fatalf("首次分析失败: %v", err)
	}
	if _, err := p.AnalyzeSingle(context.Background(), testRequest("")); err != nil {
		t.Fatalf("二次分析失败: %v", err)
	}

	if len(store.records) != 1 {
		t.Errorf("相同图片应只产生1条训练记录, 实际 %d", len(store.records))
	}
}

func TestAnalyzeSingleCacheHit(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	cache := newFakeCache()
	p := newTestPipeline(invoker, nil, nil, cache)

	first, err := p.AnalyzeSingle(context.Background(), testRequest(""))
	if err != nil {
		t.Fatalf("首次分析失败: %v", err)
	}
	if first.Meta.FromCache {
		t.Error("首次分析不应命中缓存")
	}

	second, err := p.AnalyzeSingle(context.Background(), testRequest(""))
	if err != nil {
		t.Fatalf("二次分析失败: %v", err)
	}
	if !second.Meta.FromCache {
		t.Error("相同图片应命中结果缓存")
	}
	if invoker.invokeCalls != 1 {
		t.Errorf("缓存命中不应再调用模型, 实际调用 %d 次", invoker.invokeCalls)
	}
}

func TestDegradationUnderSearchFailure(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	searcher := &fakeSearcher{err: errors.New("搜索服务不可用")}

	p := newTestPipeline(invoker, searcher, nil, nil)
	outcome, err := p.AnalyzeSingle(context.Background(), testRequest(""))
	if err != nil {
		t.Fatalf("搜索全部失败不应使请求失败: %v", err)
	}

	// 信号应与增强前一致
	if outcome.Result.Signal.Action != models.ActionBuy || outcome.Result.Signal.Confidence != 78 {
		t.Errorf("降级时应保留未提炼信号: %+v", outcome.Result.Signal)
	}
	if outcome.Meta.Enriched {
		t.Error("降级时不应标记为已增强")
	}
	if invoker.refineCalls != 0 {
		t.Error("没有搜索结果时不应发起提炼调用")
	}
}

func TestRefinementParseFailureKeepsBase(t *testing.T) {
	invoker := &fakeInvoker{
		response:   goodResponse,
		refinement: "这不是JSON",
		variant:    "v",
	}
	searcher := &fakeSearcher{results: map[string][]models.SearchResult{
		"BTC news": {{Title: "新闻", Date: time.Now()}},
	}}

	p := newTestPipeline(invoker, searcher, nil, nil)
	outcome, err := p.AnalyzeSingle(context.Background(), testRequest(""))
	if err != nil {
		t.Fatalf("提炼解析失败不应使请求失败: %v", err)
	}
	if outcome.Result.Signal.Confidence != 78 {
		t.Errorf("提炼解析失败应保留基础信号: %v", outcome.Result.Signal.Confidence)
	}
}

func TestPersistenceFailureAbsorbed(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	store := newFakeStore()
	store.createErr = errors.New("mysql连接中断")

	p := newTestPipeline(invoker, nil, store, nil)
	outcome, err := p.AnalyzeSingle(context.Background(), testRequest("user-1"))
	if err != nil {
		t.Fatalf("持久化失败不应使请求失败: %v", err)
	}
	checkComplete(t, outcome.Result)
}

func TestProviderExhaustedPropagates(t *testing.T) {
	invoker := &fakeInvoker{err: llm.NewExhaustedError(3, llm.NewOverloadedError("v", "过载"))}

	p := newTestPipeline(invoker, nil, nil, nil)
	_, err := p.AnalyzeSingle(context.Background(), testRequest(""))
	if err == nil {
		t.Fatal("期望模型耗尽错误向上传播")
	}
	if !IsProviderExhausted(err) {
		t.Errorf("期望可识别为尝试耗尽: %T", err)
	}
	if IsValidation(err) {
		t.Error("尝试耗尽不应被判定为校验错误")
	}
}

func TestAnalyzeBatchLimits(t *testing.T) {
	p := newTestPipeline(&fakeInvoker{response: goodResponse}, nil, nil, nil)

	req := &models.AnalysisRequest{}
	for i := 0; i < models.MaxBatchImages+1; i++ {
		req.Images = append(req.Images, models.ImageInput{Data: []byte(fmt.Sprintf("img-%d", i)), MIMEType: "image/jpeg"})
	}
	if _, err := p.AnalyzeBatch(context.Background(), req); !IsValidation(err) {
		t.Errorf("超出图片数量上限应返回校验错误: %v", err)
	}
}

func TestAnalyzeBatchFingerprintSet(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	store := newFakeStore()

	p := newTestPipeline(invoker, nil, store, nil)
	req := &models.AnalysisRequest{
		Images: []models.ImageInput{
			{Data: []byte("chart-1h"), MIMEType: "image/png"},
			{Data: []byte("chart-4h"), MIMEType: "image/png"},
		},
	}
	outcome, err := p.AnalyzeBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("批量分析失败: %v", err)
	}
	if outcome.Meta.ImageCount != 2 || len(outcome.Meta.Fingerprints) != 2 {
		t.Errorf("指纹集合错误: %+v", outcome.Meta)
	}

	// 两张图片挂在同一条训练记录上
	if len(store.records) != 1 {
		t.Fatalf("批量分析应只产生1条训练记录, 实际 %d", len(store.records))
	}
	for _, record := range store.records {
		if len(record.FingerprintList()) != 2 {
			t.Errorf("训练记录的指纹集合错误: %v", record.FingerprintList())
		}
	}
}

func TestRefreshFeedback(t *testing.T) {
	invoker := &fakeInvoker{response: goodResponse, variant: "v"}
	store := newFakeStore()
	p := newTestPipeline(invoker, nil, store, nil)

	outcome, err := p.AnalyzeSingle(context.Background(), testRequest("user-1"))
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}
	fingerprint := outcome.Meta.Fingerprints[0]

	// 按指纹更新
	if err := p.RefreshFeedback(fingerprint, "user-1", &models.AnalysisFeedback{Rating: 5}); err != nil {
		t.Fatalf("按指纹更新反馈失败: %v", err)
	}
	if store.records[fingerprint].Rating != 5 {
		t.Errorf("评分未更新: %d", store.records[fingerprint].Rating)
	}

	// 按分析ID更新
	if err := p.RefreshFeedback(outcome.Meta.AnalysisID, "", &models.AnalysisFeedback{Rating: 3}); err != nil {
		t.Fatalf("按分析ID更新反馈失败: %v", err)
	}
	if store.records[fingerprint].Rating != 3 {
		t.Errorf("按分析ID的评分未更新: %d", store.records[fingerprint].Rating)
	}

	// 找不到记录返回校验错误
	if err := p.RefreshFeedback("no-such-target", "", &models.AnalysisFeedback{Rating: 4}); !IsValidation(err) {
		t.Errorf("未知目标应返回校验错误: %v", err)
	}
}

func TestChat(t *testing.T) {
	invoker := &fakeInvoker{refinement: "  突破确认后可以加仓。  "}
	p := newTestPipeline(invoker, nil, nil, nil)

	reply, err := p.Chat(context.Background(), "BTC/USDT 4h BUY 置信度78", "现在还能进吗", "user-1")
	if err != nil {
		t.Fatalf("对话失败: %v", err)
	}
	if reply != "突破确认后可以加仓。" {
		t.Errorf("回复错误: %q", reply)
	}
}
