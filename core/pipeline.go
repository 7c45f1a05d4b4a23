package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chart_analyst/models"
	"chart_analyst/pkg/llm"
	"chart_analyst/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ModelInvoker 生成模型调用接口
type ModelInvoker interface {
	Invoke(ctx context.Context, prompt string, images []llm.ImagePart, preferred string) (string, string, error)
	InvokeBatch(ctx context.Context, prompt string, images []llm.ImagePart, preferred string) (string, string, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// TrainingStore 训练语料库读写接口
type TrainingStore interface {
	CorpusReader
	RecordTrainingData(record *models.TrainingRecord) (*models.TrainingRecord, error)
	UpdateFeedback(fingerprints []string, feedback *models.AnalysisFeedback) (int64, error)
	UpdateFeedbackByAnalysisID(analysisID string, feedback *models.AnalysisFeedback) (int64, error)
}

// ResultCache 结果缓存与用户历史（Redis）
type ResultCache interface {
	GetCachedResult(fingerprint string) (*models.AnalysisOutcome, error)
	SetCachedResult(fingerprint string, outcome *models.AnalysisOutcome, ttl time.Duration) error
	PushHistory(userID string, entry *models.HistoryEntry) error
	UpdateHistoryRating(userID, fingerprint string, rating int) error
}

// Options 管线参数
type Options struct {
	MaxImageSize     int64
	ResultCacheTTL   time.Duration
	SearchPaceDelay  time.Duration
	LearningWindow   time.Duration
	LearningMinScore int
}

// Pipeline 分析编排器：学习上下文 → 提示词 → 模型调用 →
// 规范化 → 持久化（尽力而为）→ 搜索增强（可降级）
type Pipeline struct {
	invoker   ModelInvoker
	searcher  SearchProvider
	generator TextGenerator
	store     TrainingStore
	cache     ResultCache

	maxImageSize     int64
	cacheTTL         time.Duration
	paceDelay        time.Duration
	learningWindow   time.Duration
	learningMinScore int

	// pace可在测试中替换
	pace func(time.Duration)
}

// NewPipeline 创建分析管线，store和cache允许为nil（对应能力降级为空操作）
func NewPipeline(invoker ModelInvoker, searcher SearchProvider, store TrainingStore, cache ResultCache, opts Options) *Pipeline {
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = 10 * 1024 * 1024
	}
	if opts.ResultCacheTTL <= 0 {
		opts.ResultCacheTTL = time.Hour
	}
	if opts.SearchPaceDelay <= 0 {
		opts.SearchPaceDelay = 500 * time.Millisecond
	}
	if opts.LearningWindow <= 0 {
		opts.LearningWindow = 30 * 24 * time.Hour
	}
	if opts.LearningMinScore <= 0 {
		opts.LearningMinScore = 4
	}

	return &Pipeline{
		invoker:          invoker,
		searcher:         searcher,
		generator:        invoker,
		store:            store,
		cache:            cache,
		maxImageSize:     opts.MaxImageSize,
		cacheTTL:         opts.ResultCacheTTL,
		paceDelay:        opts.SearchPaceDelay,
		learningWindow:   opts.LearningWindow,
		learningMinScore: opts.LearningMinScore,
		pace:             time.Sleep,
	}
}

// AnalyzeSingle 单图分析入口
func (p *Pipeline) AnalyzeSingle(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisOutcome, error) {
	start := time.Now()

	if len(req.Images) != 1 {
		return nil, NewValidationError("单图分析需要且只需要一张图片")
	}
	if err := p.validateImage(&req.Images[0]); err != nil {
		return nil, err
	}

	fingerprint := utils.Fingerprint(req.Images[0].Data)
	if cached := p.cachedOutcome(fingerprint); cached != nil {
		return cached, nil
	}

	learning := BuildLearningContext(p.corpusReader(), req.UserID, p.learningMinScore, p.learningWindow)
	prompt := BuildPrompt(learning, 1)

	raw, variant, err := p.invoker.Invoke(ctx, prompt, imageParts(req.Images), req.PreferredVariant)
	if err != nil {
		return nil, err
	}

	return p.finishAnalysis(ctx, req, raw, variant, fingerprint, []string{fingerprint}, start)
}

// AnalyzeBatch 多图（多时间框架）分析入口：所有图片一次性提交，
// 逐图计算指纹并作为集合挂在同一条训练记录上
func (p *Pipeline) AnalyzeBatch(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisOutcome, error) {
	start := time.Now()

	if len(req.Images) == 0 {
		return nil, NewValidationError("批量分析至少需要一张图片")
	}
	if len(req.Images) > models.MaxBatchImages {
		return nil, NewValidationError(fmt.Sprintf("批量分析最多支持 %d 张图片", models.MaxBatchImages))
	}
	fingerprints := make([]string, 0, len(req.Images))
	for i := range req.Images {
		if err := p.validateImage(&req.Images[i]); err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, utils.Fingerprint(req.Images[i].Data))
	}

	// 图片集合的主指纹：相同图片组合去重到同一条记录
	combined := utils.Fingerprint([]byte(strings.Join(fingerprints, "|")))
	if cached := p.cachedOutcome(combined); cached != nil {
		return cached, nil
	}

	learning := BuildLearningContext(p.corpusReader(), req.UserID, p.learningMinScore, p.learningWindow)
	prompt := BuildPrompt(learning, len(req.Images))

	raw, variant, err := p.invoker.InvokeBatch(ctx, prompt, imageParts(req.Images), req.PreferredVariant)
	if err != nil {
		return nil, err
	}

	return p.finishAnalysis(ctx, req, raw, variant, combined, fingerprints, start)
}

// finishAnalysis 两个入口共用的后半段：规范化 → 持久化 → 增强 → 缓存/历史
func (p *Pipeline) finishAnalysis(ctx context.Context, req *models.AnalysisRequest, raw, variant, primary string, fingerprints []string, start time.Time) (*models.AnalysisOutcome, error) {
	result, fellBack := NormalizeResponse(raw)
	if fellBack {
		logrus.Warnf("模型响应无法解析，返回兜底信号，指纹 %s", primary)
	}

	analysisID := uuid.New().String()

	// 训练记录持久化是尽力而为的，失败只记日志
	p.persistTraining(analysisID, primary, fingerprints, result, req, variant)

	enriched := false
	if len(result.SearchQueries) > 0 && p.searcher != nil {
		var searchResults []models.SearchResult
		searchResults, enriched = p.enrich(ctx, result)
		result.WebSearchResults = searchResults
	}

	outcome := &models.AnalysisOutcome{
		Result: result,
		Meta: models.AnalysisMeta{
			AnalysisID:   analysisID,
			VariantUsed:  variant,
			Latency:      time.Since(start),
			Enriched:     enriched,
			Fingerprints: fingerprints,
			ImageCount:   len(fingerprints),
		},
	}

	// 兜底结果不进缓存，避免把坏结果固定住
	if !fellBack {
		p.cacheOutcome(primary, outcome)
	}
	p.recordHistory(req.UserID, primary, analysisID, result)

	return outcome, nil
}

// RefreshFeedback 反馈入口：按指纹（含多图集合成员）或分析ID更新训练记录
func (p *Pipeline) RefreshFeedback(target, userID string, feedback *models.AnalysisFeedback) error {
	if p.store == nil {
		return NewValidationError("训练语料库不可用")
	}

	rows, err := p.store.UpdateFeedback([]string{target}, feedback)
	if err != nil {
		return err
	}
	if rows == 0 {
		rows, err = p.store.UpdateFeedbackByAnalysisID(target, feedback)
		if err != nil {
			return err
		}
	}
	if rows == 0 {
		return NewValidationError("未找到对应的分析记录")
	}

	if userID != "" && p.cache != nil && feedback.Rating > 0 {
		if err := p.cache.UpdateHistoryRating(userID, target, feedback.Rating); err != nil {
			logrus.Warnf("回填用户 %s 历史评分失败: %v", userID, err)
		}
	}
	return nil
}

// Chat 基于已有分析的追问对话
func (p *Pipeline) Chat(ctx context.Context, priorContext, message, userID string) (string, error) {
	var b strings.Builder
	b.WriteString("你是一名技术分析师，正在回答用户对一份图表分析的追问。\n")
	if priorContext != "" {
		b.WriteString("## 此前的分析\n")
		b.WriteString(priorContext)
		b.WriteString("\n\n")
	}
	b.WriteString("## 用户提问\n")
	b.WriteString(message)
	b.WriteString("\n\n请用简洁的中文直接回答，不要输出JSON。")

	reply, err := p.generator.GenerateText(ctx, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// validateImage 校验单张图片：非空、大小、MIME类型
func (p *Pipeline) validateImage(img *models.ImageInput) error {
	if len(img.Data) == 0 {
		return NewValidationError("图片内容为空")
	}
	if int64(len(img.Data)) > p.maxImageSize {
		return NewValidationError(fmt.Sprintf("图片超过大小上限 %dMB", p.maxImageSize/(1024*1024)))
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = utils.DetectImageMIME(img.Data)
		img.MIMEType = mimeType
	}
	if !utils.IsAllowedImageMIME(mimeType) {
		return NewValidationError(fmt.Sprintf("不支持的图片类型 %s，仅支持 jpeg/png/webp", mimeType))
	}
	return nil
}

// persistTraining 从规范化结果构建训练记录并写入，失败不影响主流程
func (p *Pipeline) persistTraining(analysisID, primary string, fingerprints []string, result *models.AnalysisResult, req *models.AnalysisRequest, variant string) {
	if p.store == nil {
		return
	}

	analysisJSON, err := json.Marshal(result)
	if err != nil {
		logrus.Warnf("序列化分析快照失败: %v", err)
		return
	}
	patternsJSON, _ := json.Marshal(result.ChartAnalysis.DetectedPatterns)
	fingerprintsJSON, _ := json.Marshal(fingerprints)

	record := &models.TrainingRecord{
		AnalysisID:   analysisID,
		Fingerprint:  primary,
		Fingerprints: fingerprintsJSON,
		Symbol:       result.MarketContext.Symbol,
		Action:       result.Signal.Action,
		Confidence:   result.Signal.Confidence,
		MarketType:   result.MarketContext.MarketType,
		Timeframe:    result.MarketContext.Timeframe,
		Analysis:     analysisJSON,
		Patterns:     patternsJSON,
		UserID:       req.UserID,
		OptIn:        req.OptIn,
		SourceKey:    utils.SourceKey(req.SessionID, req.ClientIP),
		Variant:      variant,
	}

	if _, err := p.store.RecordTrainingData(record); err != nil {
		logrus.Warnf("写入训练记录失败，指纹 %s: %v", primary, err)
	}
}

// cachedOutcome 查结果缓存，命中时标记FromCache
func (p *Pipeline) cachedOutcome(fingerprint string) *models.AnalysisOutcome {
	if p.cache == nil {
		return nil
	}
	outcome, err := p.cache.GetCachedResult(fingerprint)
	if err != nil {
		logrus.Warnf("读取结果缓存失败，指纹 %s: %v", fingerprint, err)
		return nil
	}
	if outcome == nil {
		return nil
	}
	outcome.Meta.FromCache = true
	return outcome
}

func (p *Pipeline) cacheOutcome(fingerprint string, outcome *models.AnalysisOutcome) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetCachedResult(fingerprint, outcome, p.cacheTTL); err != nil {
		logrus.Warnf("写入结果缓存失败，指纹 %s: %v", fingerprint, err)
	}
}

func (p *Pipeline) recordHistory(userID, fingerprint, analysisID string, result *models.AnalysisResult) {
	if userID == "" || p.cache == nil {
		return
	}
	entry := &models.HistoryEntry{
		AnalysisID:  analysisID,
		Fingerprint: fingerprint,
		Symbol:      result.MarketContext.Symbol,
		Action:      result.Signal.Action,
		Confidence:  result.Signal.Confidence,
		Patterns:    result.ChartAnalysis.DetectedPatterns,
		CreatedAt:   time.Now(),
	}
	if err := p.cache.PushHistory(userID, entry); err != nil {
		logrus.Warnf("写入用户 %s 分析历史失败: %v", userID, err)
	}
}

// corpusReader store为nil时学习上下文直接用空读取器
func (p *Pipeline) corpusReader() CorpusReader {
	if p.store == nil {
		return nil
	}
	return p.store
}

func imageParts(images []models.ImageInput) []llm.ImagePart {
	parts := make([]llm.ImagePart, 0, len(images))
	for _, img := range images {
		parts = append(parts, llm.ImagePart{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}
