package controllers

import (
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"

	"chart_analyst/core"
	"chart_analyst/models"
	"chart_analyst/pkg/config"
	"chart_analyst/pkg/redis"
	"chart_analyst/pkg/telegram"
	"chart_analyst/pkg/training"
	"chart_analyst/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AnalysisController struct {
	pipeline *core.Pipeline
	store    *training.Store
}

func NewAnalysisController(pipeline *core.Pipeline, store *training.Store) *AnalysisController {
	return &AnalysisController{
		pipeline: pipeline,
		store:    store,
	}
}

// FeedbackRequest 分析反馈请求
type FeedbackRequest struct {
	AnalysisID    string  `json:"analysis_id"`
	Fingerprint   string  `json:"fingerprint"`
	Rating        int     `json:"rating" binding:"required,min=1,max=5"`
	Comments      string  `json:"comments"`
	ActualOutcome string  `json:"actual_outcome"`
	PriceChange   float64 `json:"price_change"`
}

// ChatRequest 追问请求
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
	Context string `json:"context"` // 此前分析结果的JSON，可选
}

// AnalyzeChart 单图分析
func (ac *AnalysisController) AnalyzeChart(c *gin.Context) {
	req, ok := ac.buildRequest(c, 1)
	if !ok {
		return
	}

	if !ac.checkQuota(c, req.UserID) {
		return
	}

	outcome, err := ac.pipeline.AnalyzeSingle(c.Request.Context(), req)
	if err != nil {
		ac.writeAnalysisError(c, err)
		return
	}

	ac.afterAnalysis(outcome)

	c.JSON(http.StatusOK, gin.H{
		"data": outcome,
	})
}

// AnalyzeBatch 多时间框架批量分析
func (ac *AnalysisController) AnalyzeBatch(c *gin.Context) {
	req, ok := ac.buildRequest(c, models.MaxBatchImages)
	if !ok {
		return
	}

	if !ac.checkQuota(c, req.UserID) {
		return
	}

	outcome, err := ac.pipeline.AnalyzeBatch(c.Request.Context(), req)
	if err != nil {
		ac.writeAnalysisError(c, err)
		return
	}

	ac.afterAnalysis(outcome)

	c.JSON(http.StatusOK, gin.H{
		"data": outcome,
	})
}

// buildRequest 从multipart表单组装分析请求
func (ac *AnalysisController) buildRequest(c *gin.Context, maxImages int) (*models.AnalysisRequest, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求必须为multipart/form-data格式",
			"code":  "INVALID_FORM",
		})
		return nil, false
	}

	files := form.File["images"]
	if len(files) == 0 {
		if single := form.File["image"]; len(single) > 0 {
			files = single
		}
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "缺少图片文件",
			"code":  "IMAGE_REQUIRED",
		})
		return nil, false
	}
	if len(files) > maxImages {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("图片数量超过上限: %d", maxImages),
			"code":  "TOO_MANY_IMAGES",
		})
		return nil, false
	}

	images := make([]models.ImageInput, 0, len(files))
	for _, fh := range files {
		img, err := readImageFile(fh)
		if err != nil {
			logrus.Warnf("读取上传图片失败: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "读取上传图片失败",
				"code":  "IMAGE_READ_FAILED",
			})
			return nil, false
		}
		images = append(images, *img)
	}

	return &models.AnalysisRequest{
		Images:           images,
		UserID:           c.GetString("username"),
		PreferredVariant: c.PostForm("variant"),
		SessionID:        c.PostForm("session_id"),
		ClientIP:         c.ClientIP(),
		OptIn:            c.PostForm("opt_in") != "false",
	}, true
}

func readImageFile(fh *multipart.FileHeader) (*models.ImageInput, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, config.GlobalConfig.MaxImageSize+1))
	if err != nil {
		return nil, err
	}

	return &models.ImageInput{
		Data:     data,
		MIMEType: fh.Header.Get("Content-Type"),
	}, nil
}

// checkQuota 检查并累加当日配额
func (ac *AnalysisController) checkQuota(c *gin.Context, userID string) bool {
	if redis.GlobalRedisClient == nil || config.GlobalConfig.DailyQuota <= 0 {
		return true
	}

	key := userID
	if key == "" {
		key = c.ClientIP()
	}

	count, err := redis.GlobalRedisClient.IncrDailyQuota(key)
	if err != nil {
		// 配额计数失败不阻塞分析
		logrus.Warnf("配额计数失败: %v", err)
		return true
	}
	if count > int64(config.GlobalConfig.DailyQuota) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "今日分析次数已用完，请明天再试",
			"code":  "QUOTA_EXCEEDED",
		})
		return false
	}
	return true
}

// afterAnalysis 分析完成后的推送与通知
func (ac *AnalysisController) afterAnalysis(outcome *models.AnalysisOutcome) {
	if outcome.Meta.FromCache {
		return
	}

	websocket.GetGlobalWebSocketManager().BroadcastAnalysis(outcome)

	if telegram.GlobalTelegramClient != nil {
		go telegram.GlobalTelegramClient.NotifyAnalysis(outcome)
	}
}

// writeAnalysisError 按错误类别映射HTTP状态码
func (ac *AnalysisController) writeAnalysisError(c *gin.Context, err error) {
	switch {
	case core.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "INVALID_IMAGE",
		})
	case core.IsProviderExhausted(err):
		logrus.Errorf("模型提供方重试耗尽: %v", err)
		if telegram.GlobalTelegramClient != nil {
			go telegram.GlobalTelegramClient.NotifyProviderExhausted(config.GlobalConfig.PreferredVariant, err)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "模型服务暂时过载，请稍后重试",
			"code":  "PROVIDER_EXHAUSTED",
		})
	default:
		logrus.Errorf("分析失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "分析服务调用失败",
			"code":  "PROVIDER_ERROR",
		})
	}
}

// SubmitFeedback 提交分析反馈
func (ac *AnalysisController) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求参数格式错误",
			"code":  "INVALID_PARAMS",
		})
		return
	}

	target := req.Fingerprint
	if target == "" {
		target = req.AnalysisID
	}
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "需要提供analysis_id或fingerprint",
			"code":  "TARGET_REQUIRED",
		})
		return
	}

	feedback := &models.AnalysisFeedback{
		Rating:        req.Rating,
		Comments:      req.Comments,
		ActualOutcome: req.ActualOutcome,
		PriceChange:   req.PriceChange,
	}

	if err := ac.pipeline.RefreshFeedback(target, c.GetString("username"), feedback); err != nil {
		if core.IsValidation(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "未找到对应的分析记录",
				"code":  "RECORD_NOT_FOUND",
			})
			return
		}
		logrus.Errorf("更新反馈失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "更新反馈失败",
			"code":  "FEEDBACK_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "反馈已记录",
	})
}

// Chat 基于此前分析的追问
func (ac *AnalysisController) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求参数格式错误",
			"code":  "INVALID_PARAMS",
		})
		return
	}

	reply, err := ac.pipeline.Chat(c.Request.Context(), req.Context, req.Message, c.GetString("username"))
	if err != nil {
		ac.writeAnalysisError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"reply": reply,
		},
	})
}

// GetHistory 获取当前用户的分析历史
func (ac *AnalysisController) GetHistory(c *gin.Context) {
	if redis.GlobalRedisClient == nil {
		c.JSON(http.StatusOK, gin.H{"data": []*models.HistoryEntry{}})
		return
	}

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	entries, err := redis.GlobalRedisClient.GetHistory(c.GetString("username"), limit)
	if err != nil {
		logrus.Errorf("获取分析历史失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取分析历史失败",
			"code":  "HISTORY_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
	})
}

// GetTrainingRecords 分页查询训练记录
func (ac *AnalysisController) GetTrainingRecords(c *gin.Context) {
	symbol := c.Query("symbol")
	pageStr := c.DefaultQuery("page", "1")
	pageSizeStr := c.DefaultQuery("pageSize", "10")

	page, _ := strconv.Atoi(pageStr)
	pageSize, _ := strconv.Atoi(pageSizeStr)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	offset := (page - 1) * pageSize

	records, total, err := ac.store.RecordsPage(symbol, offset, pageSize)
	if err != nil {
		logrus.Errorf("查询训练记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询训练记录失败",
			"code":  "RECORDS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       records,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": int(math.Ceil(float64(total) / float64(pageSize))),
	})
}
