package controllers

import (
	"net/http"

	"chart_analyst/models"
	"chart_analyst/pkg/config"

	"github.com/gin-gonic/gin"
)

// ConfigController 系统配置控制器
type ConfigController struct{}

// NewConfigController 创建配置控制器
func NewConfigController() *ConfigController {
	return &ConfigController{}
}

// SystemConfigResponse 系统配置响应
type SystemConfigResponse struct {
	PreferredVariant string `json:"preferred_variant"` // 首选模型变体
	FallbackVariant  string `json:"fallback_variant"`  // 回退模型变体
	MaxImageSize     int64  `json:"max_image_size"`    // 单图大小上限（字节）
	MaxBatchImages   int    `json:"max_batch_images"`  // 批量分析图片上限
	DailyQuota       int    `json:"daily_quota"`       // 每日分析配额
	SearchEnabled    bool   `json:"search_enabled"`    // 是否启用搜索增强
}

// GetSystemConfig 获取系统配置
func (c *ConfigController) GetSystemConfig(ctx *gin.Context) {
	cfg := config.GlobalConfig

	response := SystemConfigResponse{
		PreferredVariant: cfg.PreferredVariant,
		FallbackVariant:  cfg.FallbackVariant,
		MaxImageSize:     cfg.MaxImageSize,
		MaxBatchImages:   models.MaxBatchImages,
		DailyQuota:       cfg.DailyQuota,
		SearchEnabled:    cfg.SearchAPIKey != "",
	}

	ctx.JSON(http.StatusOK, gin.H{
		"data": response,
	})
}
