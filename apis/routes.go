package apis

import (
	"chart_analyst/controllers"
	"chart_analyst/core"
	"chart_analyst/pkg/middleware"
	"chart_analyst/pkg/training"
	"chart_analyst/pkg/websocket"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, pipeline *core.Pipeline, store *training.Store) {
	// 创建控制器实例
	analysisController := controllers.NewAnalysisController(pipeline, store)
	authController := &controllers.AuthController{}
	configController := controllers.NewConfigController()

	// 初始化WebSocket管理器
	wsManager := websocket.GetGlobalWebSocketManager()

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Chart Analyst API is running",
		})
	})

	// 跨域与认证中间件
	r.Use(middleware.Cors())
	r.Use(middleware.AuthMiddleware())

	// WebSocket路由
	r.GET("/ws", wsManager.HandleWebSocket)

	// 认证路由
	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", authController.Login) // 用户登录
	}

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 用户信息路由
		user := v1.Group("/user")
		{
			user.GET("/profile", authController.GetProfile) // 获取用户信息
		}

		// 图表分析路由
		analysis := v1.Group("/analysis")
		{
			analysis.POST("", analysisController.AnalyzeChart)              // 单图分析
			analysis.POST("/batch", analysisController.AnalyzeBatch)        // 多时间框架批量分析
			analysis.POST("/feedback", analysisController.SubmitFeedback)   // 提交分析反馈
			analysis.POST("/chat", analysisController.Chat)                 // 基于分析的追问
			analysis.GET("/history", analysisController.GetHistory)         // 用户分析历史
			analysis.GET("/records", analysisController.GetTrainingRecords) // 训练记录分页查询
		}

		// 系统配置路由
		v1.GET("/config", configController.GetSystemConfig) // 获取系统配置
	}
}
