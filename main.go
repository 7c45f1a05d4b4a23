package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chart_analyst/core"
	"chart_analyst/pkg/config"
	"chart_analyst/pkg/database"
	"chart_analyst/pkg/llm"
	"chart_analyst/pkg/redis"
	"chart_analyst/pkg/search"
	"chart_analyst/pkg/telegram"
	"chart_analyst/pkg/training"
	"chart_analyst/servers"

	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("启动图表分析助手...")

	// 加载配置
	config.LoadConfig()
	cfg := config.GlobalConfig

	// 初始化Telegram客户端
	if err := telegram.InitTelegram(); err != nil {
		logrus.Errorf("Telegram init fail: %v", err)
	}

	// 初始化Redis
	if err := redis.InitRedis(); err != nil {
		if telegram.GlobalTelegramClient != nil {
			telegram.GlobalTelegramClient.SendServiceStatus("error", fmt.Sprintf("Redis初始化失败\n错误: %v\n服务即将停止", err))
		}
		logrus.Fatalf("Redis init fail: %v", err)
	}

	// 初始化MySQL
	if err := database.InitMySQL(cfg); err != nil {
		if telegram.GlobalTelegramClient != nil {
			telegram.GlobalTelegramClient.SendServiceStatus("error", fmt.Sprintf("MySQL初始化失败\n错误: %v\n服务即将停止", err))
		}
		logrus.Fatalf("MySQL init fail: %v", err)
	}

	// 初始化模型客户端
	if cfg.GeminiAPIKey == "" {
		logrus.Fatal("未配置GEMINI_API_KEY，无法启动分析服务")
	}
	invoker := llm.NewClient(
		cfg.GeminiAPIKey,
		cfg.GeminiBaseURL,
		cfg.PreferredVariant,
		cfg.FallbackVariant,
		cfg.ModelCallTimeout,
		cfg.BatchBackoffBase,
		cfg.BatchMaxAttempts,
	)
	logrus.Infof("模型客户端已初始化: preferred=%s fallback=%s", cfg.PreferredVariant, cfg.FallbackVariant)

	// 初始化搜索客户端（未配置时跳过，分析降级为无增强）
	var searcher core.SearchProvider
	if cfg.SearchAPIKey != "" {
		searcher = search.NewClient(cfg.SearchAPIKey, cfg.SearchBaseURL, cfg.SearchTimeout)
		logrus.Info("搜索客户端已初始化")
	} else {
		logrus.Warn("未配置SEARCH_API_KEY，搜索增强已禁用")
	}

	// 初始化训练数据存储与分析管线
	store := training.NewStore(database.GetDB())
	pipeline := core.NewPipeline(invoker, searcher, store, redis.GlobalRedisClient, core.Options{
		MaxImageSize:     cfg.MaxImageSize,
		ResultCacheTTL:   cfg.ResultCacheTTL,
		SearchPaceDelay:  cfg.SearchPaceDelay,
		LearningWindow:   cfg.LearningWindow,
		LearningMinScore: cfg.LearningMinScore,
	})

	// 创建HTTP服务器
	server := servers.NewHTTPServer(pipeline, store)
	go func() {
		server.Start()
	}()

	if telegram.GlobalTelegramClient != nil {
		telegram.GlobalTelegramClient.SendServiceStatus("running", "图表分析助手启动完成")
	}
	logrus.Info("图表分析助手启动完成!")

	// 优雅关闭
	gracefulShutdown()
}

// gracefulShutdown 优雅关闭
func gracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭图表分析助手...")

	// 停止HTTP服务器 (当前实现没有优雅关闭，直接退出)
	logrus.Info("HTTP服务器将随程序退出关闭")

	// 发送服务完全停止的Telegram通知
	if telegram.GlobalTelegramClient != nil {
		if err := telegram.GlobalTelegramClient.SendServiceStatus("stopped", "图表分析助手已关闭"); err != nil {
			logrus.Errorf("发送关闭完成通知失败: %v", err)
		}
	}

	logrus.Info("图表分析助手已关闭")
}
