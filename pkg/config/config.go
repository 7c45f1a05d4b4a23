package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL配置（训练语料库）
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDB       string

	// 服务配置
	LogLevel string
	Port     string

	// 认证配置
	AdminUsername string // 管理员用户名
	AdminPassword string // 管理员密码
	JWTSecret     string // JWT密钥

	// 生成模型配置
	GeminiAPIKey     string        // 模型API密钥
	GeminiBaseURL    string        // 模型API基础URL
	PreferredVariant string        // 首选模型变体
	FallbackVariant  string        // 过载降级模型变体
	ModelCallTimeout time.Duration // 单次模型调用超时
	BatchMaxAttempts int           // 多图路径最大尝试次数
	BatchBackoffBase time.Duration // 多图路径退避基准时间

	// 搜索配置
	SearchAPIKey    string        // 搜索API密钥
	SearchBaseURL   string        // 搜索API基础URL
	SearchPaceDelay time.Duration // 搜索调用之间的间隔
	SearchTimeout   time.Duration // 单次搜索调用超时

	// 分析配置
	MaxImageSize     int64         // 图片大小上限（字节）
	DailyQuota       int           // 每用户每日分析配额
	ResultCacheTTL   time.Duration // 同指纹结果缓存时间
	LearningWindow   time.Duration // 学习上下文采样时间窗口
	LearningMinScore int           // 学习上下文最低评分

	// Telegram通知配置
	TelegramBotToken string
	TelegramChatID   int64
}

var GlobalConfig *Config

func LoadConfig() {
	// 加载.env文件
	if err := godotenv.Load(); err != nil {
		logrus.Warn("未找到.env文件，使用环境变量")
	}

	GlobalConfig = &Config{
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDB:       getEnv("MYSQL_DB", "chart_analyst"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", "b7e2d9f4a1c8e5b2d9f6a3c0e7b4d1f8a5c2e9b6d3f0a7c4e1b8d5f2a9c6e3b0"),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		PreferredVariant: getEnv("MODEL_PREFERRED_VARIANT", "gemini-2.0-flash"),
		FallbackVariant:  getEnv("MODEL_FALLBACK_VARIANT", "gemini-1.5-flash"),
		ModelCallTimeout: getEnvDuration("MODEL_CALL_TIMEOUT", "45s"),
		BatchMaxAttempts: getEnvInt("BATCH_MAX_ATTEMPTS", 3),
		BatchBackoffBase: getEnvDuration("BATCH_BACKOFF_BASE", "2s"),

		SearchAPIKey:    getEnv("SEARCH_API_KEY", ""),
		SearchBaseURL:   getEnv("SEARCH_BASE_URL", "https://google.serper.dev"),
		SearchPaceDelay: getEnvDuration("SEARCH_PACE_DELAY", "500ms"),
		SearchTimeout:   getEnvDuration("SEARCH_TIMEOUT", "30s"),

		MaxImageSize:     int64(getEnvInt("MAX_IMAGE_SIZE", 10*1024*1024)), // 默认10MB
		DailyQuota:       getEnvInt("DAILY_QUOTA", 50),
		ResultCacheTTL:   getEnvDuration("RESULT_CACHE_TTL", "1h"),
		LearningWindow:   getEnvDuration("LEARNING_WINDOW", "720h"), // 默认30天
		LearningMinScore: getEnvInt("LEARNING_MIN_SCORE", 4),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
	}

	// 设置日志级别
	level, err := logrus.ParseLevel(GlobalConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.Info("配置加载完成")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("无法解析环境变量 %s 的时间间隔值: %s，使用默认值: %s", key, value, defaultValue)
	}

	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}

	logrus.Errorf("无法解析默认时间间隔值: %s，使用30秒", defaultValue)
	return 30 * time.Second
}
