package telegram

import (
	"fmt"
	"strings"
	"time"

	"chart_analyst/models"
	"chart_analyst/pkg/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	MaxMessageLength = 4096 // Telegram单条消息最大长度
)

type TelegramClient struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var GlobalTelegramClient *TelegramClient

// InitTelegram 初始化Telegram通知客户端，未配置token时跳过
func InitTelegram() error {
	if config.GlobalConfig.TelegramBotToken == "" || config.GlobalConfig.TelegramChatID == 0 {
		logrus.Info("未配置Telegram，通知功能关闭")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(config.GlobalConfig.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram初始化失败: %v", err)
	}

	GlobalTelegramClient = &TelegramClient{
		bot:    bot,
		chatID: config.GlobalConfig.TelegramChatID,
	}

	logrus.Infof("Telegram通知已启用: @%s", bot.Self.UserName)
	return nil
}

// SendMessage 发送消息，超长时截断
func (t *TelegramClient) SendMessage(text string) error {
	if t == nil || t.bot == nil {
		return fmt.Errorf("Telegram客户端未初始化")
	}
	if len(text) > MaxMessageLength {
		text = text[:MaxMessageLength-3] + "..."
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	_, err := t.bot.Send(msg)
	return err
}

// SendServiceStatus 发送服务状态通知
func (t *TelegramClient) SendServiceStatus(status, detail string) error {
	icon := "✅"
	switch status {
	case "error":
		icon = "❌"
	case "stopped":
		icon = "🛑"
	}
	return t.SendMessage(fmt.Sprintf("%s 图表分析服务: %s\n%s\n时间: %s",
		icon, status, detail, time.Now().Format("2006-01-02 15:04:05")))
}

// NotifyProviderExhausted 模型尝试耗尽告警
func (t *TelegramClient) NotifyProviderExhausted(variant string, err error) {
	if t == nil {
		return
	}
	message := fmt.Sprintf("⚠️ 模型调用尝试耗尽\n变体: %s\n错误: %v", variant, err)
	if sendErr := t.SendMessage(message); sendErr != nil {
		logrus.Errorf("发送模型耗尽告警失败: %v", sendErr)
	}
}

// NotifyAnalysis 推送一条完成的分析摘要
func (t *TelegramClient) NotifyAnalysis(outcome *models.AnalysisOutcome) {
	if t == nil || outcome == nil || outcome.Result == nil {
		return
	}

	result := outcome.Result
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 %s %s（置信度%.0f）\n",
		result.MarketContext.Symbol, result.Signal.Action, result.Signal.Confidence))
	if len(result.ChartAnalysis.DetectedPatterns) > 0 {
		b.WriteString("形态: " + strings.Join(result.ChartAnalysis.DetectedPatterns, ", ") + "\n")
	}
	b.WriteString(fmt.Sprintf("变体: %s, 耗时: %v", outcome.Meta.VariantUsed, outcome.Meta.Latency.Round(time.Millisecond)))
	if outcome.Meta.Enriched {
		b.WriteString(", 已增强")
	}

	if err := t.SendMessage(b.String()); err != nil {
		logrus.Errorf("发送分析通知失败: %v", err)
	}
}
