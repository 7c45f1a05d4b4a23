package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该检查Origin
		return true
	},
}

// WebSocketManager WebSocket管理器
type WebSocketManager struct {
	hub *Hub
}

// GlobalWebSocketManager 全局WebSocket管理器实例
var GlobalWebSocketManager *WebSocketManager
var once sync.Once

// GetGlobalWebSocketManager 获取全局WebSocket管理器实例
func GetGlobalWebSocketManager() *WebSocketManager {
	once.Do(func() {
		GlobalWebSocketManager = &WebSocketManager{hub: NewHub()}
		go GlobalWebSocketManager.hub.Run()
	})
	return GlobalWebSocketManager
}

// HandleWebSocket 处理WebSocket连接
func (wsm *WebSocketManager) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}

	clientID := fmt.Sprintf("client_%d_%s", time.Now().UnixNano(), c.ClientIP())
	client := NewClient(wsm.hub, conn, clientID)

	wsm.hub.register <- client
	client.StartClient()

	logrus.Infof("WebSocket连接已建立: %s", clientID)
}

// BroadcastAnalysis 广播一条完成的分析结果
func (wsm *WebSocketManager) BroadcastAnalysis(data interface{}) {
	wsm.hub.Broadcast(DataTypeAnalyses, data)
}

// BroadcastStatus 广播服务状态
func (wsm *WebSocketManager) BroadcastStatus(data interface{}) {
	wsm.hub.Broadcast(DataTypeStatus, data)
}

// GetStats 获取WebSocket统计信息
func (wsm *WebSocketManager) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"clients": wsm.hub.ClientCount(),
	})
}
