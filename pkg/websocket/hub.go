package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message WebSocket消息格式
type Message struct {
	Type      string      `json:"type"`      // message, ping, pong, error
	DataType  string      `json:"dataType"`  // analyses, status
	Data      interface{} `json:"data"`      // 实际数据
	Timestamp int64       `json:"timestamp"` // 时间戳
}

const (
	// 消息类型
	MessageTypeMessage = "message"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"

	// 数据类型
	DataTypeAnalyses = "analyses" // 完成的分析结果
	DataTypeStatus   = "status"   // 服务状态

	// 时间常量
	writeWait      = 10 * time.Second    // 写入等待时间
	pongWait       = 60 * time.Second    // Pong等待时间
	pingPeriod     = (pongWait * 9) / 10 // Ping发送周期
	maxMessageSize = 512                 // 最大消息大小
)

// Hub 维护活跃的客户端集合并向客户端广播完成的分析
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	clientsMutex sync.RWMutex
}

// Client 单个WebSocket客户端
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// NewHub 创建新的Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run 启动Hub事件循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client] = true
			h.clientsMutex.Unlock()
			logrus.Debugf("WebSocket客户端注册: %s", client.id)

		case client := <-h.unregister:
			h.clientsMutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientsMutex.Unlock()
			logrus.Debugf("WebSocket客户端注销: %s", client.id)

		case message := <-h.broadcast:
			var stale []*Client
			h.clientsMutex.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 发送缓冲已满的客户端直接丢弃
					stale = append(stale, client)
				}
			}
			h.clientsMutex.RUnlock()

			if len(stale) > 0 {
				h.clientsMutex.Lock()
				for _, client := range stale {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.clientsMutex.Unlock()
			}
		}
	}
}

// Broadcast 向所有客户端广播一条消息
func (h *Hub) Broadcast(dataType string, data interface{}) {
	payload, err := json.Marshal(&Message{
		Type:      MessageTypeMessage,
		DataType:  dataType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logrus.Errorf("序列化WebSocket消息失败: %v", err)
		return
	}
	h.broadcast <- payload
}

// ClientCount 当前连接的客户端数量
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 16),
		id:   id,
	}
}

// StartClient 启动客户端的读写循环
func (c *Client) StartClient() {
	go c.writePump()
	go c.readPump()
}

// readPump 读取客户端消息，只处理ping，其余忽略
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Warnf("WebSocket客户端 %s 异常断开: %v", c.id, err)
			}
			return
		}

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			continue
		}
		if message.Type == MessageTypePing {
			pong, _ := json.Marshal(&Message{Type: MessageTypePong, Timestamp: time.Now().UnixMilli()})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// writePump 向客户端写出消息并维持心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
