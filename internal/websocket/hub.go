// Package websocket 向队伍前端实时推送新邮件事件。
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tourney/backend/internal/auth/jwt"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/middleware"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType       `json:"type"`
	TeamID    string            `json:"teamId,omitempty"`
	Data      *domain.MailEvent `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接，只订阅一支队伍
type Client struct {
	ID     string
	TeamID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	mu     sync.Mutex
	closed bool
}

type broadcastMessage struct {
	teamID string
	data   []byte
}

// Hub 管理所有WebSocket连接
type Hub struct {
	teams          map[string]map[string]*Client // teamID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan broadcastMessage
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	jwt            *jwt.Manager
}

// NewHub 创建WebSocket Hub。allowedOrigins 为空时允许所有来源。
func NewHub(allowedOrigins []string, manager *jwt.Manager, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		teams:          make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan broadcastMessage, 256),
		done:           make(chan struct{}),
		log:            log.Named("websocket"),
		allowedOrigins: allowedOrigins,
		jwt:            manager,
	}
}

// Run 启动Hub，ctx 取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.teams[client.TeamID] == nil {
				h.teams[client.TeamID] = make(map[string]*Client)
			}
			h.teams[client.TeamID][client.ID] = client
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("team_id", client.TeamID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.teams[client.TeamID]; ok {
				delete(clients, client.ID)
				client.shutdown()
				if len(clients) == 0 {
					delete(h.teams, client.TeamID)
				}
			}
			h.mu.Unlock()
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case msg := <-h.broadcast:
			h.broadcastToTeam(msg)
		}
	}
}

// NotifyNewMail 把新邮件事件推送给订阅该队伍的客户端，不阻塞调用方
func (h *Hub) NotifyNewMail(_ context.Context, event domain.MailEvent) {
	data, err := json.Marshal(&Message{
		Type:      MessageTypeNewMail,
		TeamID:    event.TeamID,
		Data:      &event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal new mail event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcastMessage{teamID: event.TeamID, data: data}:
	default:
		h.log.Warn("broadcast queue full, event dropped",
			zap.String("team_id", event.TeamID),
			zap.String("conversation_id", event.ConversationID))
	}
}

// ClientCount 返回订阅指定队伍的连接数
func (h *Hub) ClientCount(teamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.teams[teamID])
}

func (h *Hub) broadcastToTeam(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.teams[msg.teamID] {
		if !client.deliver(msg.data) {
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.teams {
		for _, client := range clients {
			client.shutdown()
		}
	}
	h.teams = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理 /ws/teams/:teamId 连接。令牌放在 token 查询参数或 Authorization 头。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		teamID := c.Param("teamId")

		claims, err := hub.jwt.ValidateToken(middleware.ExtractBearer(c))
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "需要登录认证"})
			return
		}
		if !claims.CanAccessTeam(teamID) {
			c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "msg": "权限不足"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			TeamID: teamID,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			hub:    hub,
		}
		client.enqueue(&Message{Type: MessageTypeSubscribed, TeamID: teamID, Timestamp: time.Now().UTC()})

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息，连接断开时注销
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MessageTypePing:
			c.enqueue(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
		case MessageTypePong:
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		default:
			c.enqueue(&Message{Type: MessageTypeError, Error: "unsupported message type", Timestamp: time.Now().UTC()})
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
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

func (c *Client) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.deliver(data)
}

// deliver 非阻塞写入发送队列，连接已关闭或队列已满时返回 false
func (c *Client) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
