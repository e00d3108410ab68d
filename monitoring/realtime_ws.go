package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType 消息类型
type MessageType string

const (
	AssessmentEvent MessageType = "assessment"
	ModelReload     MessageType = "model_reload"
	Heartbeat       MessageType = "heartbeat"
)

const (
	writeWait         = 10 * time.Second
	pingInterval      = 30 * time.Second
	heartbeatInterval = 30 * time.Second
	sendBuffer        = 64
)

var ErrHubStopped = errors.New("websocket hub is stopped")

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// ClientMessage 客户端发来的订阅消息
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.Mutex
	subscriptions map[MessageType]bool // 为空表示接收全部
}

type outbound struct {
	msgType MessageType
	payload []byte
}

// Hub WebSocket中心，唯一的 goroutine 持有客户端集合
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	metrics    *Metrics
	heartbeat  time.Duration
}

// NewHub 创建WebSocket中心
func NewHub(logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		metrics:   metrics,
		heartbeat: heartbeatInterval,
	}
}

// Run 运行WebSocket中心直到 Stop，并定时向客户端发送心跳
func (h *Hub) Run() {
	heartbeat := time.NewTicker(h.heartbeat)
	defer func() {
		heartbeat.Stop()
		h.logger.Debug("websocket hub stopped")
	}()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.setClients(n)
			h.logger.Debug("client connected", zap.String("client", client.clientID), zap.Int("total", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.setClients(n)
			h.logger.Debug("client disconnected", zap.String("client", client.clientID), zap.Int("total", n))

		case msg := <-h.broadcast:
			h.fanout(msg)

		case <-heartbeat.C:
			n := h.ClientCount()
			if n == 0 {
				continue
			}
			msg, err := encode(Heartbeat, map[string]int{"clients": n})
			if err != nil {
				h.logger.Warn("failed to encode heartbeat", zap.Error(err))
				continue
			}
			h.fanout(msg)

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.metrics.setClients(0)
			return
		}
	}
}

// fanout 把消息投递给订阅了该类型的客户端
func (h *Hub) fanout(msg outbound) {
	h.mu.Lock()
	for client := range h.clients {
		if !client.wants(msg.msgType) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			// 慢客户端直接断开
			close(client.send)
			delete(h.clients, client)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.setClients(n)
}

// Stop 停止WebSocket中心
func (h *Hub) Stop() {
	h.cancel()
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 序列化并广播一条消息
func (h *Hub) Publish(msgType MessageType, data interface{}) error {
	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	msg, err := encode(msgType, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue is full, dropping message", zap.String("type", string(msgType)))
	}
	return nil
}

func encode(msgType MessageType, data interface{}) (outbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return outbound{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return outbound{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return outbound{msgType: msgType, payload: payload}, nil
}

// HandleWebSocket 处理WebSocket连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

func (c *Client) wants(msgType MessageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[msgType]
}

// writePump WebSocket写入泵
func (c *Client) writePump(logger *zap.Logger) {
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
				logger.Debug("websocket write failed", zap.String("client", c.clientID), zap.Error(err))
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

// readPump WebSocket读取泵
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid client message", zap.String("client", c.clientID), zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理订阅与取消订阅
func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case "subscribe":
		c.subscriptions[MessageType(msg.Topic)] = true
	case "unsubscribe":
		delete(c.subscriptions, MessageType(msg.Topic))
	}
}
