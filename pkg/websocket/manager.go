package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"msg-gateway/internal/model"
	"msg-gateway/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 代表一个看板WebSocket连接
// ID: 连接ID
// Operator: 登录的运营账号
// Conn: WebSocket连接
// Send: 发送消息的通道

type Client struct {
	ID       string
	Operator string
	Conn     *websocket.Conn
	Send     chan []byte
}

// Manager 管理所有看板连接，消息落库后向全部连接广播

type Manager struct {
	clients map[string]*Client
	lock    sync.RWMutex
}

// Event 推送给看板的事件
type Event struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message"`
}

// NewManager 创建连接管理器
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
	}
}

// AddClient 添加新连接
func (m *Manager) AddClient(client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients[client.ID] = client
}

// RemoveClient 移除连接
func (m *Manager) RemoveClient(id string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.clients[id]; ok {
		close(c.Send)
		delete(m.clients, id)
	}
}

// Count 当前连接数
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.clients)
}

// Broadcast 推送给所有连接，缓冲区满的连接跳过本条
func (m *Manager) Broadcast(msg []byte) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for id, client := range m.clients {
		select {
		case client.Send <- msg:
		default:
			logger.Warn("WebSocket发送缓冲已满，丢弃推送", zap.String("client_id", id))
		}
	}
}

// MessageRecorded 消息事件推送
func (m *Manager) MessageRecorded(ctx context.Context, event string, message *model.Message) {
	if m.Count() == 0 {
		return
	}
	payload, err := json.Marshal(Event{Type: event, Message: message})
	if err != nil {
		logger.Warn("WebSocket事件序列化失败", zap.String("event", event), zap.Error(err))
		return
	}
	m.Broadcast(payload)
}
