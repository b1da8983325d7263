package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sns-system/pkg/redis"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrSendBufferFull     = errors.New("send buffer full")
)

// Client 代表一个WebSocket连接
// ID: 连接ID（每次连接生成）
// UserID: 用户ID
// Conn: WebSocket连接
// Send: 发送消息的通道

type Client struct {
	ID     string
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
}

// Frame 下发给客户端的消息格式
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Manager 管理本进程持有的WebSocket连接，按连接ID索引
// 同一用户的新旧连接在短时间内可能并存，路由以在线状态注册表为准

type Manager struct {
	clients map[string]*Client
	lock    sync.RWMutex
}

// NewManager 创建连接管理器
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
	}
}

// Add 添加新连接
func (m *Manager) Add(client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients[client.ID] = client
}

// Remove 移除连接并关闭发送通道
func (m *Manager) Remove(connID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.clients[connID]; ok {
		close(c.Send)
		delete(m.clients, connID)
	}
}

// Count 当前连接数
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.clients)
}

// Emit 向本进程持有的连接推送事件，不阻塞
func (m *Manager) Emit(_ context.Context, connID, event string, payload interface{}) error {
	data, err := json.Marshal(Frame{Type: event, Data: payload})
	if err != nil {
		return fmt.Errorf("序列化推送消息失败: %w", err)
	}
	return m.send(connID, data)
}

// Deliver 处理推送频道上的消息，连接不在本进程时返回 ErrConnectionNotFound
func (m *Manager) Deliver(_ context.Context, env redis.PushEnvelope) error {
	var data interface{} = env.Payload
	if len(env.Payload) == 0 {
		data = nil
	}
	b, err := json.Marshal(Frame{Type: env.Event, Data: data})
	if err != nil {
		return fmt.Errorf("序列化推送消息失败: %w", err)
	}
	return m.send(env.ConnID, b)
}

func (m *Manager) send(connID string, msg []byte) error {
	// 持有读锁期间 Remove 无法关闭通道
	m.lock.RLock()
	defer m.lock.RUnlock()
	client, ok := m.clients[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	select {
	case client.Send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}
