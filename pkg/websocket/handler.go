package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sns-system/config"
	"sns-system/pkg/jwt"
	"sns-system/pkg/logger"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 客户端上行消息类型
const (
	FrameHeartbeat  = "heartbeat"
	FrameAckRead    = "ack_read"
	FrameSuperseded = "superseded" // 下行：连接已被同一用户的新连接取代
)

// TokenValidator 校验连接令牌
type TokenValidator interface {
	ValidateToken(token string) (*jwt.CustomClaims, error)
}

// ConnectionHooks 连接生命周期回调
type ConnectionHooks interface {
	RegisterConnection(ctx context.Context, userID uint, connID string) error
	UnregisterConnection(ctx context.Context, connID string) error
	Heartbeat(ctx context.Context, userID uint, connID string) (bool, error)
}

// ReadMarker 处理客户端的已读回执
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, notificationID uint) error
}

// inbound 客户端上行消息
type inbound struct {
	Type           string      `json:"type"`
	NotificationID json.Number `json:"notification_id"`
}

// Handler WebSocket接入
type Handler struct {
	manager  *Manager
	tokens   TokenValidator
	hooks    ConnectionHooks
	reads    ReadMarker
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewHandler 创建WebSocket处理器，reads 可为 nil
func NewHandler(manager *Manager, tokens TokenValidator, hooks ConnectionHooks, reads ReadMarker, cfg config.WebSocketConfig) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Handler{
		manager: manager,
		tokens:  tokens,
		hooks:   hooks,
		reads:   reads,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许跨域
			},
		},
	}
}

// Serve Gin路由处理函数
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Unauthorized(c, "token无效")
		return
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		logger.Warn("WebSocket升级失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, h.cfg.SendBuffer),
	}
	h.manager.Add(client)
	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(client)
	}()

	ctx := context.WithoutCancel(c.Request.Context())
	defer func() {
		// 关闭发送通道后等待写协程把剩余消息发完
		h.manager.Remove(client.ID)
		<-written
		if err := h.hooks.UnregisterConnection(ctx, client.ID); err != nil {
			logger.Warn("注销在线状态失败", zap.String("conn_id", client.ID), zap.Error(err))
		}
		_ = conn.Close()
	}()

	if err := h.hooks.RegisterConnection(ctx, userID, client.ID); err != nil {
		logger.Error("注册在线状态失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	h.readPump(ctx, client)
}

// writePump 写协程：转发发送通道并定时发送ping
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				_ = client.Conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			_ = client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// readPump 读协程（接收心跳/已读回执）。若超时未收到任何读事件则断开
func (h *Handler) readPump(ctx context.Context, client *Client) {
	conn := client.Conn
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var msg inbound
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case FrameHeartbeat:
			current, err := h.hooks.Heartbeat(ctx, client.UserID, client.ID)
			if err != nil {
				logger.Warn("刷新在线状态失败", zap.String("conn_id", client.ID), zap.Error(err))
				continue
			}
			if !current {
				_ = h.manager.Emit(ctx, client.ID, FrameSuperseded, nil)
				return
			}
		case FrameAckRead:
			h.ackRead(ctx, client, msg.NotificationID)
		}
	}
}

func (h *Handler) ackRead(ctx context.Context, client *Client, raw json.Number) {
	if h.reads == nil {
		return
	}
	id, err := strconv.ParseUint(raw.String(), 10, 64)
	if err != nil || id == 0 {
		return
	}
	if err := h.reads.MarkRead(ctx, client.UserID, uint(id)); err != nil {
		logger.Debug("已读回执处理失败",
			zap.Uint("user_id", client.UserID),
			zap.Uint64("notification_id", id),
			zap.Error(err),
		)
	}
}
