package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sns-system/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPushChannel 跨进程推送频道
const DefaultPushChannel = "sns:push"

// ErrNoSubscribers 没有任何进程订阅推送频道
var ErrNoSubscribers = errors.New("no push subscribers")

// PushEnvelope 推送消息在频道上的格式
type PushEnvelope struct {
	ConnID  string          `json:"conn_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PushHandler 本进程处理一条推送
type PushHandler func(ctx context.Context, env PushEnvelope) error

// PushRelay 通过 Redis 发布订阅把推送转发到持有该连接的进程
type PushRelay struct {
	client  *redis.Client
	channel string
}

// NewPushRelay 创建PushRelay实例
func NewPushRelay(client *redis.Client, channel string) *PushRelay {
	if channel == "" {
		channel = DefaultPushChannel
	}
	return &PushRelay{client: client, channel: channel}
}

// Emit 发布一条推送
func (r *PushRelay) Emit(ctx context.Context, connID, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化推送内容失败: %w", err)
	}
	data, err := json.Marshal(PushEnvelope{ConnID: connID, Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("序列化推送消息失败: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return fmt.Errorf("发布推送失败: %w", err)
	}
	if receivers == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// Run 订阅推送频道并交给 handler 处理，直到 ctx 取消
// 不属于本进程的连接由 handler 忽略
func (r *PushRelay) Run(ctx context.Context, handler PushHandler) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// 等待订阅确认，保证返回前的发布都能收到
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅推送频道失败: %w", err)
	}
	logger.Info("推送频道已订阅", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env PushEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("推送消息格式错误", zap.Error(err))
				continue
			}
			if err := handler(ctx, env); err != nil {
				logger.Debug("推送未在本进程投递",
					zap.String("conn_id", env.ConnID),
					zap.String("event", env.Event),
					zap.Error(err),
				)
			}
		}
	}
}
