package service

import (
	"context"
	"fmt"
	"time"

	"sns-system/pkg/logger"

	"go.uber.org/zap"
)

// EventUnreadNotifications 未读通知数推送事件名
const EventUnreadNotifications = "unread_notifications"

// UnreadCounter 未读数来源
type UnreadCounter interface {
	CountUnread(ctx context.Context, userID uint) (int64, error)
}

// Notifier 重新计算未读数并推送到用户当前连接
// 推送只尝试一次，失败记录日志后丢弃，客户端下次拉取时对齐
type Notifier struct {
	counter  UnreadCounter
	presence PresenceLookup
	pusher   Pusher
	cache    UnreadCache
	timeout  time.Duration
}

// NewNotifier 创建Notifier实例，cache 可为 nil
func NewNotifier(counter UnreadCounter, presence PresenceLookup, pusher Pusher, cache UnreadCache, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Notifier{
		counter:  counter,
		presence: presence,
		pusher:   pusher,
		cache:    cache,
		timeout:  timeout,
	}
}

// Notify 推送最新未读数，不返回错误
func (n *Notifier) Notify(ctx context.Context, userID uint) {
	if n == nil {
		return
	}
	// 与请求生命周期解绑，只受推送超时约束
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.deliver(ctx, userID); err != nil {
		logger.Warn("未读通知推送失败",
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
	}
}

// deliver 执行一次推送；用户离线不算错误
func (n *Notifier) deliver(ctx context.Context, userID uint) error {
	if n.cache != nil {
		if err := n.cache.Invalidate(ctx, userID); err != nil {
			logger.Warn("清除未读数缓存失败", zap.Uint("user_id", userID), zap.Error(err))
		}
	}

	count, err := n.counter.CountUnread(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: count unread: %v", ErrDeliveryFailure, err)
	}

	if n.presence == nil || n.pusher == nil {
		return nil
	}
	connID, ok, err := n.presence.Lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: presence lookup: %v", ErrDeliveryFailure, err)
	}
	if !ok {
		return nil
	}

	payload := map[string]interface{}{
		"count": count,
	}
	if err := n.pusher.Emit(ctx, connID, EventUnreadNotifications, payload); err != nil {
		return fmt.Errorf("%w: emit to %s: %v", ErrDeliveryFailure, connID, err)
	}

	logger.Debug("未读通知已推送",
		zap.Uint("user_id", userID),
		zap.String("conn_id", connID),
		zap.Int64("count", count),
	)
	return nil
}
