package service

import (
	"context"

	"sns-system/pkg/logger"

	"go.uber.org/zap"
)

// ConnectionService 实时连接生命周期：注册在线状态、心跳续期、断开清理
type ConnectionService struct {
	presence PresenceRegistry
	notifier *Notifier
}

// NewConnectionService 创建ConnectionService实例
func NewConnectionService(presence PresenceRegistry, notifier *Notifier) *ConnectionService {
	return &ConnectionService{
		presence: presence,
		notifier: notifier,
	}
}

// RegisterConnection 注册连接，覆盖该用户之前的连接，并立即推送一次未读数
func (s *ConnectionService) RegisterConnection(ctx context.Context, userID uint, connID string) error {
	if err := s.presence.Register(ctx, userID, connID); err != nil {
		return err
	}
	logger.Info("用户上线", zap.Uint("user_id", userID), zap.String("conn_id", connID))

	s.notifier.Notify(ctx, userID)
	return nil
}

// UnregisterConnection 注销连接；未知连接为空操作
func (s *ConnectionService) UnregisterConnection(ctx context.Context, connID string) error {
	if err := s.presence.Unregister(ctx, connID); err != nil {
		return err
	}
	logger.Info("连接已断开", zap.String("conn_id", connID))
	return nil
}

// Heartbeat 续期在线状态；返回 false 表示该连接已被新连接取代
func (s *ConnectionService) Heartbeat(ctx context.Context, userID uint, connID string) (bool, error) {
	return s.presence.Refresh(ctx, userID, connID)
}
