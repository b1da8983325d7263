package service

import "context"

// PresenceLookup 查询用户当前的实时连接
type PresenceLookup interface {
	Lookup(ctx context.Context, userID uint) (connID string, ok bool, err error)
}

// PresenceRegistry 在线状态注册表：userID <-> connID 双向映射
type PresenceRegistry interface {
	PresenceLookup
	Register(ctx context.Context, userID uint, connID string) error
	Unregister(ctx context.Context, connID string) error
	Refresh(ctx context.Context, userID uint, connID string) (bool, error)
}

// Pusher 向指定连接推送事件
type Pusher interface {
	Emit(ctx context.Context, connID, event string, payload interface{}) error
}

// UnreadCache 未读数缓存
// 回源前取 Generation，写回时代数已被 Invalidate 改变则放弃写入
type UnreadCache interface {
	Get(ctx context.Context, userID uint) (int64, bool, error)
	Generation(ctx context.Context, userID uint) (int64, error)
	SetIfUnchanged(ctx context.Context, userID uint, count, generation int64) (bool, error)
	Invalidate(ctx context.Context, userID uint) error
}
