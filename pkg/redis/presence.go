package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 默认在线状态配置
const (
	DefaultPresencePrefix = "sns:presence:"
	DefaultPresenceTTL    = 2 * time.Minute // 2倍心跳周期
)

// 注册：先清理用户旧连接和连接旧用户的映射，再写入双向映射
// KEYS[1]=user key KEYS[2]=conn key
// ARGV[1]=connID ARGV[2]=userID ARGV[3]=ttl(ms) ARGV[4]=user前缀 ARGV[5]=conn前缀
var registerScript = redis.NewScript(`
local oldConn = redis.call('GET', KEYS[1])
if oldConn and oldConn ~= ARGV[1] then
	local owner = redis.call('GET', ARGV[5] .. oldConn)
	if owner == ARGV[2] then
		redis.call('DEL', ARGV[5] .. oldConn)
	end
end
local oldUser = redis.call('GET', KEYS[2])
if oldUser and oldUser ~= ARGV[2] then
	local userKey = ARGV[4] .. oldUser
	if redis.call('GET', userKey) == ARGV[1] then
		redis.call('DEL', userKey)
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// 注销：按反向映射找到用户，只有用户仍指向该连接时才删除正向映射
// KEYS[1]=conn key ARGV[1]=connID ARGV[2]=user前缀
var unregisterScript = redis.NewScript(`
local userID = redis.call('GET', KEYS[1])
if not userID then
	return 0
end
redis.call('DEL', KEYS[1])
local userKey = ARGV[2] .. userID
if redis.call('GET', userKey) == ARGV[1] then
	redis.call('DEL', userKey)
end
return 1
`)

// 续期：映射仍属于该连接时延长TTL；映射已过期则重建；已被新连接取代返回 0
// KEYS[1]=user key KEYS[2]=conn key ARGV[1]=connID ARGV[2]=userID ARGV[3]=ttl(ms)
var refreshScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// PresenceRegistry 在线状态注册表，userID <-> connID 双向映射
// 同一用户只保留最近一次注册的连接，映射依赖心跳续期，进程异常退出后自动过期
type PresenceRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPresenceRegistry 创建PresenceRegistry实例
func NewPresenceRegistry(client *redis.Client, prefix string, ttl time.Duration) *PresenceRegistry {
	if prefix == "" {
		prefix = DefaultPresencePrefix
	}
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (p *PresenceRegistry) userPrefix() string { return p.prefix + "user:" }
func (p *PresenceRegistry) connPrefix() string { return p.prefix + "conn:" }

func (p *PresenceRegistry) userKey(userID uint) string {
	return p.userPrefix() + strconv.FormatUint(uint64(userID), 10)
}

func (p *PresenceRegistry) connKey(connID string) string {
	return p.connPrefix() + connID
}

// Register 注册连接，覆盖该用户与该连接上的旧映射
func (p *PresenceRegistry) Register(ctx context.Context, userID uint, connID string) error {
	if userID == 0 || connID == "" {
		return fmt.Errorf("注册在线状态参数无效: user=%d conn=%q", userID, connID)
	}
	err := registerScript.Run(ctx, p.client,
		[]string{p.userKey(userID), p.connKey(connID)},
		connID, userID, p.ttl.Milliseconds(), p.userPrefix(), p.connPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("注册在线状态失败: %w", err)
	}
	return nil
}

// Unregister 注销连接；连接未注册时为空操作
func (p *PresenceRegistry) Unregister(ctx context.Context, connID string) error {
	if connID == "" {
		return nil
	}
	err := unregisterScript.Run(ctx, p.client,
		[]string{p.connKey(connID)},
		connID, p.userPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("注销在线状态失败: %w", err)
	}
	return nil
}

// Lookup 查询用户当前连接
func (p *PresenceRegistry) Lookup(ctx context.Context, userID uint) (string, bool, error) {
	connID, err := p.client.Get(ctx, p.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("查询在线状态失败: %w", err)
	}
	return connID, true, nil
}

// Owner 查询连接所属用户
func (p *PresenceRegistry) Owner(ctx context.Context, connID string) (uint, bool, error) {
	v, err := p.client.Get(ctx, p.connKey(connID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("查询连接归属失败: %w", err)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("解析连接归属失败: %w", err)
	}
	return uint(id), true, nil
}

// Refresh 心跳续期；返回 false 表示该连接已被同一用户的新连接取代
func (p *PresenceRegistry) Refresh(ctx context.Context, userID uint, connID string) (bool, error) {
	n, err := refreshScript.Run(ctx, p.client,
		[]string{p.userKey(userID), p.connKey(connID)},
		connID, userID, p.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("刷新在线状态失败: %w", err)
	}
	return n == 1, nil
}
