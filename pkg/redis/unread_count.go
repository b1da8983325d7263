package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 未读通知计数缓存相关常量
const (
	UnreadCountKeyPrefix      = "sns:unread:"
	UnreadGenerationKeyPrefix = "sns:unread:gen:"
	DefaultUnreadTTL          = time.Minute
	unreadGenerationTTL       = 24 * time.Hour
)

// 条件写入：代数与读取数据库前一致时才写入计数
// KEYS[1]=count key KEYS[2]=gen key ARGV[1]=count ARGV[2]=读取时的代数 ARGV[3]=ttl(ms)
var setIfUnchangedScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// 清除：代数加一并删除计数，使进行中的旧读取无法回写
// KEYS[1]=count key KEYS[2]=gen key ARGV[1]=代数ttl(ms)
var invalidateScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
local gen = redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return gen
`)

// UnreadCache 未读通知数缓存（旁路缓存，通知变化时清除）
// 每次清除递增代数，回写时比较代数，避免并发变更后写回旧值
type UnreadCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewUnreadCache 创建UnreadCache实例
func NewUnreadCache(client *redis.Client, ttl time.Duration) *UnreadCache {
	if ttl <= 0 {
		ttl = DefaultUnreadTTL
	}
	return &UnreadCache{client: client, ttl: ttl}
}

func unreadKey(userID uint) string {
	return UnreadCountKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func unreadGenKey(userID uint) string {
	return UnreadGenerationKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// Get 获取缓存的未读数，未命中时 ok 为 false
func (c *UnreadCache) Get(ctx context.Context, userID uint) (int64, bool, error) {
	count, err := c.client.Get(ctx, unreadKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("获取未读数缓存失败: %w", err)
	}
	return count, true, nil
}

// Generation 获取当前代数，回源读取前调用
func (c *UnreadCache) Generation(ctx context.Context, userID uint) (int64, error) {
	gen, err := c.client.Get(ctx, unreadGenKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("获取未读数代数失败: %w", err)
	}
	return gen, nil
}

// SetIfUnchanged 代数未变化时写入未读数，返回是否写入
func (c *UnreadCache) SetIfUnchanged(ctx context.Context, userID uint, count, generation int64) (bool, error) {
	n, err := setIfUnchangedScript.Run(ctx, c.client,
		[]string{unreadKey(userID), unreadGenKey(userID)},
		count, generation, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("设置未读数缓存失败: %w", err)
	}
	return n == 1, nil
}

// Invalidate 清除未读数缓存
func (c *UnreadCache) Invalidate(ctx context.Context, userID uint) error {
	err := invalidateScript.Run(ctx, c.client,
		[]string{unreadKey(userID), unreadGenKey(userID)},
		unreadGenerationTTL.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("清除未读数缓存失败: %w", err)
	}
	return nil
}
