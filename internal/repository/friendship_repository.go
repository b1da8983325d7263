package repository

import (
	"context"
	"errors"
	"time"

	"sns-system/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendshipRepository 好友关系数据仓储
// 所有状态迁移都是带匹配条件的单行写入，由 RowsAffected 判断是否命中，
// 不做先读后写，重复并发调用时只有一次能生效
type FriendshipRepository struct {
	orm *gorm.DB
}

// NewFriendshipRepository 创建FriendshipRepository实例
func NewFriendshipRepository(orm *gorm.DB) *FriendshipRepository {
	return &FriendshipRepository{orm: orm}
}

// WithTx 返回绑定到事务的仓储
func (r *FriendshipRepository) WithTx(tx *gorm.DB) *FriendshipRepository {
	return &FriendshipRepository{orm: tx}
}

// Get 获取两个用户之间的关系，不存在返回 nil
func (r *FriendshipRepository) Get(ctx context.Context, a, b uint) (*model.Friendship, error) {
	low, high := model.OrderedPair(a, b)
	var f model.Friendship
	err := r.orm.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetLocked 在事务内加锁读取关系行，读到的是最新提交的状态而不是事务快照
// 条件写入未命中后用它判断失败原因（SQLite 驱动忽略行锁子句）
func (r *FriendshipRepository) GetLocked(ctx context.Context, a, b uint) (*model.Friendship, error) {
	var f model.Friendship
	if err := r.lockedPair(ctx, a, b).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *FriendshipRepository) lockedPair(ctx context.Context, a, b uint) *gorm.DB {
	low, high := model.OrderedPair(a, b)
	return r.orm.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("user_low_id = ? AND user_high_id = ?", low, high)
}

// CreatePending 条件插入待处理请求；该用户对已有任何关系时不插入，返回 false
func (r *FriendshipRepository) CreatePending(ctx context.Context, requesterID, targetID uint, at time.Time) (bool, error) {
	low, high := model.OrderedPair(requesterID, targetID)
	f := &model.Friendship{
		UserLowID:   low,
		UserHighID:  high,
		RequesterID: requesterID,
		Status:      model.FriendshipPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	result := r.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
			DoNothing: true,
		}).
		Create(f)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeletePending 删除 requester 发给 target 的待处理请求
func (r *FriendshipRepository) DeletePending(ctx context.Context, requesterID, targetID uint) (bool, error) {
	low, high := model.OrderedPair(requesterID, targetID)
	result := r.orm.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ? AND requester_id = ? AND status = ?",
			low, high, requesterID, model.FriendshipPending).
		Delete(&model.Friendship{})
	return result.RowsAffected == 1, result.Error
}

// AcceptPending 将 requester 发给 accepter 的待处理请求置为好友
func (r *FriendshipRepository) AcceptPending(ctx context.Context, requesterID, accepterID uint, at time.Time) (bool, error) {
	low, high := model.OrderedPair(requesterID, accepterID)
	result := r.orm.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_low_id = ? AND user_high_id = ? AND requester_id = ? AND status = ?",
			low, high, requesterID, model.FriendshipPending).
		Updates(map[string]interface{}{
			"status":      model.FriendshipAccepted,
			"accepted_at": at,
			"updated_at":  at,
		})
	return result.RowsAffected == 1, result.Error
}

// DeleteAccepted 解除好友关系
func (r *FriendshipRepository) DeleteAccepted(ctx context.Context, a, b uint) (bool, error) {
	low, high := model.OrderedPair(a, b)
	result := r.orm.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", low, high, model.FriendshipAccepted).
		Delete(&model.Friendship{})
	return result.RowsAffected == 1, result.Error
}

// FriendIDs 获取用户的好友ID
func (r *FriendshipRepository) FriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	var rows []model.Friendship
	err := r.orm.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ?", userID, userID, model.FriendshipAccepted).
		Order("accepted_at DESC").
		Find(&rows).Error
	return counterparts(rows, userID), err
}

// SentRequestIDs 获取用户已发送、对方尚未处理的请求
func (r *FriendshipRepository) SentRequestIDs(ctx context.Context, userID uint) ([]uint, error) {
	var rows []model.Friendship
	err := r.orm.WithContext(ctx).
		Where("requester_id = ? AND status = ?", userID, model.FriendshipPending).
		Order("created_at DESC").
		Find(&rows).Error
	return counterparts(rows, userID), err
}

// ReceivedRequestIDs 获取用户收到的待处理请求
func (r *FriendshipRepository) ReceivedRequestIDs(ctx context.Context, userID uint) ([]uint, error) {
	var rows []model.Friendship
	err := r.orm.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND requester_id <> ? AND status = ?",
			userID, userID, userID, model.FriendshipPending).
		Order("created_at DESC").
		Find(&rows).Error
	return counterparts(rows, userID), err
}

func counterparts(rows []model.Friendship, userID uint) []uint {
	ids := make([]uint, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].Counterpart(userID))
	}
	return ids
}
