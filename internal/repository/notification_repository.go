package repository

import (
	"context"
	"errors"
	"time"

	"sns-system/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 至少有一个贡献者的通知才计入未读和列表
const hasContributors = "EXISTS (SELECT 1 FROM notification_contributor nc WHERE nc.notification_id = notification.id)"

// NotificationRepository 通知数据仓储
type NotificationRepository struct {
	orm *gorm.DB
}

// NewNotificationRepository 创建NotificationRepository实例
func NewNotificationRepository(orm *gorm.DB) *NotificationRepository {
	return &NotificationRepository{orm: orm}
}

// WithTx 返回绑定到事务的仓储
func (r *NotificationRepository) WithTx(tx *gorm.DB) *NotificationRepository {
	return &NotificationRepository{orm: tx}
}

func (r *NotificationRepository) whereKey(ctx context.Context, key model.NotificationKey) *gorm.DB {
	return r.orm.WithContext(ctx).
		Where("to_user_id = ? AND type = ? AND content_id = ? AND content_type = ?",
			key.To, key.Type, key.ContentID, key.ContentType)
}

// Upsert 按身份键插入或合并通知：已存在时刷新 updated_at 并重置为未读
// 同一身份键的并发合并由唯一索引在存储层串行化
func (r *NotificationRepository) Upsert(ctx context.Context, key model.NotificationKey, at time.Time) (*model.Notification, error) {
	n := &model.Notification{
		ToUserID:    key.To,
		Type:        key.Type,
		ContentID:   key.ContentID,
		ContentType: key.ContentType,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	err := r.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "to_user_id"}, {Name: "type"}, {Name: "content_id"}, {Name: "content_type"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"updated_at": at,
				"is_read":    false,
			}),
		}).
		Create(n).Error
	if err != nil {
		return nil, err
	}

	// 冲突更新时部分驱动不回填主键，统一按身份键重新读取
	return r.FindByKey(ctx, key)
}

// FindByKey 按身份键查找通知，不存在返回 nil
func (r *NotificationRepository) FindByKey(ctx context.Context, key model.NotificationKey) (*model.Notification, error) {
	var n model.Notification
	if err := r.whereKey(ctx, key).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// GetWithContributors 获取通知及其贡献者
func (r *NotificationRepository) GetWithContributors(ctx context.Context, id uint) (*model.Notification, error) {
	var n model.Notification
	if err := r.orm.WithContext(ctx).Preload("Contributors").First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// AddContributor 加入贡献者（集合语义，已存在则不变）
func (r *NotificationRepository) AddContributor(ctx context.Context, notificationID, userID uint, at time.Time) (bool, error) {
	result := r.orm.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.NotificationContributor{
			NotificationID: notificationID,
			UserID:         userID,
			CreatedAt:      at,
		})
	return result.RowsAffected == 1, result.Error
}

// RemoveContributor 移除贡献者
func (r *NotificationRepository) RemoveContributor(ctx context.Context, notificationID, userID uint) (bool, error) {
	result := r.orm.WithContext(ctx).
		Where("notification_id = ? AND user_id = ?", notificationID, userID).
		Delete(&model.NotificationContributor{})
	return result.RowsAffected == 1, result.Error
}

// HasContributor 判断用户是否为通知贡献者
func (r *NotificationRepository) HasContributor(ctx context.Context, notificationID, userID uint) (bool, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.NotificationContributor{}).
		Where("notification_id = ? AND user_id = ?", notificationID, userID).
		Count(&count).Error
	return count > 0, err
}

// CountContributors 统计贡献者数量
func (r *NotificationRepository) CountContributors(ctx context.Context, notificationID uint) (int64, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.NotificationContributor{}).
		Where("notification_id = ?", notificationID).
		Count(&count).Error
	return count, err
}

// ChangeType 原地修改通知类型（保留ID与创建时间），并重置为未读
func (r *NotificationRepository) ChangeType(ctx context.Context, id uint, t model.NotificationType, at time.Time) error {
	return r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"type":       t,
			"updated_at": at,
			"is_read":    false,
		}).Error
}

// Delete 删除通知及其贡献者
func (r *NotificationRepository) Delete(ctx context.Context, id uint) error {
	if err := r.orm.WithContext(ctx).
		Where("notification_id = ?", id).
		Delete(&model.NotificationContributor{}).Error; err != nil {
		return err
	}
	return r.orm.WithContext(ctx).Delete(&model.Notification{}, id).Error
}

// RecipientsBySubject 获取某主体相关通知的所有接收者
func (r *NotificationRepository) RecipientsBySubject(ctx context.Context, contentID string, contentType model.ContentType) ([]uint, error) {
	var ids []uint
	err := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("content_id = ? AND content_type = ?", contentID, contentType).
		Distinct().
		Pluck("to_user_id", &ids).Error
	return ids, err
}

// DeleteBySubject 删除某主体的全部通知
func (r *NotificationRepository) DeleteBySubject(ctx context.Context, contentID string, contentType model.ContentType) (int64, error) {
	sub := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Select("id").
		Where("content_id = ? AND content_type = ?", contentID, contentType)
	if err := r.orm.WithContext(ctx).
		Where("notification_id IN (?)", sub).
		Delete(&model.NotificationContributor{}).Error; err != nil {
		return 0, err
	}
	result := r.orm.WithContext(ctx).
		Where("content_id = ? AND content_type = ?", contentID, contentType).
		Delete(&model.Notification{})
	return result.RowsAffected, result.Error
}

// CountUnread 统计用户未读通知数量（无贡献者的通知不计入）
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ?", userID, false).
		Where(hasContributors).
		Count(&count).Error
	return count, err
}

// List 分页获取用户通知，按最近合并时间倒序
func (r *NotificationRepository) List(ctx context.Context, userID uint, limit, offset int) ([]model.Notification, int64, error) {
	var total int64
	base := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("to_user_id = ?", userID).
		Where(hasContributors)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []model.Notification
	err := r.orm.WithContext(ctx).
		Where("to_user_id = ?", userID).
		Where(hasContributors).
		Preload("Contributors", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	return items, total, err
}

// MarkRead 标记单条通知为已读，返回是否发生变化
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id uint) (bool, error) {
	result := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND to_user_id = ? AND is_read = ?", id, userID, false).
		UpdateColumn("is_read", true)
	return result.RowsAffected > 0, result.Error
}

// ExistsForUser 判断通知是否属于该用户
func (r *NotificationRepository) ExistsForUser(ctx context.Context, userID, id uint) (bool, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND to_user_id = ?", id, userID).
		Count(&count).Error
	return count > 0, err
}

// MarkAllRead 标记用户全部通知为已读
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	result := r.orm.WithContext(ctx).Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ?", userID, false).
		UpdateColumn("is_read", true)
	return result.RowsAffected, result.Error
}
