package service

import (
	"context"
	"fmt"
	"time"

	"sns-system/config"
	"sns-system/internal/model"
	"sns-system/internal/repository"
	"sns-system/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationPage 通知分页结果
type NotificationPage struct {
	Items    []model.Notification
	Total    int64
	Page     int
	PageSize int
}

// NotificationService 通知聚合服务
// 相同身份键 (to, type, contentId, contentType) 的事件合并为一条通知
type NotificationService struct {
	orm         *gorm.DB
	repo        *repository.NotificationRepository
	users       *repository.UserRepository
	notifier    *Notifier
	cache       UnreadCache
	deleteEmpty bool
	pageSize    int
	maxPageSize int
	now         func() time.Time
}

// NewNotificationService 创建NotificationService实例，cache 可为 nil
func NewNotificationService(orm *gorm.DB, repo *repository.NotificationRepository, users *repository.UserRepository,
	notifier *Notifier, cache UnreadCache, cfg config.NotificationConfig) *NotificationService {
	pageSize := cfg.DefaultPageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	maxPageSize := cfg.MaxPageSize
	if maxPageSize < pageSize {
		maxPageSize = pageSize
	}
	return &NotificationService{
		orm:         orm,
		repo:        repo,
		users:       users,
		notifier:    notifier,
		cache:       cache,
		deleteEmpty: cfg.EmptyPolicy == config.EmptyPolicyDelete,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
		now:         time.Now,
	}
}

// RecordEvent 记录一次评论/点赞等事件并推送
func (s *NotificationService) RecordEvent(ctx context.Context, key model.NotificationKey, contributor uint) error {
	return s.record(ctx, key, contributor, true)
}

// RecordEventQuiet 记录事件但不推送（批量导入、数据初始化使用）
func (s *NotificationService) RecordEventQuiet(ctx context.Context, key model.NotificationKey, contributor uint) error {
	return s.record(ctx, key, contributor, false)
}

func (s *NotificationService) record(ctx context.Context, key model.NotificationKey, contributor uint, deliver bool) error {
	if err := validateProducerKey(key, contributor); err != nil {
		return err
	}
	// 自己对自己的内容操作不产生通知
	if contributor == key.To {
		return nil
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.users.WithTx(tx).ExistsActive(ctx, key.To)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: recipient %d", ErrNotFound, key.To)
		}
		return s.upsertIn(ctx, s.repo.WithTx(tx), key, contributor, s.now())
	})
	if err != nil {
		return err
	}

	s.afterChange(ctx, deliver, key.To)
	return nil
}

// RetractEvent 撤回事件：从通知中移除贡献者
// 贡献者为空时按配置保留或删除；未变化时不推送
func (s *NotificationService) RetractEvent(ctx context.Context, key model.NotificationKey, contributor uint) error {
	if err := validateProducerKey(key, contributor); err != nil {
		return err
	}

	var changed bool
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changed, err = s.retractIn(ctx, s.repo.WithTx(tx), key, contributor, s.deleteEmpty)
		return err
	})
	if err != nil {
		return err
	}

	if changed {
		s.notifier.Notify(ctx, key.To)
	}
	return nil
}

// DeleteBySubject 删除某主体（如被删除的帖子）的全部通知，并推送受影响用户的未读数
func (s *NotificationService) DeleteBySubject(ctx context.Context, contentID string, contentType model.ContentType) (int64, error) {
	if contentID == "" || contentType == model.ContentNone || !contentType.Valid() {
		return 0, fmt.Errorf("%w: subject is required", ErrInvalidOperation)
	}

	var (
		recipients []uint
		deleted    int64
	)
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if recipients, err = repo.RecipientsBySubject(ctx, contentID, contentType); err != nil {
			return err
		}
		deleted, err = repo.DeleteBySubject(ctx, contentID, contentType)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, uid := range recipients {
		s.notifier.Notify(ctx, uid)
	}
	return deleted, nil
}

// UnreadCount 获取未读通知数量（优先读缓存）
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	cacheable := false
	var generation int64
	if s.cache != nil {
		if count, ok, err := s.cache.Get(ctx, userID); err == nil && ok {
			return count, nil
		}
		// 先取代数再查库，查库期间发生的变更会使本次回写失效
		gen, err := s.cache.Generation(ctx, userID)
		if err != nil {
			logger.Warn("获取未读数代数失败", zap.Uint("user_id", userID), zap.Error(err))
		} else {
			cacheable, generation = true, gen
		}
	}

	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	if cacheable {
		if _, err := s.cache.SetIfUnchanged(ctx, userID, count, generation); err != nil {
			logger.Warn("写入未读数缓存失败", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return count, nil
}

// List 分页获取通知
func (s *NotificationService) List(ctx context.Context, userID uint, page, pageSize int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	items, total, err := s.repo.List(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &NotificationPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// MarkRead 标记通知为已读；已读时幂等返回
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	changed, err := s.repo.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !changed {
		exists, err := s.repo.ExistsForUser(ctx, userID, notificationID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: notification %d", ErrNotFound, notificationID)
		}
		return nil
	}

	s.notifier.Notify(ctx, userID)
	return nil
}

// MarkAllRead 标记全部通知为已读
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.notifier.Notify(ctx, userID)
	}
	return n, nil
}

// afterChange 通知变化后推送；静默路径只清除缓存
func (s *NotificationService) afterChange(ctx context.Context, deliver bool, userID uint) {
	if deliver {
		s.notifier.Notify(ctx, userID)
		return
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			logger.Warn("清除未读数缓存失败", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
}

// upsertIn 在事务内合并通知并加入贡献者
func (s *NotificationService) upsertIn(ctx context.Context, repo *repository.NotificationRepository,
	key model.NotificationKey, contributor uint, at time.Time) error {
	n, err := repo.Upsert(ctx, key, at)
	if err != nil {
		return err
	}
	_, err = repo.AddContributor(ctx, n.ID, contributor, at)
	return err
}

// retractIn 在事务内移除贡献者，返回是否发生变化
func (s *NotificationService) retractIn(ctx context.Context, repo *repository.NotificationRepository,
	key model.NotificationKey, contributor uint, deleteEmpty bool) (bool, error) {
	n, err := repo.FindByKey(ctx, key)
	if err != nil || n == nil {
		return false, err
	}

	removed, err := repo.RemoveContributor(ctx, n.ID, contributor)
	if err != nil || !removed {
		return false, err
	}

	if deleteEmpty {
		left, err := repo.CountContributors(ctx, n.ID)
		if err != nil {
			return false, err
		}
		if left == 0 {
			if err := repo.Delete(ctx, n.ID); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// transitionIn 把 contributor 从 from 键的通知移到类型为 to 的通知
// from 通知只有这一个贡献者且目标不存在时原地改类型，否则拆分后合并到目标
func (s *NotificationService) transitionIn(ctx context.Context, repo *repository.NotificationRepository,
	from model.NotificationKey, to model.NotificationType, contributor uint, at time.Time) error {
	target := from
	target.Type = to

	src, err := repo.FindByKey(ctx, from)
	if err != nil {
		return err
	}
	if src != nil {
		has, err := repo.HasContributor(ctx, src.ID, contributor)
		if err != nil {
			return err
		}
		if has {
			count, err := repo.CountContributors(ctx, src.ID)
			if err != nil {
				return err
			}
			dst, err := repo.FindByKey(ctx, target)
			if err != nil {
				return err
			}
			if count == 1 && dst == nil {
				return repo.ChangeType(ctx, src.ID, to, at)
			}
			if _, err := s.retractIn(ctx, repo, from, contributor, true); err != nil {
				return err
			}
		}
	}
	return s.upsertIn(ctx, repo, target, contributor, at)
}

// validateProducerKey 校验对外生产方传入的身份键
// 好友请求类通知只能由好友状态机产生
func validateProducerKey(key model.NotificationKey, contributor uint) error {
	if key.To == 0 || contributor == 0 {
		return fmt.Errorf("%w: recipient and contributor are required", ErrInvalidOperation)
	}
	if !key.Type.Valid() {
		return fmt.Errorf("%w: unknown notification type %q", ErrInvalidOperation, key.Type)
	}
	if key.Type.IsFriendRequest() {
		return fmt.Errorf("%w: %q notifications are managed by friend requests", ErrInvalidOperation, key.Type)
	}
	if !key.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidOperation, key.ContentType)
	}
	if (key.ContentID == "") != (key.ContentType == model.ContentNone) {
		return fmt.Errorf("%w: content id and content type must be set together", ErrInvalidOperation)
	}
	return nil
}

// requestKey 好友请求类通知的身份键（无主体）
func requestKey(to uint, t model.NotificationType) model.NotificationKey {
	return model.NotificationKey{To: to, Type: t}
}
