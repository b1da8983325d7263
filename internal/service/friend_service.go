package service

import (
	"context"
	"fmt"
	"time"

	"sns-system/internal/model"
	"sns-system/internal/repository"

	"gorm.io/gorm"
)

// RelationState 从某一用户视角看到的关系状态
type RelationState string

const (
	RelationNone     RelationState = "none"
	RelationSent     RelationState = "sent"     // 我发出、对方未处理
	RelationReceived RelationState = "received" // 对方发出、我未处理
	RelationFriends  RelationState = "friends"
)

// FriendService 好友请求状态机
// 关系行的条件写入与对应通知变更在同一事务内完成，提交后再推送
type FriendService struct {
	orm           *gorm.DB
	users         *repository.UserRepository
	friendships   *repository.FriendshipRepository
	notifications *NotificationService
	now           func() time.Time
}

// NewFriendService 创建FriendService实例
func NewFriendService(orm *gorm.DB, users *repository.UserRepository, friendships *repository.FriendshipRepository,
	notifications *NotificationService) *FriendService {
	return &FriendService{
		orm:           orm,
		users:         users,
		friendships:   friendships,
		notifications: notifications,
		now:           time.Now,
	}
}

// SendRequest fromID 向 toID 发送好友请求
func (s *FriendService) SendRequest(ctx context.Context, fromID, toID uint) error {
	if fromID == toID {
		return fmt.Errorf("%w: cannot send friend request to yourself", ErrInvalidOperation)
	}

	now := s.now()
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, toID); err != nil {
			return err
		}

		friendships := s.friendships.WithTx(tx)
		created, err := friendships.CreatePending(ctx, fromID, toID, now)
		if err != nil {
			return err
		}
		if !created {
			existing, err := friendships.GetLocked(ctx, fromID, toID)
			if err != nil {
				return err
			}
			return sendConflict(existing, fromID)
		}

		return s.notifications.upsertIn(ctx, s.notifications.repo.WithTx(tx),
			requestKey(toID, model.NotificationRequestReceived), fromID, now)
	})
	if err != nil {
		return err
	}

	s.notifications.notifier.Notify(ctx, toID)
	return nil
}

// CancelRequest fromID 撤回发给 toID 的请求
func (s *FriendService) CancelRequest(ctx context.Context, fromID, toID uint) error {
	if fromID == toID {
		return fmt.Errorf("%w: cannot cancel a request to yourself", ErrInvalidOperation)
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.friendships.WithTx(tx).DeletePending(ctx, fromID, toID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: friend request not found", ErrNotFound)
		}

		_, err = s.notifications.retractIn(ctx, s.notifications.repo.WithTx(tx),
			requestKey(toID, model.NotificationRequestReceived), fromID, true)
		return err
	})
	if err != nil {
		return err
	}

	s.notifications.notifier.Notify(ctx, toID)
	return nil
}

// AcceptRequest userID 接受 requesterID 发来的请求
func (s *FriendService) AcceptRequest(ctx context.Context, userID, requesterID uint) error {
	if userID == requesterID {
		return fmt.Errorf("%w: cannot accept a request from yourself", ErrInvalidOperation)
	}

	now := s.now()
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireActive(ctx, tx, requesterID); err != nil {
			return err
		}

		friendships := s.friendships.WithTx(tx)
		accepted, err := friendships.AcceptPending(ctx, requesterID, userID, now)
		if err != nil {
			return err
		}
		if !accepted {
			existing, err := friendships.GetLocked(ctx, userID, requesterID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Status == model.FriendshipAccepted {
				return fmt.Errorf("%w: already friends", ErrConflict)
			}
			return fmt.Errorf("%w: friend request not found", ErrNotFound)
		}

		repo := s.notifications.repo.WithTx(tx)
		// 我收到的“请求”通知变为“已接受”，并通知对方请求已被接受
		if err := s.notifications.transitionIn(ctx, repo,
			requestKey(userID, model.NotificationRequestReceived), model.NotificationRequestAccepted, requesterID, now); err != nil {
			return err
		}
		return s.notifications.upsertIn(ctx, repo,
			requestKey(requesterID, model.NotificationRequestAccepted), userID, now)
	})
	if err != nil {
		return err
	}

	s.notifications.notifier.Notify(ctx, userID)
	s.notifications.notifier.Notify(ctx, requesterID)
	return nil
}

// RejectRequest userID 拒绝 requesterID 发来的请求，不产生新通知
func (s *FriendService) RejectRequest(ctx context.Context, userID, requesterID uint) error {
	if userID == requesterID {
		return fmt.Errorf("%w: cannot reject a request from yourself", ErrInvalidOperation)
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.friendships.WithTx(tx).DeletePending(ctx, requesterID, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: friend request not found", ErrNotFound)
		}

		_, err = s.notifications.retractIn(ctx, s.notifications.repo.WithTx(tx),
			requestKey(userID, model.NotificationRequestReceived), requesterID, true)
		return err
	})
	if err != nil {
		return err
	}

	s.notifications.notifier.Notify(ctx, userID)
	return nil
}

// Unfriend 解除好友关系，同时撤回双方的“已接受”通知，不产生新通知
func (s *FriendService) Unfriend(ctx context.Context, userID, friendID uint) error {
	if userID == friendID {
		return fmt.Errorf("%w: cannot unfriend yourself", ErrInvalidOperation)
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.friendships.WithTx(tx).DeleteAccepted(ctx, userID, friendID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: friendship not found", ErrNotFound)
		}

		repo := s.notifications.repo.WithTx(tx)
		if _, err := s.notifications.retractIn(ctx, repo,
			requestKey(userID, model.NotificationRequestAccepted), friendID, true); err != nil {
			return err
		}
		_, err = s.notifications.retractIn(ctx, repo,
			requestKey(friendID, model.NotificationRequestAccepted), userID, true)
		return err
	})
	if err != nil {
		return err
	}

	s.notifications.notifier.Notify(ctx, userID)
	s.notifications.notifier.Notify(ctx, friendID)
	return nil
}

// Relationship 从 userID 视角查询与 otherID 的关系
func (s *FriendService) Relationship(ctx context.Context, userID, otherID uint) (RelationState, error) {
	if userID == otherID {
		return RelationNone, fmt.Errorf("%w: cannot query relationship with yourself", ErrInvalidOperation)
	}
	f, err := s.friendships.Get(ctx, userID, otherID)
	if err != nil {
		return RelationNone, err
	}
	return relationFor(f, userID), nil
}

// Friends 获取好友列表
func (s *FriendService) Friends(ctx context.Context, userID uint) ([]model.User, error) {
	ids, err := s.friendships.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.ListByIDs(ctx, ids)
}

// SentRequests 获取已发送的请求
func (s *FriendService) SentRequests(ctx context.Context, userID uint) ([]model.User, error) {
	ids, err := s.friendships.SentRequestIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.ListByIDs(ctx, ids)
}

// ReceivedRequests 获取收到的请求
func (s *FriendService) ReceivedRequests(ctx context.Context, userID uint) ([]model.User, error) {
	ids, err := s.friendships.ReceivedRequestIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.ListByIDs(ctx, ids)
}

// requireActive 目标用户必须存在且未注销
func (s *FriendService) requireActive(ctx context.Context, tx *gorm.DB, userID uint) error {
	ok, err := s.users.WithTx(tx).ExistsActive(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	return nil
}

func relationFor(f *model.Friendship, userID uint) RelationState {
	switch {
	case f == nil:
		return RelationNone
	case f.Status == model.FriendshipAccepted:
		return RelationFriends
	case f.RequesterID == userID:
		return RelationSent
	default:
		return RelationReceived
	}
}

// sendConflict 发送请求时已存在关系行的错误说明
func sendConflict(existing *model.Friendship, fromID uint) error {
	switch relationFor(existing, fromID) {
	case RelationFriends:
		return fmt.Errorf("%w: already friends", ErrConflict)
	case RelationSent:
		return fmt.Errorf("%w: friend request already sent", ErrConflict)
	case RelationReceived:
		return fmt.Errorf("%w: a friend request from this user is pending", ErrConflict)
	default:
		// 冲突行已被并发删除
		return fmt.Errorf("%w: relationship changed concurrently", ErrConflict)
	}
}
