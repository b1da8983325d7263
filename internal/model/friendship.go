package model

import (
	"time"
)

// FriendshipStatus 好友关系状态
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"  // 请求已发送，等待对方处理
	FriendshipAccepted FriendshipStatus = "accepted" // 已成为好友
)

// Friendship 好友关系
// 每对用户只有一行：UserLowID < UserHighID（唯一索引），
// RequesterID 记录发起请求的一方，用于区分 sent / received。
// 行不存在即 none 状态；状态迁移都是对这一行的条件写入。

type Friendship struct {
	ID          uint             `gorm:"primaryKey"`
	UserLowID   uint             `gorm:"not null;uniqueIndex:ux_friendship_pair;comment:较小的用户ID"`
	UserHighID  uint             `gorm:"not null;uniqueIndex:ux_friendship_pair;index;comment:较大的用户ID"`
	RequesterID uint             `gorm:"not null;index;comment:请求发起者ID"`
	Status      FriendshipStatus `gorm:"type:varchar(32);not null;default:'pending';index;comment:关系状态"`
	AcceptedAt  *time.Time       `gorm:"comment:成为好友时间"`
	CreatedAt   time.Time        `gorm:"comment:创建时间"`
	UpdatedAt   time.Time        `gorm:"comment:更新时间"`
}

func (Friendship) TableName() string { return "friendship" }

// OrderedPair 返回规范化后的用户对（小ID在前）
func OrderedPair(a, b uint) (low, high uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// Counterpart 返回关系中除 userID 之外的另一方
func (f *Friendship) Counterpart(userID uint) uint {
	if f.UserLowID == userID {
		return f.UserHighID
	}
	return f.UserLowID
}
