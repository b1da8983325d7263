package model

import (
	"time"
)

// NotificationType 通知类型（封闭枚举，生产方只能使用下列常量）
type NotificationType string

const (
	NotificationReaction        NotificationType = "reaction"
	NotificationComment         NotificationType = "comment"
	NotificationReply           NotificationType = "reply"
	NotificationRequestReceived NotificationType = "request received"
	NotificationRequestAccepted NotificationType = "request accepted"
	NotificationBirthday        NotificationType = "birthday"
)

var notificationTypes = map[NotificationType]struct{}{
	NotificationReaction:        {},
	NotificationComment:         {},
	NotificationReply:           {},
	NotificationRequestReceived: {},
	NotificationRequestAccepted: {},
	NotificationBirthday:        {},
}

// Valid 是否为已知类型
func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// IsFriendRequest 是否为好友请求类通知（由好友状态机独占维护）
func (t NotificationType) IsFriendRequest() bool {
	return t == NotificationRequestReceived || t == NotificationRequestAccepted
}

// ContentType 通知主体类型
type ContentType string

const (
	ContentNone    ContentType = ""
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
	ContentUser    ContentType = "user"
)

// Valid 是否为已知主体类型
func (c ContentType) Valid() bool {
	switch c {
	case ContentNone, ContentPost, ContentComment, ContentUser:
		return true
	}
	return false
}

// NotificationKey 通知身份键：(接收者, 类型, 主体ID, 主体类型)
// 相同身份键的事件合并为一条通知，贡献者取并集
type NotificationKey struct {
	To          uint
	Type        NotificationType
	ContentID   string
	ContentType ContentType
}

// Notification 通知
// 主体缺省（好友请求类）时 ContentID / ContentType 存空串，保证唯一索引生效

type Notification struct {
	ID           uint                      `gorm:"primaryKey"`
	ToUserID     uint                      `gorm:"not null;uniqueIndex:ux_notification_key,priority:1;index:idx_notification_to_updated,priority:1;comment:接收者ID"`
	Type         NotificationType          `gorm:"type:varchar(32);not null;uniqueIndex:ux_notification_key,priority:2;comment:通知类型"`
	ContentID    string                    `gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_notification_key,priority:3;index:idx_notification_subject,priority:1;comment:主体ID"`
	ContentType  ContentType               `gorm:"type:varchar(32);not null;default:'';uniqueIndex:ux_notification_key,priority:4;index:idx_notification_subject,priority:2;comment:主体类型"`
	IsRead       bool                      `gorm:"not null;default:false;comment:是否已读"`
	CreatedAt    time.Time                 `gorm:"comment:创建时间"`
	UpdatedAt    time.Time                 `gorm:"index:idx_notification_to_updated,priority:2;comment:最近合并时间"`
	Contributors []NotificationContributor `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE"`
}

func (Notification) TableName() string { return "notification" }

// Key 返回通知的身份键
func (n *Notification) Key() NotificationKey {
	return NotificationKey{
		To:          n.ToUserID,
		Type:        n.Type,
		ContentID:   n.ContentID,
		ContentType: n.ContentType,
	}
}

// From 返回贡献者ID集合
func (n *Notification) From() []uint {
	ids := make([]uint, 0, len(n.Contributors))
	for _, c := range n.Contributors {
		ids = append(ids, c.UserID)
	}
	return ids
}

// NotificationContributor 通知贡献者，联合主键保证集合语义
type NotificationContributor struct {
	NotificationID uint      `gorm:"primaryKey;autoIncrement:false"`
	UserID         uint      `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt      time.Time `gorm:"comment:加入时间"`
}

func (NotificationContributor) TableName() string { return "notification_contributor" }
