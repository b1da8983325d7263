package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型（仅保留社交关系所需字段）
// 好友、已发送请求、已收到请求三个集合不存放在用户行上，
// 统一由 friendship 表派生，保证双方视图天然对称
// DeletedAt 非空表示账号已注销（软删除），对关系操作视为不存在

type User struct {
	ID        uint           `gorm:"primaryKey"`
	Username  string         `gorm:"type:varchar(64);not null;uniqueIndex;comment:用户名"`
	Nickname  string         `gorm:"type:varchar(64);comment:昵称"`
	Avatar    string         `gorm:"type:varchar(255);comment:头像URL"`
	CreatedAt time.Time      `gorm:"comment:创建时间"`
	UpdatedAt time.Time      `gorm:"comment:更新时间"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名（因全局配置使用单数表名，这里与结构体名一致为 user）
func (User) TableName() string { return "user" }
