package repository

import (
	"context"

	"sns-system/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository(orm *gorm.DB) *UserRepository {
	return &UserRepository{orm: orm}
}

// WithTx 返回绑定到事务的仓储
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{orm: tx}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.orm.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ExistsActive 用户存在且未注销（软删除记录自动排除）
func (r *UserRepository) ExistsActive(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// ListByIDs 批量获取未注销用户，按ID升序
func (r *UserRepository) ListByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := r.orm.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// SoftDelete 注销用户
func (r *UserRepository) SoftDelete(ctx context.Context, id uint) error {
	return r.orm.WithContext(ctx).Delete(&model.User{}, id).Error
}
