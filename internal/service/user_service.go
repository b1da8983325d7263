package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sns-system/internal/model"
	"sns-system/internal/repository"
	"sns-system/pkg/jwt"

	"gorm.io/gorm"
)

type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
}

func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService) *UserService {
	return &UserService{repo: repo, jwtService: jwtService}
}

// Create 创建用户并签发 token（账号体系由外部负责，这里只维护社交资料）
func (s *UserService) Create(ctx context.Context, username, nickname string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", fmt.Errorf("%w: username is required", ErrInvalidOperation)
	}
	user := &model.User{
		Username: username,
		Nickname: strings.TrimSpace(nickname),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", fmt.Errorf("%w: username %q already taken", ErrConflict, username)
		}
		return nil, "", err
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken 使用用户ID作为 subject 签发 token
func (s *UserService) IssueToken(user *model.User) (string, error) {
	return s.jwtService.GenerateToken(user.ID, map[string]interface{}{"username": user.Username})
}

// Get 获取未注销用户
func (s *UserService) Get(ctx context.Context, id uint) (*model.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return nil, err
	}
	return u, nil
}

// Deactivate 注销账号（软删除），之后针对该用户的关系操作返回 NotFound
func (s *UserService) Deactivate(ctx context.Context, id uint) error {
	ok, err := s.repo.ExistsActive(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return s.repo.SoftDelete(ctx, id)
}
