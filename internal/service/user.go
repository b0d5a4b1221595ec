package service

import (
	"context"
	"errors"
	"fmt"

	"relaychat/internal/models"

	"gorm.io/gorm"
)

// UserService 提供已知用户名册，注册与密码校验由外部服务负责。
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// UserDTO 是对外输出的用户数据。
type UserDTO struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}

// List 返回全部已知用户，按用户名排序。
func (s *UserService) List(ctx context.Context) ([]UserDTO, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Order("username asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, UserDTO{ID: u.ID, Username: u.Username})
	}
	return out, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*UserDTO, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &UserDTO{ID: u.ID, Username: u.Username}, nil
}

// Upsert 记录 token 中携带的身份，使名册包含曾经连接过的用户。
func (s *UserService) Upsert(ctx context.Context, id, username string) error {
	u := models.User{ID: id, Username: username}
	err := s.db.WithContext(ctx).
		Where(models.User{ID: id}).
		Assign(models.User{Username: username}).
		FirstOrCreate(&u).Error
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
