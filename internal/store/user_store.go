package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type User struct {
	ID          uint64 `gorm:"primaryKey"`
	Username    string
	DisplayName string
	AvatarRef   string
}

func (User) TableName() string { return "users" }

type UserStore struct{ db *gorm.DB }

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Lookup 按 userId 查展示信息。
func (s *UserStore) Lookup(ctx context.Context, userID uint64) (string, string, error) {
	var u User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return name, u.AvatarRef, nil
}
