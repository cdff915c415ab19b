package gormstore

import (
	"context"
	"strings"

	"clinic-booking/internal/domain/users"

	"gorm.io/gorm"
)

// Users reads the users table maintained by the account service.
type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

func (s *Users) FindByID(ctx context.Context, id uint) (users.User, error) {
	var u users.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return users.User{}, translate(err, "user", id)
	}
	return u, nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u users.User
	if err := s.db.WithContext(ctx).Where("LOWER(email) = ?", email).First(&u).Error; err != nil {
		return users.User{}, translate(err, "user", email)
	}
	return u, nil
}
