// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound.
//   - Inserting a second user with the same (name, url) returns ErrDuplicate.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/social-credit/internal/domain"
)

// GetUser fetches a user by (name, url), or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, name, url string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("name = ? AND url = ?", name, url).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user row. The generated surrogate id is written back
// into the returned value.
func CreateUser(ctx context.Context, db *gorm.DB, name, url string, role domain.Role) (*domain.User, error) {
	u := &domain.User{Name: name, URL: url, Role: role}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, mapCreateErr(err)
	}
	return u, nil
}

// UpdateUserRole sets the role of user id. It returns ErrNotFound when no
// row was affected.
func UpdateUserRole(ctx context.Context, db *gorm.DB, id uint, role domain.Role) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
