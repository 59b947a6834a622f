// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model,
// which doubles as the sender whitelist.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only lookups and
// inserts.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound (an alias of
//     gorm.ErrRecordNotFound). Callers must treat this as "not whitelisted",
//     which is a different outcome than a connectivity failure: any other
//     error means the check itself could not be performed and must not be
//     silently read as a rejection.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUserByTelegramID fetches the whitelisted user with the given external
// identifier. If no row matches, it returns ErrNotFound. On other DB errors,
// the raw error is returned and the caller must not interpret it as
// "not whitelisted".
func GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IsWhitelisted reports whether telegramID belongs to a known user.
// A (false, nil) return means a definitive rejection; a non-nil error means
// the lookup itself failed.
func IsWhitelisted(ctx context.Context, db *gorm.DB, telegramID string) (bool, error) {
	_, err := GetUserByTelegramID(ctx, db, telegramID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser inserts a new whitelist entry for telegramID. This is an
// administrative operation (seeding, ops tooling); the intake pipeline never
// calls it. Duplicate external ids return ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	u := &domain.User{
		ID:         uuid.NewString(),
		TelegramID: strings.TrimSpace(telegramID),
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// isUniqueViolation reports whether err is a unique-index violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
