// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// ProcessedUpdate model used to deduplicate redelivered webhook updates.
//
// The contract with the webhook transport is claim-before-process:
//
//	rec, err := repo.ClaimUpdate(ctx, db, updateID, userID, ttl)
//	if errors.Is(err, repo.ErrDuplicate) { /* redelivery; ack and skip */ }
//	... run the pipeline ...
//	repo.FinishUpdate(ctx, db, updateID)   // terminal outcome, keep the claim
//	repo.ReleaseUpdate(ctx, db, updateID)  // transient failure, allow a retry
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

// ErrDuplicate indicates that a record already exists for the given update
// identifier (or whitelist external id).
var ErrDuplicate = errors.New("duplicate")

// ClaimUpdate inserts an in-flight claim for updateID and returns
// ErrDuplicate when the update was already claimed or finished. The unique
// index on update_id makes concurrent claims race-safe: exactly one caller
// wins.
func ClaimUpdate(ctx context.Context, db *gorm.DB, updateID int64, userID string, ttl time.Duration) (*domain.ProcessedUpdate, error) {
	now := time.Now().UTC()
	rec := &domain.ProcessedUpdate{
		ID:        uuid.NewString(),
		UpdateID:  updateID,
		UserID:    userID,
		Status:    domain.UpdateStatusInFlight,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// FinishUpdate marks a claimed update as terminally processed. The row stays
// until ExpiresAt so late redeliveries keep hitting the duplicate path.
func FinishUpdate(ctx context.Context, db *gorm.DB, updateID int64) error {
	res := db.WithContext(ctx).
		Model(&domain.ProcessedUpdate{}).
		Where("update_id = ?", updateID).
		Update("status", domain.UpdateStatusDone)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseUpdate deletes an in-flight claim after a transient failure so the
// sender's redelivery of the same update can be processed again. Claims in
// the done state are never released.
func ReleaseUpdate(ctx context.Context, db *gorm.DB, updateID int64) error {
	return db.WithContext(ctx).
		Where("update_id = ? AND status = ?", updateID, domain.UpdateStatusInFlight).
		Delete(&domain.ProcessedUpdate{}).Error
}

// GetUpdate returns the claim for updateID when one exists and has not
// expired at now. A nil record with a nil error means no live claim.
func GetUpdate(ctx context.Context, db *gorm.DB, updateID int64, now time.Time) (*domain.ProcessedUpdate, error) {
	var rec domain.ProcessedUpdate
	err := db.WithContext(ctx).
		Where("update_id = ? AND expires_at > ?", updateID, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeExpiredUpdates removes claims past their TTL; called periodically from
// the server loop to keep the table bounded.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}
