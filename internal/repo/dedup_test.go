package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

func TestClaimUpdate_SuccessAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedUpdate{})
	ctx := context.Background()
	ttl := 24 * time.Hour

	rec, err := ClaimUpdate(ctx, db, 1001, "u1", ttl)
	if err != nil {
		t.Fatalf("ClaimUpdate: %v", err)
	}
	if rec.ID == "" || rec.UpdateID != 1001 || rec.Status != domain.UpdateStatusInFlight {
		t.Fatalf("unexpected claim: %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("expiry must follow creation: %+v", rec)
	}

	// Redelivery of the same update id loses the race.
	if _, err := ClaimUpdate(ctx, db, 1001, "u1", ttl); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second claim err = %v; want ErrDuplicate", err)
	}

	// A different update id is unaffected.
	if _, err := ClaimUpdate(ctx, db, 1002, "u1", ttl); err != nil {
		t.Fatalf("independent claim: %v", err)
	}
}

func TestFinishUpdate(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedUpdate{})
	ctx := context.Background()

	if _, err := ClaimUpdate(ctx, db, 7, "u1", time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := FinishUpdate(ctx, db, 7); err != nil {
		t.Fatalf("FinishUpdate: %v", err)
	}

	var rec domain.ProcessedUpdate
	if err := db.First(&rec, "update_id = ?", 7).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.Status != domain.UpdateStatusDone {
		t.Fatalf("status = %q; want done", rec.Status)
	}

	if err := FinishUpdate(ctx, db, 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finishing unclaimed update err = %v; want ErrNotFound", err)
	}
}

func TestReleaseUpdate_AllowsRetryOnlyWhileInFlight(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedUpdate{})
	ctx := context.Background()

	if _, err := ClaimUpdate(ctx, db, 9, "u1", time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ReleaseUpdate(ctx, db, 9); err != nil {
		t.Fatalf("ReleaseUpdate: %v", err)
	}
	// The slot is free again.
	if _, err := ClaimUpdate(ctx, db, 9, "u1", time.Hour); err != nil {
		t.Fatalf("re-claim after release: %v", err)
	}

	// Once done, release is a no-op and the claim sticks.
	if err := FinishUpdate(ctx, db, 9); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := ReleaseUpdate(ctx, db, 9); err != nil {
		t.Fatalf("release done: %v", err)
	}
	if _, err := ClaimUpdate(ctx, db, 9, "u1", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("claim after done err = %v; want ErrDuplicate", err)
	}
}

func TestGetUpdate(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedUpdate{})
	ctx := context.Background()
	now := time.Now().UTC()

	// No claim yet.
	rec, err := GetUpdate(ctx, db, 11, now)
	if err != nil || rec != nil {
		t.Fatalf("GetUpdate on empty table = (%v, %v); want (nil, nil)", rec, err)
	}

	if _, err := ClaimUpdate(ctx, db, 11, "u1", time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	rec, err = GetUpdate(ctx, db, 11, now)
	if err != nil || rec == nil || rec.UpdateID != 11 {
		t.Fatalf("GetUpdate = (%+v, %v)", rec, err)
	}

	// Expired claims are invisible.
	rec, err = GetUpdate(ctx, db, 11, now.Add(2*time.Hour))
	if err != nil || rec != nil {
		t.Fatalf("expired claim should not be returned, got (%+v, %v)", rec, err)
	}
}

func TestPurgeExpiredUpdates(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedUpdate{})
	ctx := context.Background()
	now := time.Now().UTC()

	old := &domain.ProcessedUpdate{
		ID: "old", UpdateID: 1, UserID: "u1",
		Status: domain.UpdateStatusDone, CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	}
	fresh := &domain.ProcessedUpdate{
		ID: "fresh", UpdateID: 2, UserID: "u1",
		Status: domain.UpdateStatusDone, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := db.Create(old).Error; err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := db.Create(fresh).Error; err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	n, err := PurgeExpiredUpdates(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("purge = (%d, %v); want (1, nil)", n, err)
	}
	var left int64
	db.Model(&domain.ProcessedUpdate{}).Count(&left)
	if left != 1 {
		t.Fatalf("rows left = %d; want 1", left)
	}
}
