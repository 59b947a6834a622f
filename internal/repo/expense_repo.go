// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Expense
// model.
//
// Error semantics:
//   - A foreign-key violation (inserting for an unknown user id) returns
//     ErrConstraint. This indicates an internal inconsistency or a race with
//     administrative user removal, not a retryable outage, so callers apply a
//     different policy than for connectivity errors.
//   - Other DB errors are propagated raw and should be treated as transient.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

// ErrConstraint indicates an integrity violation (unknown user id, CHECK
// failure) as opposed to a transient connectivity problem.
var ErrConstraint = errors.New("constraint violation")

// CreateExpense inserts a new expense row inside a transaction. The write is
// atomic: either the fully populated row exists afterwards or nothing does.
// The expense ID is a randomly generated UUID and AddedAt is set to UTC now.
func CreateExpense(ctx context.Context, db *gorm.DB, userID, description string, amount decimal.Decimal, cat domain.Category) (*domain.Expense, error) {
	e := &domain.Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: description,
		Amount:      amount,
		Category:    cat,
		AddedAt:     time.Now().UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(e).Error
	})
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrConstraint
		}
		return nil, err
	}
	return e, nil
}

// CountExpenses returns the total number of expenses owned by userID.
func CountExpenses(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Expense{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListExpensesPage returns a paginated slice of expenses for userID, ordered
// by AddedAt descending (most recent first) with ID as a deterministic
// tie-break. The caller computes offset and limit.
func ListExpensesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Expense, error) {
	var out []domain.Expense
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("added_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ExpensesStats returns aggregate metadata for a user's expenses: the total
// number of rows and the greatest AddedAt among them. Used for weak ETag
// generation on the list endpoint. When the user has no expenses, count is 0
// and maxAddedAt is nil.
func ExpensesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxAddedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Expense{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT coercion in SQLite.
	var row struct {
		AddedAt time.Time
	}
	if err = q.Select("added_at").Order("added_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.AddedAt, nil
}

// isConstraintViolation reports whether err is an integrity violation
// (foreign-key or CHECK). glebarez/sqlite surfaces these as plain-text errors.
func isConstraintViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "foreign key constraint failed") ||
		strings.Contains(low, "check constraint failed") ||
		strings.Contains(low, "constraint failed: foreign key")
}
