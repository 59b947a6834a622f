// Package services – HistoryService
//
// This file implements the read side: paginated expense history for a
// whitelisted user. It resolves the external sender id, applies pagination
// defaults, and coordinates repository reads.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/repo"
)

// HistoryRepo is the repository contract required by HistoryService.
type HistoryRepo interface {
	GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error)
	CountExpenses(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListExpensesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Expense, error)
}

// HistoryService lists a user's historical expenses, most recent first.
type HistoryService struct {
	DB   *gorm.DB
	Repo HistoryRepo
}

// ListPage returns a page of expenses for the user identified by telegramID
// and the total count. It applies defaults for invalid page/pageSize and
// returns ErrUserNotFound for unknown senders.
func (s *HistoryService) ListPage(ctx context.Context, telegramID string, page, pageSize int) ([]domain.Expense, int64, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("sender.id", telegramID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	user, err := s.Repo.GetUserByTelegramID(ctx, s.DB, telegramID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, 0, ErrUserNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	total, err := s.Repo.CountExpenses(ctx, s.DB, user.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Expense{}, 0, nil
	}

	items, err := s.Repo.ListExpensesPage(ctx, s.DB, user.ID, offset, pageSize)
	return items, total, err
}
