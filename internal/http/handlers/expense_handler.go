// Expense history HTTP handler.
//
// This file exposes the read side of the API:
//   - GET /users/{id}/expenses   (list, paginated, ETag support)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/http/middleware"
	"github.com/tbourn/go-expense-backend/internal/repo"
	"github.com/tbourn/go-expense-backend/internal/services"
	"github.com/tbourn/go-expense-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListExpensesResponse contains a page of expenses and pagination metadata.
type ListExpensesResponse struct {
	Expenses   []domain.Expense `json:"expenses"`
	Pagination Pagination       `json:"pagination"`
}

// clampPagination parses page/page_size from query parameters and applies
// defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 10
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListUserExpenses returns a paginated expense history for the sender
// identified by the external id in the path, most recent first.
//
// The handler emits a weak ETag derived from the row count and the newest
// added_at timestamp; an If-None-Match hit short-circuits with 304 before any
// page is loaded.
func (h *Handlers) ListUserExpenses(c *gin.Context) {
	ctx := c.Request.Context()

	externalID := strings.TrimSpace(c.Param("id"))
	if externalID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return
	}
	c.Set("senderID", externalID)

	// ETag pre-check (best effort; any error falls through to a full load).
	if h.db != nil {
		if user, err := repo.GetUserByTelegramID(ctx, h.db, externalID); err == nil {
			count, maxTS, err := repo.ExpensesStats(ctx, h.db, user.ID)
			if err == nil {
				var ts int64
				if maxTS != nil {
					ts = maxTS.Unix()
				}
				etag := fmt.Sprintf(`W/"expenses:%s:%d:%d"`, user.ID, count, ts)
				c.Header("ETag", etag)
				if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
					c.Status(http.StatusNotModified)
					return
				}
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.historySvc.ListPage(ctx, externalID, page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		default:
			// The cause goes to the log; the body stays generic.
			middleware.LoggerFrom(c).Error().Err(err).Msg("expense listing failed")
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, "failed to list expenses")
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListExpensesResponse{
		Expenses: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
