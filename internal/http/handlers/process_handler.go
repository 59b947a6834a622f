// Intake HTTP handler.
//
// This file exposes the direct processing endpoint:
//   - POST /process   (run the intake pipeline for one message)
//
// Handlers are transport-thin: they validate input, delegate to the intake
// service, and translate pipeline outcomes into HTTP responses. The endpoint
// supports safe retries via the Idempotency-Key header; a replayed key is
// acknowledged without running extraction or persistence again.
package handlers

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/http/middleware"
	"github.com/tbourn/go-expense-backend/internal/llm"
	"github.com/tbourn/go-expense-backend/internal/repo"
	"github.com/tbourn/go-expense-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// IntakeService runs the message-to-expense pipeline. Implementations must be
// safe for concurrent use and honor the provided context.
type IntakeService interface {
	// Process turns one inbound message into at most one persisted expense
	// and a user-facing reply.
	Process(ctx context.Context, telegramID, text string) (*services.Result, error)
}

// HistoryService lists a user's recorded expenses, most recent first.
type HistoryService interface {
	ListPage(ctx context.Context, telegramID string, page, pageSize int) ([]domain.Expense, int64, error)
}

// ReplySender delivers a pipeline reply back to a chat.
type ReplySender interface {
	SendReply(ctx context.Context, chatID int64, text string) error
}

// DedupStore is the claim-before-process contract used to deduplicate
// redelivered webhook updates and replayed idempotency keys.
type DedupStore interface {
	Get(ctx context.Context, db *gorm.DB, updateID int64, now time.Time) (*domain.ProcessedUpdate, error)
	Claim(ctx context.Context, db *gorm.DB, updateID int64, userID string, ttl time.Duration) (*domain.ProcessedUpdate, error)
	Finish(ctx context.Context, db *gorm.DB, updateID int64) error
	Release(ctx context.Context, db *gorm.DB, updateID int64) error
}

//
// Handler wiring
//

// Options carries transport-level settings for the handler set.
type Options struct {
	// WebhookSecret, when non-empty, must match the
	// X-Telegram-Bot-Api-Secret-Token header on webhook deliveries.
	WebhookSecret string
	// DedupTTL is how long processed update ids and idempotency keys keep
	// rejecting redeliveries. Values <= 0 default to 24h.
	DedupTTL time.Duration
	// MaxMessageRunes caps inbound message length at the edge; <= 0
	// disables the check (the service enforces its own cap regardless).
	MaxMessageRunes int
	// LLMConfigured feeds the health endpoint.
	LLMConfigured bool
}

// Handlers groups the HTTP endpoints for intake, history, webhook, and
// health. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	intakeSvc  IntakeService
	historySvc HistoryService
	sender     ReplySender
	dedup      DedupStore
	db         *gorm.DB
	opts       Options
}

// New constructs a Handlers instance bound to the given services.
func New(intake IntakeService, history HistoryService, sender ReplySender, dedup DedupStore, db *gorm.DB, opts Options) *Handlers {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	return &Handlers{
		intakeSvc:  intake,
		historySvc: history,
		sender:     sender,
		dedup:      dedup,
		db:         db,
		opts:       opts,
	}
}

//
// DTOs
//

// ProcessRequest is the JSON payload for direct message processing.
type ProcessRequest struct {
	// UserID is the sender's external (chat platform) identifier.
	UserID string `json:"user_id" binding:"required,min=1"`
	// Message is the raw chat text to process.
	Message string `json:"message" binding:"required,min=1"`
}

// ProcessResponse reports the pipeline outcome. Message always carries the
// user-facing reply; ExpenseID is set only when an expense was persisted.
type ProcessResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpenseID string `json:"expense_id,omitempty"`
}

//
// Handlers
//

// ProcessMessage runs the intake pipeline for one message.
//
// Outcome mapping:
//   - persisted                    → 200 {success:true, reply, expense_id}
//   - not an expense               → 200 {success:false, reply}
//   - extraction failed (invalid)  → 200 {success:false, reply}
//   - sender not whitelisted       → 403 error envelope
//   - transient failure            → 502 error envelope
//
// User-correctable outcomes stay 200 so chat frontends can relay the reply
// verbatim; only authorization and infrastructure problems surface as errors.
func (h *Handlers) ProcessMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and message required")
		return
	}
	senderID := strings.TrimSpace(req.UserID)
	message := strings.TrimSpace(req.Message)
	if senderID == "" || message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and message required")
		return
	}
	if max := h.opts.MaxMessageRunes; max > 0 && utf8.RuneCountInString(message) > max {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long")
		return
	}
	c.Set("senderID", senderID)

	// Idempotency: a replayed (sender, key) pair is acknowledged without
	// running the pipeline again. Claims share the webhook dedup table.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	var claimID int64
	claimed := false
	if hasKey && h.dedup != nil {
		claimID = idemClaimID(senderID, idemKey)
		if rec, err := h.dedup.Get(ctx, h.db, claimID, time.Now().UTC()); err == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, ProcessResponse{Success: true, Message: "already processed"})
			return
		}
		_, err := h.dedup.Claim(ctx, h.db, claimID, senderID, h.opts.DedupTTL)
		switch {
		case err == nil:
			claimed = true
		case errors.Is(err, repo.ErrDuplicate):
			// Lost a concurrent race for the same key: treat as replay.
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, ProcessResponse{Success: true, Message: "already processed"})
			return
		default:
			// Dedup store down: process rather than dropping the message,
			// accepting a small double-processing window.
			middleware.LoggerFrom(c).Error().Err(err).Msg("idempotency claim failed")
		}
	}

	res, err := h.intakeSvc.Process(ctx, senderID, message)

	if claimed {
		if transientOutcome(res, err) {
			// Let a retry with the same key run the pipeline again.
			_ = h.dedup.Release(ctx, h.db, claimID)
		} else {
			_ = h.dedup.Finish(ctx, h.db, claimID)
		}
	}

	if res == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, services.ReplyTryAgain)
		return
	}

	switch res.Status {
	case services.StatusPersisted:
		ok(c, http.StatusOK, ProcessResponse{
			Success:   true,
			Message:   res.Reply,
			ExpenseID: res.Expense.ID,
		})
	case services.StatusNotAnExpense:
		ok(c, http.StatusOK, ProcessResponse{Success: false, Message: res.Reply})
	case services.StatusRejected:
		fail(c, http.StatusForbidden, ErrCodeForbidden, res.Reply)
	case services.StatusExtractionFailed:
		if llm.IsPermanent(err) {
			ok(c, http.StatusOK, ProcessResponse{Success: false, Message: res.Reply})
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeExtractionFailed, res.Reply)
	default: // persist_failed, infra_error
		fail(c, http.StatusBadGateway, ErrCodeProcessFailed, res.Reply)
	}
}

// transientOutcome reports whether the pipeline outcome may succeed on retry,
// so the dedup claim should be released rather than kept.
func transientOutcome(res *services.Result, err error) bool {
	if res == nil {
		return true
	}
	switch res.Status {
	case services.StatusInfraError, services.StatusPersistFailed:
		return true
	case services.StatusExtractionFailed:
		return !llm.IsPermanent(err)
	default:
		return false
	}
}

// idemClaimID maps a (sender, key) pair into the int64 keyspace of the dedup
// table. Telegram update ids are small positive integers; the high bit is
// forced on so hashed claims can never collide with them.
func idemClaimID(senderID, key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int64(h.Sum64() | 1<<63)
}
