// Package services – IntakeService
//
// This file implements the intake pipeline, the application-level component
// that turns one inbound chat message into at most one persisted expense row
// and a user-facing reply. It runs the state machine
//
//	Received → Authorized → Extracted → Categorized → Persisted → Replied
//
// with terminal failure states for unauthorized senders, non-expense
// messages, extraction failures, and persistence failures. Every terminal
// state maps to exactly one fixed reply template; underlying errors are
// logged, never echoed.
//
// Observability: Process is OpenTelemetry-instrumented and records pipeline
// outcomes in a Prometheus counter.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-expense-backend/internal/category"
	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/llm"
	"github.com/tbourn/go-expense-backend/internal/repo"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	StatusPersisted        Status = "persisted"
	StatusRejected         Status = "rejected"
	StatusNotAnExpense     Status = "not_an_expense"
	StatusExtractionFailed Status = "extraction_failed"
	StatusPersistFailed    Status = "persist_failed"
	StatusInfraError       Status = "infra_error"
)

// Success reports whether the run ended in the Persisted state.
func (s Status) Success() bool { return s == StatusPersisted }

// pipelineOutcomes counts terminal pipeline states for dashboards/alerts.
var pipelineOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_pipeline_outcomes_total",
		Help: "Terminal states of the expense intake pipeline.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(pipelineOutcomes)
}

// Result is the outcome of processing one inbound message. Reply is always
// populated with one of the fixed templates (or the success confirmation);
// Expense is non-nil only when Status is StatusPersisted.
type Result struct {
	Status  Status
	Reply   string
	Expense *domain.Expense
}

// AuthStore is the whitelist contract required by the pipeline.
type AuthStore interface {
	// GetUserByTelegramID resolves an external sender id to the internal
	// user, returning repo.ErrNotFound for unknown senders and any other
	// error for infrastructure failures.
	GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error)
}

// ExpenseStore is the persistence contract required by the pipeline.
type ExpenseStore interface {
	// CreateExpense atomically inserts a validated expense row.
	CreateExpense(ctx context.Context, db *gorm.DB, userID, description string, amount decimal.Decimal, cat domain.Category) (*domain.Expense, error)
}

// Extractor is the structured-extraction contract required by the pipeline.
type Extractor interface {
	// Extract classifies raw text; errors are llm.ExtractionError values.
	Extract(ctx context.Context, rawText string) (*llm.ExtractionResult, error)
}

// IntakeService orchestrates authorization, extraction, normalization, and
// persistence for one inbound message. Safe for concurrent use; each call is
// an independent unit of work.
type IntakeService struct {
	DB        *gorm.DB
	Auth      AuthStore
	Expenses  ExpenseStore
	Extractor Extractor

	// StepTimeout bounds each external call (auth lookup, the whole
	// extraction retry loop, the insert). Values <= 0 default to 30s.
	StepTimeout time.Duration

	// MaxMessageRunes caps inbound message length; <= 0 disables the check.
	MaxMessageRunes int
}

// NewIntakeService constructs an IntakeService with sane defaults.
func NewIntakeService(db *gorm.DB, auth AuthStore, expenses ExpenseStore, ex Extractor) *IntakeService {
	return &IntakeService{
		DB:              db,
		Auth:            auth,
		Expenses:        expenses,
		Extractor:       ex,
		StepTimeout:     30 * time.Second,
		MaxMessageRunes: 500,
	}
}

// Process runs the full pipeline for one message from telegramID. It always
// returns a Result whose Reply is safe to show the sender; the error return
// carries the underlying cause for failure statuses so callers can log it.
//
// Persistence deliberately detaches from the caller's cancellation: once the
// message reaches the insert step, the write runs to completion under its
// own timeout so an expense is never half-written because a webhook
// connection dropped.
func (s *IntakeService) Process(ctx context.Context, telegramID, text string) (*Result, error) {
	tr := otel.Tracer("services/IntakeService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("sender.id", telegramID)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return s.finish(StatusNotAnExpense, ReplyNotAnExpense, nil), ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return s.finish(StatusNotAnExpense, ReplyNotAnExpense, nil), ErrMessageTooLong
	}

	// Received → Authorized | Rejected | InfraError
	user, err := s.authorize(ctx, telegramID)
	if errors.Is(err, ErrNotWhitelisted) {
		log.Warn().Str("sender_id", telegramID).Msg("rejected non-whitelisted sender")
		return s.finish(StatusRejected, ReplyUnauthorized, nil), err
	}
	if err != nil {
		log.Error().Err(err).Str("sender_id", telegramID).Msg("whitelist lookup failed")
		return s.finish(StatusInfraError, ReplyTryAgain, nil), err
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	// Authorized → Extracted | NotAnExpense | ExtractionFailed
	extraction, err := s.extract(ctx, text)
	if err != nil {
		if llm.IsPermanent(err) {
			log.Info().Err(err).Str("user_id", user.ID).Msg("extraction rejected by validation")
			return s.finish(StatusExtractionFailed, ReplyCouldNotExtract, nil), err
		}
		log.Error().Err(err).Str("user_id", user.ID).Msg("extraction exhausted retries")
		return s.finish(StatusExtractionFailed, ReplyTryAgain, nil), err
	}
	if !extraction.IsExpense {
		log.Info().Str("user_id", user.ID).Msg("message is not an expense")
		return s.finish(StatusNotAnExpense, ReplyNotAnExpense, nil), nil
	}

	// Extracted → Categorized (normalization is total, it cannot fail)
	cat := category.Normalize(extraction.Category)

	// Categorized → Persisted | PersistFailed
	expense, err := s.persist(ctx, user.ID, extraction.Description, extraction.Amount, cat)
	if err != nil {
		if errors.Is(err, repo.ErrConstraint) {
			// Unknown user id at insert time: internal inconsistency or a
			// race with administrative removal, not a retryable outage.
			log.Error().Err(err).Str("user_id", user.ID).Msg("expense insert violated a constraint")
		} else {
			log.Error().Err(err).Str("user_id", user.ID).Msg("expense insert failed")
		}
		return s.finish(StatusPersistFailed, ReplyTryAgain, nil), err
	}

	// Persisted → Replied
	log.Info().
		Str("user_id", user.ID).
		Str("expense_id", expense.ID).
		Str("category", string(expense.Category)).
		Str("amount", expense.Amount.StringFixed(2)).
		Msg("expense recorded")
	return s.finish(StatusPersisted, SuccessReply(expense), expense), nil
}

// authorize resolves the sender against the whitelist under a step timeout.
func (s *IntakeService) authorize(ctx context.Context, telegramID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout())
	defer cancel()

	user, err := s.Auth.GetUserByTelegramID(ctx, s.DB, telegramID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotWhitelisted
	}
	if err != nil {
		return nil, errors.Join(ErrAuthUnavailable, err)
	}
	return user, nil
}

// extract runs the provider call; the step timeout bounds the whole retry
// loop, not each attempt.
func (s *IntakeService) extract(ctx context.Context, text string) (*llm.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout())
	defer cancel()
	return s.Extractor.Extract(ctx, text)
}

// persist inserts the expense detached from caller cancellation.
func (s *IntakeService) persist(ctx context.Context, userID, description string, amount decimal.Decimal, cat domain.Category) (*domain.Expense, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stepTimeout())
	defer cancel()
	return s.Expenses.CreateExpense(ctx, s.DB, userID, description, amount, cat)
}

// finish records the outcome metric and assembles the result.
func (s *IntakeService) finish(status Status, reply string, e *domain.Expense) *Result {
	pipelineOutcomes.WithLabelValues(string(status)).Inc()
	return &Result{Status: status, Reply: reply, Expense: e}
}

func (s *IntakeService) stepTimeout() time.Duration {
	if s.StepTimeout <= 0 {
		return 30 * time.Second
	}
	return s.StepTimeout
}
