// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/config"
	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/http/handlers"
	"github.com/tbourn/go-expense-backend/internal/http/middleware"
	"github.com/tbourn/go-expense-backend/internal/repo"
	"github.com/tbourn/go-expense-backend/internal/services"

	"github.com/shopspring/decimal"
)

// authRepoShim adapts the repository free functions to the services.AuthStore
// interface. This keeps services decoupled from the concrete repo package
// while reusing existing functions.
type authRepoShim struct{}

func (authRepoShim) GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	return repo.GetUserByTelegramID(ctx, db, telegramID)
}

// expenseRepoShim adapts the repository free functions to
// services.ExpenseStore.
type expenseRepoShim struct{}

func (expenseRepoShim) CreateExpense(ctx context.Context, db *gorm.DB, userID, description string, amount decimal.Decimal, cat domain.Category) (*domain.Expense, error) {
	return repo.CreateExpense(ctx, db, userID, description, amount, cat)
}

// historyRepoShim adapts the repository free functions to
// services.HistoryRepo.
type historyRepoShim struct{}

func (historyRepoShim) GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	return repo.GetUserByTelegramID(ctx, db, telegramID)
}

func (historyRepoShim) CountExpenses(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountExpenses(ctx, db, userID)
}

func (historyRepoShim) ListExpensesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Expense, error) {
	return repo.ListExpensesPage(ctx, db, userID, offset, limit)
}

// dedupShim adapts the processed-update repository functions to
// handlers.DedupStore.
type dedupShim struct{}

func (dedupShim) Get(ctx context.Context, db *gorm.DB, updateID int64, now time.Time) (*domain.ProcessedUpdate, error) {
	return repo.GetUpdate(ctx, db, updateID, now)
}

func (dedupShim) Claim(ctx context.Context, db *gorm.DB, updateID int64, userID string, ttl time.Duration) (*domain.ProcessedUpdate, error) {
	return repo.ClaimUpdate(ctx, db, updateID, userID, ttl)
}

func (dedupShim) Finish(ctx context.Context, db *gorm.DB, updateID int64) error {
	return repo.FinishUpdate(ctx, db, updateID)
}

func (dedupShim) Release(ctx context.Context, db *gorm.DB, updateID int64) error {
	return repo.ReleaseUpdate(ctx, db, updateID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), idempotency and rate limiting,
// CORS and security headers, health and metrics endpoints, the webhook
// transport, and the public API under the configured base path.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per sender/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, extractor services.Extractor, sender handlers.ReplySender, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency-Key validation. Replay detection happens inside the
	// process handler, which knows the sender id after parsing the body.
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, nil))

	// 8) Token-bucket rate limiter per sender/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySenderOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Dependency injection: services ← repo/db/extractor
	intakeSvc := services.NewIntakeService(db, authRepoShim{}, expenseRepoShim{}, extractor)
	intakeSvc.MaxMessageRunes = cfg.MaxMessageRunes
	if cfg.StepTimeout > 0 {
		intakeSvc.StepTimeout = cfg.StepTimeout
	}
	histSvc := &services.HistoryService{DB: db, Repo: historyRepoShim{}}

	h := handlers.New(intakeSvc, histSvc, sender, dedupShim{}, db, handlers.Options{
		WebhookSecret:   cfg.Telegram.WebhookSecret,
		DedupTTL:        cfg.DedupTTL,
		MaxMessageRunes: cfg.MaxMessageRunes,
		LLMConfigured:   cfg.LLM.APIKey != "",
	})

	// Health and webhook live at the root, outside the API base path.
	r.GET("/health", h.Health)
	r.POST("/webhook/telegram", h.TelegramWebhook)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/process", h.ProcessMessage)
		api.GET("/users/:id/expenses", h.ListUserExpenses)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
