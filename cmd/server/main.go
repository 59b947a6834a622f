// Command server runs the expense-tracking backend: the Telegram webhook,
// the direct processing API, and the expense history endpoints.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-expense-backend/internal/config"
	httpapi "github.com/tbourn/go-expense-backend/internal/http"
	"github.com/tbourn/go-expense-backend/internal/http/handlers"
	"github.com/tbourn/go-expense-backend/internal/llm"
	"github.com/tbourn/go-expense-backend/internal/observability"
	"github.com/tbourn/go-expense-backend/internal/repo"
	"github.com/tbourn/go-expense-backend/internal/sysutil"
	"github.com/tbourn/go-expense-backend/internal/telegram"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Persistence
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	seedWhitelist(ctx, db, cfg.WhitelistIDs)

	// Extraction provider
	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	extractor := llm.NewExtractor(client, cfg.LLM.MaxRetries, cfg.LLM.RetryDelay)

	// Reply channel
	var sender handlers.ReplySender = telegram.NopSender{}
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBotSender(cfg.Telegram.BotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram bot init failed")
		}
		sender = bot
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set; webhook replies disabled")
	}

	// HTTP transport
	r := gin.New()
	httpapi.RegisterRoutes(r, db, extractor, sender, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Keep the dedup table bounded.
	go purgeLoop(ctx, db, time.Hour)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// seedWhitelist inserts the configured external sender ids as whitelisted
// users. Ids that already exist are left untouched.
func seedWhitelist(ctx context.Context, db *gorm.DB, ids []string) {
	for _, id := range ids {
		_, err := repo.CreateUser(ctx, db, id)
		switch {
		case err == nil:
			log.Info().Str("telegram_id", id).Msg("whitelisted sender seeded")
		case errors.Is(err, repo.ErrDuplicate):
			// Already present from a previous run.
		default:
			log.Error().Err(err).Str("telegram_id", id).Msg("whitelist seeding failed")
		}
	}
}

// purgeLoop periodically removes expired dedup claims.
func purgeLoop(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredUpdates(ctx, db, time.Now().UTC())
			if err != nil {
				log.Error().Err(err).Msg("dedup purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("dedup claims expired")
			}
		}
	}
}
