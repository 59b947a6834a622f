// Telegram webhook handler.
//
// This file exposes the webhook transport:
//   - POST /webhook/telegram   (receive a Bot API Update, reply via the bot)
//
// Telegram redelivers any update that was not acknowledged with a 2xx, so the
// handler always returns 200 once the payload has been authenticated — even
// when processing fails. At-most-once processing is enforced by claiming the
// update_id in the dedup store before the pipeline runs; claims are released
// only for transient failures so a redelivery can succeed later.
package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-expense-backend/internal/http/middleware"
	"github.com/tbourn/go-expense-backend/internal/repo"
)

// webhookAck is the body returned for every acknowledged delivery.
var webhookAck = gin.H{"ok": true}

// TelegramWebhook receives one Bot API Update.
//
// Flow: authenticate (secret token) → parse → claim update_id → run the
// pipeline → reply via the bot → ack. Every branch after authentication acks
// with 200; the dedup claim, not the status code, decides redelivery.
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// Authenticate the delivery before reading the body. A mismatch is the
	// one case that must not be acknowledged.
	if secret := h.opts.WebhookSecret; secret != "" {
		got := c.GetHeader(middleware.HeaderTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook secret")
			return
		}
	}

	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		// A malformed payload will not get better on redelivery.
		log.Warn().Err(err).Msg("webhook: unparseable update")
		ok(c, http.StatusOK, webhookAck)
		return
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
		// Edits, stickers, join events: nothing to process.
		ok(c, http.StatusOK, webhookAck)
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	c.Set("senderID", senderID)

	updateID := int64(upd.UpdateID)
	claimed := false
	if h.dedup != nil {
		_, err := h.dedup.Claim(ctx, h.db, updateID, senderID, h.opts.DedupTTL)
		switch {
		case err == nil:
			claimed = true
		case errors.Is(err, repo.ErrDuplicate):
			log.Info().Int64("update_id", updateID).Msg("webhook: duplicate delivery skipped")
			ok(c, http.StatusOK, webhookAck)
			return
		default:
			// Dedup store down: process anyway rather than dropping the
			// message, accepting a small double-processing window.
			log.Error().Err(err).Int64("update_id", updateID).Msg("webhook: dedup claim failed")
		}
	}

	res, err := h.intakeSvc.Process(ctx, senderID, msg.Text)
	if claimed {
		if transientOutcome(res, err) {
			_ = h.dedup.Release(ctx, h.db, updateID)
		} else {
			_ = h.dedup.Finish(ctx, h.db, updateID)
		}
	}

	if res != nil && res.Reply != "" && h.sender != nil {
		if sendErr := h.sender.SendReply(ctx, msg.Chat.ID, res.Reply); sendErr != nil {
			log.Error().Err(sendErr).
				Int64("chat_id", msg.Chat.ID).
				Int64("update_id", updateID).
				Msg("webhook: reply delivery failed")
		}
	}

	ok(c, http.StatusOK, webhookAck)
}
