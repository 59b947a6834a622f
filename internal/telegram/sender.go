// Package telegram wraps the Telegram Bot API for the reply channel. The
// webhook handler hands it a chat id and the reply template chosen by the
// pipeline; nothing else in the codebase talks to Telegram directly.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Sender delivers a reply to a chat. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendReply(ctx context.Context, chatID int64, text string) error
}

// botClient is the slice of tgbotapi.BotAPI the sender needs.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotSender sends replies through a live bot connection.
type BotSender struct {
	api botClient
}

// NewBotSender connects to the Bot API with the given token.
func NewBotSender(token string) (*BotSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	api.Debug = false
	log.Info().Str("bot", api.Self.UserName).Msg("telegram bot connected")
	return &BotSender{api: api}, nil
}

// SendReply posts text to chatID. Delivery failures are returned to the
// caller; the inbound update is still acknowledged regardless, so a flaky
// send never causes Telegram to redeliver the update.
func (s *BotSender) SendReply(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to chat %s: %w", strconv.FormatInt(chatID, 10), err)
	}
	return nil
}

// NopSender discards replies. Used when no bot token is configured, which
// keeps the HTTP intake endpoints usable without a Telegram account.
type NopSender struct{}

func (NopSender) SendReply(ctx context.Context, chatID int64, text string) error {
	log.Debug().Int64("chat_id", chatID).Msg("reply dropped: no bot token configured")
	return nil
}
