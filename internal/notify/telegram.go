package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pitalert/internal/config"
	"pitalert/internal/domain"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramChannel posts triggered alerts to a Telegram chat.
// Out-of-band companion to the session push channel so alerts reach the
// cook even with no client connected.
// Params: bot token, chat target, and retry knobs.
// Returns: delivery channel implementation.
type TelegramChannel struct {
	client     *tgbot.Bot
	chatID     any
	retryCount int
	retryDelay time.Duration
	initErr    error
}

// NewTelegramChannel creates Telegram delivery channel.
// Params: Telegram notifier config.
// Returns: initialized channel; init errors surface on Deliver.
func NewTelegramChannel(cfg config.TelegramNotifier) *TelegramChannel {
	channel := &TelegramChannel{
		chatID:     normalizeChatID(cfg.ChatID),
		retryCount: cfg.RetryCount,
		retryDelay: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}

	if strings.TrimSpace(cfg.Token) == "" {
		channel.initErr = errors.New("telegram token is required")
		return channel
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		channel.initErr = errors.New("telegram chat_id is required")
		return channel
	}

	client, err := tgbot.New(cfg.Token, tgbot.WithSkipGetMe())
	if err != nil {
		channel.initErr = fmt.Errorf("init telegram bot: %w", err)
		return channel
	}
	channel.client = client
	return channel
}

// Name returns channel name.
// Params: none.
// Returns: static channel key.
func (c *TelegramChannel) Name() string {
	return "telegram"
}

// Deliver posts one notification message to the configured chat.
// Params: context and event payload.
// Returns: transport error after retries are exhausted.
func (c *TelegramChannel) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	if c.initErr != nil {
		return c.initErr
	}
	if c.client == nil {
		return errors.New("telegram client is not initialized")
	}

	request := &tgbot.SendMessageParams{
		ChatID:    c.chatID,
		Text:      renderText(event),
		ParseMode: tgmodels.ParseModeHTML,
	}

	var lastErr error
	attempts := c.retryCount
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		sent, err := c.client.SendMessage(ctx, request)
		if err != nil {
			lastErr = fmt.Errorf("telegram send: %w", err)
			continue
		}
		if sent == nil || sent.ID <= 0 {
			lastErr = errors.New("telegram send returned empty message id")
			continue
		}
		return nil
	}
	return lastErr
}

// renderText formats one alert message for Telegram HTML mode.
// Params: event payload.
// Returns: message text.
func renderText(event domain.NotificationEvent) string {
	if event.Test {
		return fmt.Sprintf("<b>pitalert</b> %s", event.Message)
	}
	return fmt.Sprintf("<b>pitalert</b> %s\nDevice %s probe %s at %.1f°%s",
		event.Message, event.DeviceID, event.ProbeID, event.CurrentTemperature, event.Unit)
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
