// Package telegram sends operator alerts about the price feed and answers bot commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/niftyoracle/internal/logger"
)

// sender is the part of the bot API used for outgoing messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	out            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(out sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		out:            out,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, src StatusSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, src, update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, src StatusSource, chatID int64, command string) {
	var reply tgbotapi.MessageConfig
	switch command {
	case "ping":
		reply = tgbotapi.NewMessage(chatID, "Pong")
	case "status", "top":
		// Contest and token details stay in the operator chat.
		if chatID != c.chatID || src == nil {
			return
		}
		st, err := src.Status(ctx)
		if err != nil {
			logger.Warn("Failed to build status for /%s: %v", command, err)
			reply = tgbotapi.NewMessage(chatID, fmt.Sprintf("⚠️ `%s`", escapeMarkdownV2(err.Error())))
		} else if command == "status" {
			reply = tgbotapi.NewMessage(chatID, formatStatus(st))
		} else {
			reply = tgbotapi.NewMessage(chatID, formatTop(st))
		}
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	c.out.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.out.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a feed error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(fetchErr error) error {
	text := fmt.Sprintf("⚠️ *Price feed error*\n`%s`", escapeMarkdownV2(fetchErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Price feed recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendTokenInvalid tells the operator that polling is paused until the token is refreshed.
func (c *Client) SendTokenInvalid(reason string) error {
	text := fmt.Sprintf("🔑 *Kite access token rejected*\n%s\nPolling is paused until a new token is set\\.",
		escapeMarkdownV2(reason))
	return c.sendMarkdownV2(text)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
