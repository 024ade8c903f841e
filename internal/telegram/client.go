// Package telegram sends operator alerts about the pollers via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/soulwatch/internal/logger"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles operator alerts.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         func() string
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

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		send:           s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetStatusFunc sets the reply of the /status command.
func (c *Client) SetStatusFunc(fn func() string) {
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
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
					c.handleCommand(update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(chatID int64, command string) {
	var text string
	switch command {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			return
		}
		text = c.status()
	default:
		return
	}
	if _, err := c.send.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("Failed to answer /%s: %v", command, err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			time.Sleep(c.retryDelayBase * time.Duration(i))
		}
		_, err := c.send.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendTickFailure reports the first failing tick of a consecutive sequence.
func (c *Client) SendTickFailure(poller string, tickErr error) error {
	return c.sendMarkdownV2(formatTickFailure(poller, tickErr))
}

// SendRecovery reports the first successful tick after consecutive failures.
func (c *Client) SendRecovery(poller string, failureCount int) error {
	return c.sendMarkdownV2(formatRecovery(poller, failureCount))
}

// SendTenantsRemoved reports tenants removed because they became unreachable.
func (c *Client) SendTenantsRemoved(tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatTenantsRemoved(tenantIDs))
}

func formatTickFailure(poller string, tickErr error) string {
	return fmt.Sprintf("⚠️ *%s poller failing*\n`%s`", escapeMarkdownV2(poller), escapeMarkdownV2(tickErr.Error()))
}

func formatRecovery(poller string, failureCount int) string {
	return fmt.Sprintf("✅ *%s poller recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(poller), failureCount)
}

func formatTenantsRemoved(tenantIDs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧹 *Removed %d unreachable tenant\\(s\\)*\n", len(tenantIDs))
	for _, id := range tenantIDs {
		fmt.Fprintf(&b, "• `%s`\n", escapeMarkdownV2(id))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
