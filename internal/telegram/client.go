// Package telegram sends operator notifications about calibration, threshold
// and background task events via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// sender is the part of tgbotapi.BotAPI the client uses to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusFunc renders a short plain-text status line for the /status command.
type StatusFunc func(ctx context.Context) string

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
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
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetStatusFunc installs the handler behind the /status command.
func (c *Client) SetStatusFunc(fn StatusFunc) {
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
					c.handleCommand(ctx, update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, chatID int64, command string) {
	var text string
	switch command {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			return
		}
		text = c.status(ctx)
	default:
		return
	}
	c.sender.Send(tgbotapi.NewMessage(chatID, text)) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// NotifyCalibrationActivated reports that the active curve for scope changed.
// An empty previous means the scope had no active curve before.
func (c *Client) NotifyCalibrationActivated(scope models.CalibrationScope, curveID, previous string) error {
	return c.sendMarkdownV2(formatActivation(scope, curveID, previous))
}

// NotifyThresholdLearned reports a newly appended acceptance threshold.
func (c *Client) NotifyThresholdLearned(th models.Threshold) error {
	return c.sendMarkdownV2(formatThreshold(th))
}

// NotifyTaskFailed reports a background job that ended in the failed state.
func (c *Client) NotifyTaskFailed(task models.Task) error {
	text := fmt.Sprintf("❌ *Task failed*\n%s `%s`\n`%s`",
		escapeMarkdownV2(task.Kind), escapeMarkdownV2(task.ID), escapeMarkdownV2(task.Error))
	return c.sendMarkdownV2(text)
}

// SendError sends a re-learn error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Threshold re\\-learn error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Threshold re\\-learn recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

func formatActivation(scope models.CalibrationScope, curveID, previous string) string {
	league := scope.League
	if league == "" {
		league = "global"
	}
	var b strings.Builder
	b.WriteString("🎯 *Calibration activated*\n\n")
	fmt.Fprintf(&b, "Outcome: %s\n", escapeMarkdownV2(string(scope.Outcome)))
	fmt.Fprintf(&b, "League: %s\n", escapeMarkdownV2(league))
	fmt.Fprintf(&b, "Model: `%s`\n", escapeMarkdownV2(scope.ModelVersion))
	fmt.Fprintf(&b, "Curve: `%s`\n", escapeMarkdownV2(curveID))
	if previous != "" {
		fmt.Fprintf(&b, "Replaces: `%s`\n", escapeMarkdownV2(previous))
	}
	return b.String()
}

func formatThreshold(th models.Threshold) string {
	var b strings.Builder
	b.WriteString("📐 *New acceptance threshold*\n\n")
	fmt.Fprintf(&b, "Profile: %s\n", escapeMarkdownV2(th.Profile))
	fmt.Fprintf(&b, "θ \\= *%s*, K \\= *%d*\n", escapeMarkdownV2(fmt.Sprintf("%.2f", th.Theta)), th.K)
	fmt.Fprintf(&b, "Accuracy: %s over %d tickets\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", th.Accuracy*100)), th.SamplesUsed)
	fmt.Fprintf(&b, "📅 Window: %s → %s\n",
		escapeMarkdownV2(th.WindowStart.Format("2006-01-02")), escapeMarkdownV2(th.WindowEnd.Format("2006-01-02")))
	return b.String()
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
