package notify

import (
	"context"
	"fmt"

	"OIWatch/internal/domain/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends alerts to one chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

type TelegramOption func(*telegramConfig)

type telegramConfig struct {
	endpoint string
	client   tgbotapi.HTTPClient
}

// WithTelegramEndpoint overrides the Bot API endpoint format, "{base}/bot%s/%s".
func WithTelegramEndpoint(endpoint string) TelegramOption {
	return func(c *telegramConfig) { c.endpoint = endpoint }
}

func WithTelegramHTTPClient(client tgbotapi.HTTPClient) TelegramOption {
	return func(c *telegramConfig) { c.client = client }
}

// NewTelegramNotifier authenticates the bot token with getMe.
func NewTelegramNotifier(token string, chatID int64, opts ...TelegramOption) (*TelegramNotifier, error) {
	cfg := &telegramConfig{endpoint: tgbotapi.APIEndpoint}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.client == nil {
		cfg.client = newHTTPClient()
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, cfg.endpoint, cfg.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: telegram: %v", models.ErrDelivery, err)
	}
	return nil
}
