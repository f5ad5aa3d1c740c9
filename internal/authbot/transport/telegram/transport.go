// Package telegram connects the bot to a Telegram Bot API compatible server.
// Bale exposes the same API, so the default endpoint points there.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultAPIEndpoint is Bale's Bot API; tgbotapi.APIEndpoint targets Telegram.
const DefaultAPIEndpoint = "https://tapi.bale.ai/bot%s/%s"

type Config struct {
	Token       string
	APIEndpoint string
	PollTimeout time.Duration
	Debug       bool
}

// Submitter accepts events for processing.
type Submitter interface {
	Submit(ctx context.Context, ev domain.Event) error
}

type Transport struct {
	bot         *tgbotapi.BotAPI
	logger      *slog.Logger
	pollTimeout time.Duration
}

// New connects to the Bot API and verifies the token with getMe.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	return NewWithClient(cfg, logger, &http.Client{Timeout: cfg.PollTimeout + 10*time.Second})
}

func NewWithClient(cfg Config, logger *slog.Logger, client tgbotapi.HTTPClient) (*Transport, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = DefaultAPIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	bot.Debug = cfg.Debug
	_ = tgbotapi.SetLogger(botLogger{logger.With(slog.String("component", "tgbotapi"))})

	logger.Info("bot authorized", slog.String("username", bot.Self.UserName))
	return &Transport{bot: bot, logger: logger, pollTimeout: cfg.PollTimeout}, nil
}

// Username is the bot's own handle as reported by getMe.
func (t *Transport) Username() string { return t.bot.Self.UserName }

// Run long-polls for updates and submits their events until ctx is done.
func (t *Transport) Run(ctx context.Context, sub Submitter) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(t.pollTimeout / time.Second)

	updates := t.bot.GetUpdatesChan(cfg)
	defer t.bot.StopReceivingUpdates()

	t.logger.Info("polling for updates", slog.Int("timeout_sec", cfg.Timeout))
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := EventFromUpdate(u)
			if !ok {
				continue
			}
			if err := sub.Submit(ctx, ev); err != nil {
				t.logger.Warn("failed to submit event",
					slog.Int("update_id", u.UpdateID),
					slog.Any("error", err),
				)
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

// Reply sends r to the user's private chat, whose id equals the user id.
func (t *Transport) Reply(ctx context.Context, r domain.Reply) error {
	chatID, err := strconv.ParseInt(r.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("reply: invalid user id %q: %w", r.UserID, err)
	}

	text, markup := Render(r)
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// botLogger routes the library's own diagnostics into slog.
type botLogger struct{ l *slog.Logger }

func (b botLogger) Println(v ...any) { b.l.Debug(strings.TrimSpace(fmt.Sprintln(v...))) }

func (b botLogger) Printf(format string, v ...any) { b.l.Debug(fmt.Sprintf(format, v...)) }
