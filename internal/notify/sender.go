package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"trendbot/pkg/logx"
)

// Sender is the delivery channel: fire-and-forget, success/failure only.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type TelegramConfig struct {
	Token       string
	RatePerSec  int
	PollTimeout time.Duration
}

// TelegramSender sends through the bot API behind a token-bucket limiter so
// fan-out bursts stay under the global send quota.
type TelegramSender struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSender{
		bot: b,
		// burst = rate per sec, so short spikes don't block too hard
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (t *TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(chatID), text, tele.ModeMarkdown)
	return err
}
