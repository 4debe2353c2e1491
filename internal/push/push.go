// Package push delivers reminder notifications to user devices. Devices
// register a Telegram chat id as their push address.
package push

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/directory"
	"remindd/pkg/logx"
)

// Notification is one push message rendered for a user.
type Notification struct {
	Title string
	Body  string
}

// Pusher fans a notification out to every device of a user.
type Pusher interface {
	Push(ctx context.Context, devices []directory.Device, n Notification) error
}

type Config struct {
	Token string `json:"token"`
	// Disabled turns delivery into a logged no-op. Useful in staging.
	Disabled bool `json:"disabled"`
}

type Telegram struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Disabled {
		return &Telegram{cfg: cfg, log: log}, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("push: telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b, log: log}, nil
}

// Push sends one message per device. A failing device does not stop
// delivery to the rest; the first error is returned after the loop.
func (t *Telegram) Push(ctx context.Context, devices []directory.Device, n Notification) error {
	if t.cfg.Disabled || t.bot == nil {
		t.log.Debug("push disabled, dropping notification", logx.Int("devices", len(devices)))
		return nil
	}

	text := n.Body
	if n.Title != "" {
		text = n.Title + "\n" + n.Body
	}

	var firstErr error
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(d.PushAddress), 10, 64)
		if err != nil {
			t.log.Warn("device has malformed push address",
				logx.String("user", d.UserID),
				logx.String("platform", d.Platform))
			continue
		}
		if _, err := t.bot.Send(tele.ChatID(chatID), text); err != nil {
			t.log.Warn("push delivery failed",
				logx.String("user", d.UserID),
				logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}
