package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"trade_engine/internal/models"
	"trade_engine/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram — operator alerts plus a minimal chat-command surface.
// Commands produce intents that go through the gate like every other
// origin; nothing here touches the broker directly.
type Telegram struct {
	bot     *tgbot.BotAPI
	chatID  int64
	intents chan<- models.Intent
}

func NewTelegram(token string, chatID int64, intents chan<- models.Intent) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:     b,
		chatID:  chatID,
		intents: intents,
	}, nil
}

func (t *Telegram) Notify(sev Severity, msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	// async send, errors logged only
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("telegram send panic: %v", p)
			}
		}()
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, string(sev)+" "+msg)); err != nil {
			logger.Error("telegram send: %v", err)
		}
	}()
}

func (t *Telegram) Notifyf(sev Severity, format string, args ...any) {
	t.Notify(sev, fmt.Sprintf(format, args...))
}

// Start runs the long-polling command loop.
//
//	/exit <strategy> <instrument> [qty] — force-exit through the gate
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				t.handleCommand(upd.Message)
			}
		}
	}()
}

func (t *Telegram) handleCommand(msg *tgbot.Message) {
	switch msg.Command() {
	case "exit":
		args := strings.Fields(msg.CommandArguments())
		if len(args) < 2 {
			t.Notify(SevInfo, "usage: /exit <strategy> <instrument> [qty]")
			return
		}
		in := models.NewIntent(args[0], models.ActionForceExit, args[1], models.OriginChat)
		if len(args) >= 3 {
			if q, err := strconv.ParseFloat(args[2], 64); err == nil {
				in.Qty = q
			}
		}
		select {
		case t.intents <- in:
			t.Notifyf(SevInfo, "queued force-exit %s %s", in.Strategy, in.Instrument)
		default:
			t.Notify(SevWarn, "intent queue full, command dropped")
		}
	}
}
