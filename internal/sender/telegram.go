package sender

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dieriver/balrog-go/internal/aggregator"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Telegram is the real Sender, backed by TELEGRAM_BOT_TOKEN/
// TELEGRAM_CHAT_ID.
type Telegram struct {
	diagnostics
	bot    *tgbotapi.BotAPI
	chatID int64
	logger servicelog.Logger
}

func NewTelegram(bot *tgbotapi.BotAPI, chatID int64, logger servicelog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

func (t *Telegram) SendText(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("telegram: failed to send text", servicelog.Error(err))
	}
}

func (t *Telegram) SendImage(img image.Image, caption string, force bool) {
	if img == nil {
		return
	}
	if t.Muted() && !force {
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.logger.Error("telegram: failed to encode image", servicelog.Error(err))
		return
	}
	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "frame.jpg", Bytes: buf.Bytes()})
	photo.Caption = caption
	if _, err := t.bot.Send(photo); err != nil {
		t.logger.Error("telegram: failed to send image", servicelog.Error(err))
	}
}

// Notify implements aggregator.Notifier: one Markdown text message per
// verdict, followed by the verdict's image when it carries one. While
// muted the image is dropped, except for CatIncoming.
func (t *Telegram) Notify(ctx context.Context, v aggregator.Verdict) {
	t.SendText(verdictText(v))
	if v.Image != nil {
		t.SendImage(v.Image, verdictText(v), v.Kind == aggregator.CatIncoming)
	}
}
