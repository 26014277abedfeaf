package events

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of the bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts the outcome of every run to one chat.
type TelegramSink struct {
	Bot    Sender
	ChatID int64
	Logger *zap.Logger
}

func NewTelegramSink(token string, chatID int64, logger *zap.Logger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{Bot: bot, ChatID: chatID, Logger: logger}, nil
}

func (s *TelegramSink) Emit(_ context.Context, e Event) {
	if e.Kind != RunFinished || e.Outcome == nil {
		return
	}
	msg := tgbotapi.NewMessage(s.ChatID, Summary(e))
	if _, err := s.Bot.Send(msg); err != nil && s.Logger != nil {
		s.Logger.Warn("telegram notification failed", zap.Error(err))
	}
}

// Summary renders a finished run for humans.
func Summary(e Event) string {
	o := e.Outcome
	var b strings.Builder
	if o.Confirmed {
		b.WriteString("✅ Court booked")
		if o.Slot != nil {
			fmt.Fprintf(&b, ": %s %s-%s", o.Slot.Court, o.Slot.Start, o.Slot.End)
		}
		b.WriteString("\n")
		for _, p := range o.Players {
			fmt.Fprintf(&b, "• %s\n", p.Player)
		}
	} else {
		b.WriteString("⚠️ Booking failed")
		if o.Failure != nil {
			fmt.Fprintf(&b, ": %s", o.Failure.Error())
		}
		b.WriteString("\n")
	}
	if len(o.Rejected) > 0 {
		fmt.Fprintf(&b, "Refused: %s\n", strings.Join(o.Rejected, ", "))
	}
	fmt.Fprintf(&b, "Run %s", e.RunID)
	return b.String()
}
