package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier reports run outcomes to a chat. Failures are always
// sent; successes only when enabled.
type TelegramNotifier struct {
	bot       sender
	chatID    int64
	onSuccess bool
}

func NewTelegram(cfg *config.TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegram(bot, cfg), nil
}

func newTelegram(bot sender, cfg *config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		bot:       bot,
		chatID:    cfg.ChatID,
		onSuccess: cfg.OnSuccess,
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, outcome domain.Outcome) error {
	if !outcome.Failed() && !t.onSuccess {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, formatOutcome(outcome))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func formatOutcome(o domain.Outcome) string {
	if o.Failed() {
		stage := "unknown"
		var runErr *domain.RunError
		if errors.As(o.Err, &runErr) {
			stage = string(runErr.Stage)
		}
		project := o.Identity.Project
		if project == "" {
			project = "(unresolved)"
		}
		return fmt.Sprintf(
			"❌ Backup Failed\n\n"+
				"🏢 Project: %s\n"+
				"🌐 Environment: %s\n"+
				"⛔ Stage: %s\n"+
				"💬 Error: %v",
			project, o.Identity.Environment, stage, o.Err,
		)
	}

	msg := fmt.Sprintf(
		"✅ Backup Created\n\n"+
			"📁 Key: %s\n"+
			"📊 Size: %s\n"+
			"🕐 Duration: %s",
		o.Upload.Key,
		humanize.Bytes(uint64(o.Artifact.Size)),
		o.Duration.Round(time.Second),
	)
	if o.Warnings != "" {
		msg += "\n⚠️ Dump tool reported warnings"
	}
	if o.CleanupErr != nil {
		msg += fmt.Sprintf("\n🧹 Cleanup: %v", o.CleanupErr)
	}
	return msg
}
