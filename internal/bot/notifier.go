package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/events"
)

// sender is the part of the Telegram API the notifier needs
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config represents the configuration for the notifier
type Config struct {
	Token   string
	ChatIDs []int64 // Chats that receive training announcements
}

// Notifier announces finished training sessions in Telegram chats
type Notifier struct {
	api     sender
	chatIDs []int64
	logger  zerolog.Logger
}

// New connects to the Telegram API
func New(cfg Config, logger zerolog.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is not set")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("no telegram chat ids configured")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	n := newNotifier(api, cfg.ChatIDs, logger)
	n.logger.Info().Str("account", api.Self.UserName).Msg("Authorized on Telegram")
	return n, nil
}

func newNotifier(api sender, chatIDs []int64, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		chatIDs: append([]int64(nil), chatIDs...),
		logger:  logger.With().Str("component", "telegram").Logger(),
	}
}

// HandleEvent sends a message for competency_achieved and session_completed
// events and ignores everything else
func (n *Notifier) HandleEvent(ctx context.Context, event events.Event) error {
	text, ok := messageFor(event)
	if !ok {
		return nil
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.api.Send(msg); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Str("event_id", event.ID).Msg("Failed to send notification")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func messageFor(event events.Event) (string, bool) {
	level, _ := event.Data["level"].(string)
	target, _ := event.Data["target_level"].(string)

	var b strings.Builder
	switch event.Type {
	case events.CompetencyAchieved:
		fmt.Fprintf(&b, "🎉 Agent %s reached %s competency.", event.AgentID, level)
	case events.SessionCompleted:
		fmt.Fprintf(&b, "Agent %s finished training at %s", event.AgentID, level)
		if target != "" && target != level {
			fmt.Fprintf(&b, " (target was %s)", target)
		}
		b.WriteString(".")
	default:
		return "", false
	}
	if iterations, ok := event.Data["iterations"].(int); ok {
		fmt.Fprintf(&b, "\nIterations: %d", iterations)
	}
	fmt.Fprintf(&b, "\nSession: %s", event.SessionID)
	return b.String(), true
}
