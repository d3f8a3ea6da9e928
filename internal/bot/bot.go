package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/service"
)

// maxMessageLength is the Telegram limit for one text message.
const maxMessageLength = 4096

// messenger is the part of tgbotapi.BotAPI the bot sends through.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot delivers overdue digests to Telegram chats and answers /start with
// the chat id users link to their account.
type Bot struct {
	api messenger
	bot *tgbotapi.BotAPI
	log *logrus.Logger
}

func New(token string, log *logrus.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.WithField("account", api.Self.UserName).Info("bot authorized")

	return &Bot{api: api, bot: api, log: log}, nil
}

func newWithMessenger(api messenger, log *logrus.Logger) *Bot {
	return &Bot{api: api, log: log}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.bot == nil {
		return errors.New("bot: polling needs a telegram api client")
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.bot.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			continue
		}
		if err := b.handleMessage(update.Message); err != nil {
			b.log.WithError(err).Warn("handle message")
		}
	}

	return nil
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, "Send /start to get the chat id for your task-tracker account.")
	}

	b.log.WithFields(logrus.Fields{
		"chat_id": msg.Chat.ID,
		"command": msg.Command(),
	}).Debug("command received")

	switch msg.Command() {
	case "start":
		name := "there"
		if msg.From != nil && strings.TrimSpace(msg.From.FirstName) != "" {
			name = strings.TrimSpace(msg.From.FirstName)
		}
		text := fmt.Sprintf(
			"👋 Hi, %s!\nYour chat id is <code>%d</code>.\n"+
				"Pass it as <b>telegram_chat_id</b> when you register and overdue tasks will be sent here.",
			html.EscapeString(name), msg.Chat.ID,
		)
		return b.sendText(msg.Chat.ID, text)
	case "help":
		return b.sendText(msg.Chat.ID, "ℹ️ <b>Commands</b>\n• /start — show your chat id\n• /help — this message")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

// SendDigest posts the digest to the user's chat. Users without a linked
// chat are skipped.
func (b *Bot) SendDigest(ctx context.Context, digest service.Digest) error {
	chatID := digest.User.TelegramChatID
	if chatID == nil || len(digest.Tasks) == 0 {
		return nil
	}

	for _, part := range splitMessage(service.FormatDigestHTML(digest), maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.sendText(*chatID, part); err != nil {
			return fmt.Errorf("send digest to chat %d: %w", *chatID, err)
		}
	}
	return nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

// splitMessage cuts text into chunks of at most limit characters, breaking
// between lines where possible.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			parts = append(parts, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		current.WriteString(line)
		size += n
	}
	flush()
	return parts
}
