// Package telegram connects the bot to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/bot"
	"github.com/spigell/pitch-analyst/internal/logger"
)

const (
	pollTimeout = 60
	// maxMessageLength is the Bot API limit for a single text message,
	// counted in UTF-16 code units.
	maxMessageLength = 4096
)

// API is the subset of tgbotapi.BotAPI the gateway uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Gateway receives updates by long polling and delivers replies.
type Gateway struct {
	api    API
	logger *zap.Logger
}

func New(token string, log *zap.Logger) (*Gateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	log = logger.WithFields(log)
	log.Info("authorized on telegram", zap.String("bot", api.Self.UserName))

	return NewWithAPI(api, log), nil
}

func NewWithAPI(api API, log *zap.Logger) *Gateway {
	return &Gateway{api: api, logger: logger.WithFields(log)}
}

// Send delivers text to a private chat. Texts over the API limit are split.
func (g *Gateway) Send(ctx context.Context, participantID, text string) error {
	chatID, err := strconv.ParseInt(participantID, 10, 64)
	if err != nil {
		return fmt.Errorf("participant id %q is not a telegram chat id: %w", participantID, err)
	}

	for _, chunk := range split(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := g.api.Send(msg); err != nil {
			return fmt.Errorf("sending message to %d: %w", chatID, err)
		}
	}
	return nil
}

// Run polls for updates and hands every recognised event to submit until ctx ends.
func (g *Gateway) Run(ctx context.Context, submit func(bot.Event) error) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := g.api.GetUpdatesChan(u)
	defer g.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}

			ev, ok := EventFromUpdate(update)
			if !ok {
				continue
			}

			if err := submit(ev); err != nil {
				g.logger.Warn("dropping telegram update",
					zap.Int("update_id", update.UpdateID),
					zap.String(logger.FieldParticipant, ev.ParticipantID),
					zap.Error(err),
				)
			}
		}
	}
}

// EventFromUpdate converts a private text message into a bot event.
func EventFromUpdate(update tgbotapi.Update) (bot.Event, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return bot.Event{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return bot.Event{}, false
	}

	ev := bot.Event{
		Kind:          bot.EventText,
		ParticipantID: strconv.FormatInt(msg.From.ID, 10),
		DisplayName:   displayName(msg.From),
		Text:          msg.Text,
	}

	if msg.IsCommand() {
		ev.Text = msg.CommandArguments()
		switch strings.ToLower(msg.Command()) {
		case "start":
			ev.Kind = bot.EventStart
		case "pitch":
			ev.Kind = bot.EventPitch
		case "paid", "check":
			ev.Kind = bot.EventCheckPayment
		case "cancel":
			ev.Kind = bot.EventCancel
		default:
			ev.Kind = bot.EventHelp
		}
	}

	return ev, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// split cuts text into chunks of at most limit UTF-16 code units, the unit
// the Bot API counts message length in.
func split(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		end, units, newline := 0, 0, 0
		for end < len(runes) {
			n := max(utf16.RuneLen(runes[end]), 1)
			if units+n > limit {
				break
			}
			units += n
			end++
			// prefer breaking after the last newline of the second half
			if runes[end-1] == '\n' && units > limit/2 {
				newline = end
			}
		}
		if end == len(runes) {
			chunks = append(chunks, string(runes))
			break
		}
		if newline > 0 {
			end = newline
		}
		end = max(end, 1)
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		n += max(utf16.RuneLen(r), 1)
	}
	return n
}
