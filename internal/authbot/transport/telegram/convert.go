package telegram

import (
	"strconv"
	"strings"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// EventFromUpdate maps a Bot API update onto a chat event. Updates that are
// not private messages from a user are skipped.
func EventFromUpdate(u tgbotapi.Update) (domain.Event, bool) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return domain.Event{}, false
	}
	if msg.Chat != nil && !msg.Chat.IsPrivate() {
		return domain.Event{}, false
	}

	ev := domain.Event{UserID: strconv.FormatInt(msg.From.ID, 10)}

	switch {
	case msg.Contact != nil:
		ev.Kind = domain.EventPhoneShared
		ev.Profile = domain.Profile{
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
			Username:  msg.From.UserName,
		}
		// Only the sender's own number counts; a forwarded address-book
		// contact reads as a missing phone. Some clients leave user_id unset
		// on the request_contact reply, which is always the sender's own.
		if msg.Contact.UserID == 0 || msg.Contact.UserID == msg.From.ID {
			ev.Phone = msg.Contact.PhoneNumber
		}
	case isStart(msg):
		ev.Kind = domain.EventStart
	case msg.Text != "":
		ev.Kind = domain.EventText
		ev.Text = msg.Text
	default:
		return domain.Event{}, false
	}
	return ev, true
}

// isStart accepts /start with or without a deep-link payload, including
// clients that do not mark it as a bot_command entity.
func isStart(msg *tgbotapi.Message) bool {
	if msg.IsCommand() {
		return msg.Command() == "start"
	}
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/start"
}
