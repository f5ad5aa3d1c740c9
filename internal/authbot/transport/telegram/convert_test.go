package telegram

import (
	"testing"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

func privateMessage(fromID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: fromID, FirstName: "Sara", LastName: "K", UserName: "sarak"},
		Chat:      &tgbotapi.Chat{ID: fromID, Type: "private"},
	}
}

func TestEventFromUpdate_Start(t *testing.T) {
	msg := privateMessage(42)
	msg.Text = "/start"
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}

	ev, ok := EventFromUpdate(tgbotapi.Update{UpdateID: 1, Message: msg})
	require.True(t, ok)
	require.Equal(t, domain.EventStart, ev.Kind)
	require.Equal(t, "42", ev.UserID)
}

func TestEventFromUpdate_StartWithPayloadAndNoEntity(t *testing.T) {
	for _, text := range []string{"/start ref123", "/start@authbot", "  /start"} {
		msg := privateMessage(42)
		msg.Text = text

		ev, ok := EventFromUpdate(tgbotapi.Update{Message: msg})
		require.True(t, ok, text)
		require.Equal(t, domain.EventStart, ev.Kind, text)
	}
}

func TestEventFromUpdate_OtherCommandIsText(t *testing.T) {
	msg := privateMessage(42)
	msg.Text = "/help"
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}

	ev, ok := EventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	require.Equal(t, domain.EventText, ev.Kind)
	require.Equal(t, "/help", ev.Text)
}

func TestEventFromUpdate_OwnContact(t *testing.T) {
	msg := privateMessage(42)
	msg.Contact = &tgbotapi.Contact{PhoneNumber: "+98 912 123 4567", UserID: 42}

	ev, ok := EventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	require.Equal(t, domain.EventPhoneShared, ev.Kind)
	require.Equal(t, "+98 912 123 4567", ev.Phone)
	require.Equal(t, domain.Profile{FirstName: "Sara", LastName: "K", Username: "sarak"}, ev.Profile)
}

func TestEventFromUpdate_ContactWithoutUserIDIsOwn(t *testing.T) {
	msg := privateMessage(42)
	msg.Contact = &tgbotapi.Contact{PhoneNumber: "09121234567"}

	ev, ok := EventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	require.Equal(t, domain.EventPhoneShared, ev.Kind)
	require.Equal(t, "09121234567", ev.Phone)
}

func TestEventFromUpdate_ForeignContactHasNoPhone(t *testing.T) {
	msg := privateMessage(42)
	msg.Contact = &tgbotapi.Contact{PhoneNumber: "+989121234567", UserID: 7}

	ev, ok := EventFromUpdate(tgbotapi.Update{Message: msg})
	require.True(t, ok)
	require.Equal(t, domain.EventPhoneShared, ev.Kind)
	require.Empty(t, ev.Phone)
}

func TestEventFromUpdate_Skipped(t *testing.T) {
	group := privateMessage(42)
	group.Chat.Type = "group"
	group.Text = "hi"

	bot := privateMessage(42)
	bot.From.IsBot = true
	bot.Text = "hi"

	sticker := privateMessage(42)

	cases := map[string]tgbotapi.Update{
		"no message": {UpdateID: 1},
		"group chat": {Message: group},
		"from bot":   {Message: bot},
		"no text":    {Message: sticker},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := EventFromUpdate(u)
			require.False(t, ok)
		})
	}
}
