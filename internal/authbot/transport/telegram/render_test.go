package telegram

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

func TestRender_RequestPhoneHasContactKeyboard(t *testing.T) {
	text, markup := Render(domain.Reply{Kind: domain.ReplyRequestPhone, Hint: domain.HintRequestContact})
	require.Contains(t, text, "share your mobile number")

	kb, ok := markup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.True(t, kb.OneTimeKeyboard)
	require.Len(t, kb.Keyboard, 1)
	require.True(t, kb.Keyboard[0][0].RequestContact)
}

func TestRender_RemoveKeyboard(t *testing.T) {
	_, markup := Render(domain.Reply{Kind: domain.ReplyVerified, Hint: domain.HintRemoveKeyboard})
	rm, ok := markup.(tgbotapi.ReplyKeyboardRemove)
	require.True(t, ok)
	require.True(t, rm.RemoveKeyboard)
}

func TestRender_NoHintNoMarkup(t *testing.T) {
	_, markup := Render(domain.Reply{Kind: domain.ReplyUseMenu})
	require.Nil(t, markup)
}

func TestRender_Texts(t *testing.T) {
	until := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		reply domain.Reply
		want  string
	}{
		{domain.Reply{Kind: domain.ReplyCodeSent, Phone: "989121234567", Validity: 5 * time.Minute}, "sent to 989121234567"},
		{domain.Reply{Kind: domain.ReplyCodeSent, Validity: 5 * time.Minute}, "valid for 5 minutes"},
		{domain.Reply{Kind: domain.ReplyCodeRejected, Remaining: 1}, "1 attempt remaining"},
		{domain.Reply{Kind: domain.ReplyCodeRejected, Remaining: 2}, "2 attempts remaining"},
		{domain.Reply{Kind: domain.ReplyCodeMalformed, CodeLength: 6}, "exactly 6 digits"},
		{domain.Reply{Kind: domain.ReplyBannedNow, BanDuration: 24 * time.Hour}, "blocked for 24 hours"},
		{domain.Reply{Kind: domain.ReplyBanned, BanUntil: &until}, "2025-03-02 12:00 UTC"},
		{domain.Reply{Kind: domain.ReplyCodeExpired}, "/start"},
	}
	for _, tc := range cases {
		text, _ := Render(tc.reply)
		require.Contains(t, text, tc.want, string(tc.reply.Kind))
	}
}

func TestRender_EveryKindHasText(t *testing.T) {
	kinds := []domain.ReplyKind{
		domain.ReplyRequestPhone, domain.ReplyAlreadyVerified, domain.ReplyBanned,
		domain.ReplyPhoneMissing, domain.ReplyPhoneInvalid, domain.ReplyPhoneBanned,
		domain.ReplyRegistrationFailed, domain.ReplyDeliveryFailed, domain.ReplyTooManyRequests,
		domain.ReplyCodeSent, domain.ReplyCodeMalformed, domain.ReplyCodeRejected,
		domain.ReplyCodeExpired, domain.ReplyVerified, domain.ReplyBannedNow,
		domain.ReplyUseMenu, domain.ReplySlowDown, domain.ReplyServiceUnavailable,
	}
	for _, k := range kinds {
		text, _ := Render(domain.Reply{Kind: k})
		require.NotEqual(t, string(k), text, "kind %s falls through to default", k)
	}
}

func TestHumanDuration(t *testing.T) {
	require.Equal(t, "1 minute", humanDuration(time.Minute))
	require.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	require.Equal(t, "2 hours", humanDuration(2*time.Hour))
	require.Equal(t, "45s", humanDuration(45*time.Second))
	require.Equal(t, "a short while", humanDuration(0))
}
