package telegram

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const shareContactLabel = "Share my phone number"

// Render turns a reply into message text and an optional keyboard markup.
func Render(r domain.Reply) (string, any) {
	return renderText(r), renderMarkup(r.Hint)
}

func renderText(r domain.Reply) string {
	switch r.Kind {
	case domain.ReplyRequestPhone:
		return "Welcome to phone verification.\n\nPlease share your mobile number with the button below to continue."
	case domain.ReplyAlreadyVerified:
		return "You are already verified. You can go back to the main bot."
	case domain.ReplyBanned:
		if r.BanUntil != nil {
			return fmt.Sprintf("Your account is temporarily blocked after too many failed attempts. Try again after %s.",
				r.BanUntil.UTC().Format("2006-01-02 15:04 UTC"))
		}
		return "Your account is temporarily blocked after too many failed attempts."
	case domain.ReplyPhoneMissing:
		return "We did not receive your phone number. Please share your own number with the button."
	case domain.ReplyPhoneInvalid:
		return "That does not look like a valid mobile number. Please share your own number with the button."
	case domain.ReplyPhoneBanned:
		return "This phone number is blocked."
	case domain.ReplyRegistrationFailed:
		return "This phone number is already linked to another account."
	case domain.ReplyDeliveryFailed:
		return "We could not send the verification code. Please share your number again to retry."
	case domain.ReplyTooManyRequests:
		return "Too many codes were requested. Please wait a while before trying again."
	case domain.ReplyCodeSent:
		return fmt.Sprintf("A verification code was sent to %s.\n\nThe code is valid for %s. Please enter it:",
			r.Phone, humanDuration(r.Validity))
	case domain.ReplyCodeMalformed:
		return fmt.Sprintf("The code must be exactly %d digits.", r.CodeLength)
	case domain.ReplyCodeRejected:
		return fmt.Sprintf("Invalid code. %s remaining. Please try again:", plural(r.Remaining, "attempt"))
	case domain.ReplyCodeExpired:
		return "Your code has expired. Send /start to get a new one."
	case domain.ReplyVerified:
		return "Your phone number is verified. You can now go back to the main bot."
	case domain.ReplyBannedNow:
		return fmt.Sprintf("Too many failed attempts. Your account is blocked for %s.", humanDuration(r.BanDuration))
	case domain.ReplyUseMenu:
		return "Please use the menu or send /start."
	case domain.ReplySlowDown:
		return "You are sending messages too quickly. Please slow down."
	case domain.ReplyServiceUnavailable:
		return "Something went wrong on our side. Please try again later."
	default:
		return string(r.Kind)
	}
}

func renderMarkup(h domain.UIHint) any {
	switch h {
	case domain.HintRequestContact:
		kb := tgbotapi.NewOneTimeReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(shareContactLabel)),
		)
		kb.ResizeKeyboard = true
		return kb
	case domain.HintRemoveKeyboard:
		return tgbotapi.NewRemoveKeyboard(true)
	default:
		return nil
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
