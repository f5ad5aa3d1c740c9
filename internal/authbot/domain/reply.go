package domain

import "time"

// ReplyKind identifies what the conversation wants to tell the user. Turning
// it into words is the transport's job.
type ReplyKind string

const (
	ReplyRequestPhone       ReplyKind = "request_phone"
	ReplyAlreadyVerified    ReplyKind = "already_verified"
	ReplyBanned             ReplyKind = "banned"
	ReplyPhoneMissing       ReplyKind = "phone_missing"
	ReplyPhoneInvalid       ReplyKind = "phone_invalid"
	ReplyPhoneBanned        ReplyKind = "phone_banned"
	ReplyRegistrationFailed ReplyKind = "registration_failed"
	ReplyDeliveryFailed     ReplyKind = "delivery_failed"
	ReplyTooManyRequests    ReplyKind = "too_many_requests"
	ReplyCodeSent           ReplyKind = "code_sent"
	ReplyCodeMalformed      ReplyKind = "code_malformed"
	ReplyCodeRejected       ReplyKind = "code_rejected"
	ReplyCodeExpired        ReplyKind = "code_expired"
	ReplyVerified           ReplyKind = "verified"
	ReplyBannedNow          ReplyKind = "banned_now"
	ReplyUseMenu            ReplyKind = "use_menu"
	ReplySlowDown           ReplyKind = "slow_down"
	ReplyServiceUnavailable ReplyKind = "service_unavailable"
)

// UIHint tells the transport which keyboard to attach.
type UIHint string

const (
	HintNone           UIHint = ""
	HintRequestContact UIHint = "request_contact"
	HintRemoveKeyboard UIHint = "remove_keyboard"
)

type Reply struct {
	UserID      string
	Kind        ReplyKind
	Hint        UIHint
	Phone       string        // ReplyCodeSent
	Validity    time.Duration // ReplyCodeSent
	Remaining   int           // ReplyCodeRejected
	CodeLength  int           // ReplyCodeMalformed
	BanDuration time.Duration // ReplyBannedNow
	BanUntil    *time.Time    // ReplyBanned, when known
}
