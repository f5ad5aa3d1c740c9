package domain

import "time"

// OTPCode is one issued one-time code. At most one unused code exists per user;
// issuing a new one retires the rest.
type OTPCode struct {
	ID          int64
	UserID      string
	PhoneNumber string
	Code        string
	Attempts    int // verification attempts made against this code
	IsUsed      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	DeliveredAt *time.Time // set once the gateway accepted the code
}

// Live reports whether the code can still be redeemed at now.
func (c OTPCode) Live(now time.Time) bool {
	return !c.IsUsed && now.Before(c.ExpiresAt)
}

// Attempt kinds recorded in the failed_attempts audit log.
const (
	AttemptInvalidOTP = "invalid_otp"
	AttemptExpiredOTP = "expired_otp"
)

// FailedAttempt is an append-only audit record.
type FailedAttempt struct {
	ID          int64
	UserID      string
	PhoneNumber string
	Kind        string
	CreatedAt   time.Time
}
