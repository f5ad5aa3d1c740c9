package domain

import "time"

// Profile holds the optional display fields a chat client shares alongside a
// phone number.
type Profile struct {
	FirstName string
	LastName  string
	Username  string
}

type User struct {
	ID          string // opaque chat identity
	PhoneNumber string // canonical digits, unique across users; empty once released
	Profile     Profile
	IsVerified  bool
	VerifiedAt  *time.Time
	IsBanned    bool
	BanUntil    *time.Time // meaningful only while IsBanned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BanActive reports whether the stored ban still applies at now.
func (u User) BanActive(now time.Time) bool {
	return u.IsBanned && u.BanUntil != nil && now.Before(*u.BanUntil)
}
