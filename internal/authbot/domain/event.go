package domain

import "github.com/aussiebroadwan/authbot/pkg/idx"

type EventKind string

const (
	EventStart       EventKind = "start"
	EventPhoneShared EventKind = "phone_shared"
	EventText        EventKind = "text"
)

// Event is one inbound user action delivered by the chat transport. Delivery
// order and count are not guaranteed.
type Event struct {
	ID      idx.ID
	Kind    EventKind
	UserID  string
	Phone   string  // PhoneShared only, as received
	Profile Profile // PhoneShared only
	Text    string  // Text only
}
