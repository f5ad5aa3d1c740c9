package domain

import "time"

type Stage string

const (
	StageIdle          Stage = "idle"
	StageAwaitingPhone Stage = "awaiting_phone"
	StageAwaitingCode  Stage = "awaiting_code"
)

// Conversation is the ephemeral per-user progress marker. It is never written
// to the record store.
type Conversation struct {
	Stage     Stage     `json:"stage"`
	Phone     string    `json:"phone,omitempty"` // pending canonical phone while awaiting a code
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle is the zero conversation for users we have no state for.
func Idle() Conversation { return Conversation{Stage: StageIdle} }
