package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. Sub-repositories are exposed as methods so a Tx-scoped Store
// hands out repositories bound to the same transaction.
type Store interface {
	Users() Users
	OTPCodes() OTPCodes
	FailedAttempts() FailedAttempts

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// UpsertUser inserts the user or, when the id already exists, replaces its
	// phone and profile and resets verification. Ban state is kept. Returns
	// ErrAlreadyExists when the phone belongs to a different user.
	UpsertUser(ctx context.Context, u domain.User) error

	// GetUserByID returns ErrNotFound on a miss.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByPhone returns ErrNotFound on a miss.
	GetUserByPhone(ctx context.Context, phone string) (domain.User, error)

	// SetVerified marks the user verified. Calling it again only moves verified_at.
	SetVerified(ctx context.Context, id string, at time.Time) error

	// SetBan sets is_banned and ban_until.
	SetBan(ctx context.Context, id string, until time.Time) error

	// ClearBan resets is_banned and ban_until.
	ClearBan(ctx context.Context, id string) error

	// ReleasePhone unbinds the user's phone number and resets verification,
	// so the number can be registered by another user.
	ReleasePhone(ctx context.Context, id string) error
}

type OTPCodes interface {
	// CreateOTPCode inserts a code and returns it with its assigned id.
	CreateOTPCode(ctx context.Context, c domain.OTPCode) (domain.OTPCode, error)

	// RetireUnusedOTPCodes marks every unused code of the user as used and
	// returns how many rows changed.
	RetireUnusedOTPCodes(ctx context.Context, userID string) (int64, error)

	// GetLatestUnusedOTPCode returns the newest unused code regardless of
	// expiry, or ErrNotFound.
	GetLatestUnusedOTPCode(ctx context.Context, userID string) (domain.OTPCode, error)

	// ConsumeOTPCode increments attempts and marks the code used, but only if
	// it is still unused. Returns false when another caller got there first.
	ConsumeOTPCode(ctx context.Context, id int64) (bool, error)

	// IncrementOTPCodeAttempts bumps attempts on an unused code and returns the
	// new count.
	IncrementOTPCodeAttempts(ctx context.Context, id int64) (int, error)

	// MarkOTPCodeDelivered records that the gateway accepted the code.
	MarkOTPCodeDelivered(ctx context.Context, id int64, at time.Time) error

	// CountDeliveredOTPCodesSince counts codes created at or after since that
	// reached the gateway. Undelivered codes are not counted.
	CountDeliveredOTPCodesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type FailedAttempts interface {
	// CreateFailedAttempt appends an audit row.
	CreateFailedAttempt(ctx context.Context, a domain.FailedAttempt) error

	// CountFailedAttemptsSince counts the user's failures at or after since.
	CountFailedAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
}
