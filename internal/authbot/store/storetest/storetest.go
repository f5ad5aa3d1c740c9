// Package storetest holds the behavioural suite every store driver must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a migrated, empty store. The suite closes nothing; the
// factory registers its own cleanup.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the driver returned by newStore against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("re-registration", func(t *testing.T) { testReRegistration(t, newStore(t)) })
	t.Run("phone uniqueness", func(t *testing.T) { testPhoneUniqueness(t, newStore(t)) })
	t.Run("release phone", func(t *testing.T) { testReleasePhone(t, newStore(t)) })
	t.Run("ban", func(t *testing.T) { testBan(t, newStore(t)) })
	t.Run("otp lifecycle", func(t *testing.T) { testOTPLifecycle(t, newStore(t)) })
	t.Run("one live code per user", func(t *testing.T) { testOneLiveCode(t, newStore(t)) })
	t.Run("otp counts", func(t *testing.T) { testOTPCounts(t, newStore(t)) })
	t.Run("failed attempts", func(t *testing.T) { testFailedAttempts(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

func seedUser(t *testing.T, s store.Store, id, phone string) domain.User {
	t.Helper()
	u := domain.User{
		ID:          id,
		PhoneNumber: phone,
		Profile:     domain.Profile{FirstName: "Sara", LastName: "Ahmadi", Username: "sara"},
		CreatedAt:   base,
	}
	require.NoError(t, s.Users().UpsertUser(context.Background(), u))
	return u
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Users().GetUserByID(ctx, "42")
	require.ErrorIs(t, err, store.ErrNotFound)

	seedUser(t, s, "42", "989123456789")

	got, err := s.Users().GetUserByID(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "989123456789", got.PhoneNumber)
	require.Equal(t, "Sara", got.Profile.FirstName)
	require.Equal(t, "Ahmadi", got.Profile.LastName)
	require.Equal(t, "sara", got.Profile.Username)
	require.False(t, got.IsVerified)
	require.Nil(t, got.VerifiedAt)
	require.False(t, got.IsBanned)
	require.Nil(t, got.BanUntil)
	require.WithinDuration(t, base, got.CreatedAt, time.Second)

	byPhone, err := s.Users().GetUserByPhone(ctx, "989123456789")
	require.NoError(t, err)
	require.Equal(t, "42", byPhone.ID)

	_, err = s.Users().GetUserByPhone(ctx, "989000000000")
	require.ErrorIs(t, err, store.ErrNotFound)

	verifiedAt := base.Add(time.Minute)
	require.NoError(t, s.Users().SetVerified(ctx, "42", verifiedAt))
	got, err = s.Users().GetUserByID(ctx, "42")
	require.NoError(t, err)
	require.True(t, got.IsVerified)
	require.NotNil(t, got.VerifiedAt)
	require.WithinDuration(t, verifiedAt, *got.VerifiedAt, time.Second)

	// Idempotent apart from the timestamp.
	require.NoError(t, s.Users().SetVerified(ctx, "42", verifiedAt.Add(time.Hour)))
	got, err = s.Users().GetUserByID(ctx, "42")
	require.NoError(t, err)
	require.True(t, got.IsVerified)

	require.ErrorIs(t, s.Users().SetVerified(ctx, "missing", base), store.ErrNotFound)
}

func testReRegistration(t *testing.T, s store.Store) {
	ctx := context.Background()

	seedUser(t, s, "7", "989120000001")
	require.NoError(t, s.Users().SetVerified(ctx, "7", base))
	until := base.Add(24 * time.Hour)
	require.NoError(t, s.Users().SetBan(ctx, "7", until))

	require.NoError(t, s.Users().UpsertUser(ctx, domain.User{
		ID:          "7",
		PhoneNumber: "989120000002",
		Profile:     domain.Profile{FirstName: "Reza"},
	}))

	got, err := s.Users().GetUserByID(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "989120000002", got.PhoneNumber)
	require.Equal(t, "Reza", got.Profile.FirstName)
	require.Empty(t, got.Profile.LastName)
	require.False(t, got.IsVerified, "re-registration resets verification")
	require.Nil(t, got.VerifiedAt)
	require.True(t, got.IsBanned, "re-registration keeps the ban")
	require.NotNil(t, got.BanUntil)
	require.WithinDuration(t, until, *got.BanUntil, time.Second)
	require.WithinDuration(t, base, got.CreatedAt, time.Second)

	_, err = s.Users().GetUserByPhone(ctx, "989120000001")
	require.ErrorIs(t, err, store.ErrNotFound, "old phone is released")
}

func testPhoneUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()

	seedUser(t, s, "1", "989121111111")
	err := s.Users().UpsertUser(ctx, domain.User{ID: "2", PhoneNumber: "989121111111"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.Users().GetUserByID(ctx, "2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testReleasePhone(t *testing.T, s store.Store) {
	ctx := context.Background()

	seedUser(t, s, "10", "989121112233")
	require.NoError(t, s.Users().SetVerified(ctx, "10", base))

	require.NoError(t, s.Users().ReleasePhone(ctx, "10"))

	got, err := s.Users().GetUserByID(ctx, "10")
	require.NoError(t, err)
	require.Empty(t, got.PhoneNumber)
	require.False(t, got.IsVerified)
	require.Nil(t, got.VerifiedAt)
	require.Equal(t, "Sara", got.Profile.FirstName, "the row itself is kept")

	_, err = s.Users().GetUserByPhone(ctx, "989121112233")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Released rows do not collide with each other or with the new holder.
	seedUser(t, s, "11", "989121114455")
	require.NoError(t, s.Users().ReleasePhone(ctx, "11"))
	seedUser(t, s, "20", "989121112233")

	byPhone, err := s.Users().GetUserByPhone(ctx, "989121112233")
	require.NoError(t, err)
	require.Equal(t, "20", byPhone.ID)

	require.ErrorIs(t, s.Users().ReleasePhone(ctx, "missing"), store.ErrNotFound)
}

func testBan(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "9", "989129999999")

	until := base.Add(24 * time.Hour)
	require.NoError(t, s.Users().SetBan(ctx, "9", until))

	got, err := s.Users().GetUserByID(ctx, "9")
	require.NoError(t, err)
	require.True(t, got.IsBanned)
	require.True(t, got.BanActive(base))
	require.False(t, got.BanActive(until.Add(time.Second)))

	require.NoError(t, s.Users().ClearBan(ctx, "9"))
	got, err = s.Users().GetUserByID(ctx, "9")
	require.NoError(t, err)
	require.False(t, got.IsBanned)
	require.Nil(t, got.BanUntil)

	require.ErrorIs(t, s.Users().SetBan(ctx, "missing", until), store.ErrNotFound)
	require.ErrorIs(t, s.Users().ClearBan(ctx, "missing"), store.ErrNotFound)
}

func newCode(userID, phone, code string, createdAt time.Time) domain.OTPCode {
	return domain.OTPCode{
		UserID:      userID,
		PhoneNumber: phone,
		Code:        code,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(2 * time.Minute),
	}
}

func testOTPLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "5", "989125555555")

	_, err := s.OTPCodes().GetLatestUnusedOTPCode(ctx, "5")
	require.ErrorIs(t, err, store.ErrNotFound)

	created, err := s.OTPCodes().CreateOTPCode(ctx, newCode("5", "989125555555", "12345", base))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	live, err := s.OTPCodes().GetLatestUnusedOTPCode(ctx, "5")
	require.NoError(t, err)
	require.Equal(t, created.ID, live.ID)
	require.Equal(t, "12345", live.Code)
	require.Equal(t, 0, live.Attempts)
	require.False(t, live.IsUsed)
	require.Nil(t, live.DeliveredAt)
	require.WithinDuration(t, base.Add(2*time.Minute), live.ExpiresAt, time.Second)

	deliveredAt := base.Add(time.Second)
	require.NoError(t, s.OTPCodes().MarkOTPCodeDelivered(ctx, created.ID, deliveredAt))
	live, err = s.OTPCodes().GetLatestUnusedOTPCode(ctx, "5")
	require.NoError(t, err)
	require.NotNil(t, live.DeliveredAt)
	require.WithinDuration(t, deliveredAt, *live.DeliveredAt, time.Second)

	require.ErrorIs(t, s.OTPCodes().MarkOTPCodeDelivered(ctx, created.ID+100, base), store.ErrNotFound)

	n, err := s.OTPCodes().IncrementOTPCodeAttempts(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, err := s.OTPCodes().ConsumeOTPCode(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.OTPCodes().ConsumeOTPCode(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, ok, "a code is consumed at most once")

	_, err = s.OTPCodes().IncrementOTPCodeAttempts(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.OTPCodes().GetLatestUnusedOTPCode(ctx, "5")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testOneLiveCode(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "6", "989126666666")

	_, err := s.OTPCodes().CreateOTPCode(ctx, newCode("6", "989126666666", "11111", base))
	require.NoError(t, err)

	// A second unused code without retiring the first is refused.
	_, err = s.OTPCodes().CreateOTPCode(ctx, newCode("6", "989126666666", "22222", base.Add(time.Second)))
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	retired, err := s.OTPCodes().RetireUnusedOTPCodes(ctx, "6")
	require.NoError(t, err)
	require.EqualValues(t, 1, retired)

	second, err := s.OTPCodes().CreateOTPCode(ctx, newCode("6", "989126666666", "22222", base.Add(time.Second)))
	require.NoError(t, err)

	live, err := s.OTPCodes().GetLatestUnusedOTPCode(ctx, "6")
	require.NoError(t, err)
	require.Equal(t, second.ID, live.ID)
	require.Equal(t, "22222", live.Code)

	retired, err = s.OTPCodes().RetireUnusedOTPCodes(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, retired)
}

func testOTPCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "8", "989128888888")

	// Codes at base, base+1m and base+2m; the middle one never reached the user.
	for i := range 3 {
		_, err := s.OTPCodes().RetireUnusedOTPCodes(ctx, "8")
		require.NoError(t, err)
		createdAt := base.Add(time.Duration(i) * time.Minute)
		c, err := s.OTPCodes().CreateOTPCode(ctx, newCode("8", "989128888888", "00000", createdAt))
		require.NoError(t, err)
		if i != 1 {
			require.NoError(t, s.OTPCodes().MarkOTPCodeDelivered(ctx, c.ID, createdAt))
		}
	}

	n, err := s.OTPCodes().CountDeliveredOTPCodesSince(ctx, "8", base)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.OTPCodes().CountDeliveredOTPCodesSince(ctx, "8", base.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.OTPCodes().CountDeliveredOTPCodesSince(ctx, "nobody", base)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testFailedAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "3", "989123333333")

	for i := range 4 {
		require.NoError(t, s.FailedAttempts().CreateFailedAttempt(ctx, domain.FailedAttempt{
			UserID:      "3",
			PhoneNumber: "989123333333",
			Kind:        domain.AttemptInvalidOTP,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	n, err := s.FailedAttempts().CountFailedAttemptsSince(ctx, "3", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.FailedAttempts().CountFailedAttemptsSince(ctx, "3", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

var errBoom = errors.New("boom")

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUser(t, s, "4", "989124444444")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.OTPCodes().CreateOTPCode(ctx, newCode("4", "989124444444", "44444", base)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.OTPCodes().GetLatestUnusedOTPCode(ctx, "4")
	require.ErrorIs(t, err, store.ErrNotFound, "rolled back")

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.OTPCodes().CreateOTPCode(ctx, newCode("4", "989124444444", "44444", base))
		return err
	})
	require.NoError(t, err)

	live, err := s.OTPCodes().GetLatestUnusedOTPCode(ctx, "4")
	require.NoError(t, err)
	require.Equal(t, "44444", live.Code)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.WithTx(ctx, func(store.Tx) error { return nil })
	})
	require.Error(t, err, "nested transactions are not supported")
}
