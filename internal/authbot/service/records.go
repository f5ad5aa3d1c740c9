package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/store"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
)

// Records is the durable record contract the verification flow runs on:
// users, one-time codes and the failed-attempt audit log.
type Records struct {
	Store store.Store

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Records) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// RegisterUser inserts or re-registers userID with phone and profile.
// Re-registration replaces the phone and profile and resets verification;
// ban state is kept. A phone held by another user that never verified it is
// taken over: the stale holder loses the number and its live code. Returns
// store.ErrAlreadyExists when the phone belongs to a verified or banned user.
func (r *Records) RegisterUser(ctx context.Context, userID, phone string, profile domain.Profile) error {
	log := slogx.FromContext(ctx)
	now := r.now()
	var released string

	err := r.Store.WithTx(ctx, func(tx store.Tx) error {
		owner, err := tx.Users().GetUserByPhone(ctx, phone)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case owner.ID == userID:
		case owner.IsVerified || owner.BanActive(now):
			return store.ErrAlreadyExists
		default:
			if err := tx.Users().ReleasePhone(ctx, owner.ID); err != nil {
				return err
			}
			if _, err := tx.OTPCodes().RetireUnusedOTPCodes(ctx, owner.ID); err != nil {
				return err
			}
			released = owner.ID
		}

		return tx.Users().UpsertUser(ctx, domain.User{
			ID:          userID,
			PhoneNumber: phone,
			Profile:     profile,
			CreatedAt:   now,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Warn("phone already registered to another user")
			return err
		}
		return fmt.Errorf("register user: %w", err)
	}

	if released != "" {
		log.Info("phone taken over from unverified user", slog.String("previous_owner_id", released))
	}
	log.Debug("user registered")
	return nil
}

// FindUser returns the user with found=false on a miss.
func (r *Records) FindUser(ctx context.Context, userID string) (domain.User, bool, error) {
	return found(r.Store.Users().GetUserByID(ctx, userID))
}

// FindUserByPhone returns the owner of phone with found=false on a miss.
func (r *Records) FindUserByPhone(ctx context.Context, phone string) (domain.User, bool, error) {
	return found(r.Store.Users().GetUserByPhone(ctx, phone))
}

func found(u domain.User, err error) (domain.User, bool, error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return u, true, nil
}

func (r *Records) SetVerified(ctx context.Context, userID string, at time.Time) error {
	if err := r.Store.Users().SetVerified(ctx, userID, at); err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	return nil
}

// Ban bans userID until now+d.
func (r *Records) Ban(ctx context.Context, userID string, d time.Duration) error {
	if err := r.Store.Users().SetBan(ctx, userID, r.now().Add(d)); err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	return nil
}

// IsBanned reports whether userID is under an active ban. A ban that has run
// out is cleared before returning false. Unknown users are not banned.
func (r *Records) IsBanned(ctx context.Context, userID string) (bool, error) {
	u, ok, err := r.FindUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	if !ok || !u.IsBanned {
		return false, nil
	}
	if u.BanActive(r.now()) {
		return true, nil
	}

	if err := r.Store.Users().ClearBan(ctx, userID); err != nil {
		return false, fmt.Errorf("clear expired ban: %w", err)
	}
	slogx.FromContext(ctx).Info("expired ban cleared")
	return false, nil
}

// SaveOTP retires every unused code of userID and stores code as the only
// live one, valid for ttl. Both steps commit together or not at all.
func (r *Records) SaveOTP(ctx context.Context, userID, phone, code string, ttl time.Duration) (domain.OTPCode, error) {
	now := r.now()
	var saved domain.OTPCode

	err := r.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.OTPCodes().RetireUnusedOTPCodes(ctx, userID); err != nil {
			return err
		}
		c, err := tx.OTPCodes().CreateOTPCode(ctx, domain.OTPCode{
			UserID:      userID,
			PhoneNumber: phone,
			Code:        code,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		})
		if err != nil {
			return err
		}
		saved = c
		return nil
	})
	if err != nil {
		return domain.OTPCode{}, fmt.Errorf("save otp: %w", err)
	}
	return saved, nil
}

// RetireOTP marks every unused code of userID as used.
func (r *Records) RetireOTP(ctx context.Context, userID string) error {
	if _, err := r.Store.OTPCodes().RetireUnusedOTPCodes(ctx, userID); err != nil {
		return fmt.Errorf("retire otp: %w", err)
	}
	return nil
}

// VerifyOTP redeems code against the live code of userID. On a match the code
// is consumed with a conditional update, so of two concurrent redemptions only
// one succeeds. A mismatch changes nothing.
func (r *Records) VerifyOTP(ctx context.Context, userID, code string) (bool, error) {
	live, ok, err := r.liveCode(ctx, r.Store, userID)
	if err != nil || !ok {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(live.Code), []byte(code)) != 1 {
		return false, nil
	}

	consumed, err := r.Store.OTPCodes().ConsumeOTPCode(ctx, live.ID)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return consumed, nil
}

// HasLiveCode reports whether userID holds an unused, unexpired code.
func (r *Records) HasLiveCode(ctx context.Context, userID string) (bool, error) {
	_, ok, err := r.liveCode(ctx, r.Store, userID)
	return ok, err
}

// ActiveAttempts returns the attempts made against the live code, or 0.
func (r *Records) ActiveAttempts(ctx context.Context, userID string) (int, error) {
	live, ok, err := r.liveCode(ctx, r.Store, userID)
	if err != nil || !ok {
		return 0, err
	}
	return live.Attempts, nil
}

// RecordFailedAttempt appends an audit row and counts the attempt against the
// live code, if any, in one transaction. The live code stays unused.
func (r *Records) RecordFailedAttempt(ctx context.Context, userID, phone, kind string) error {
	now := r.now()

	err := r.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.FailedAttempts().CreateFailedAttempt(ctx, domain.FailedAttempt{
			UserID:      userID,
			PhoneNumber: phone,
			Kind:        kind,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		live, ok, err := r.liveCode(ctx, tx, userID)
		if err != nil || !ok {
			return err
		}
		_, err = tx.OTPCodes().IncrementOTPCodeAttempts(ctx, live.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	return nil
}

// MarkDelivered records that the gateway accepted the code with id.
func (r *Records) MarkDelivered(ctx context.Context, id int64) error {
	if err := r.Store.OTPCodes().MarkOTPCodeDelivered(ctx, id, r.now()); err != nil {
		return fmt.Errorf("mark otp delivered: %w", err)
	}
	return nil
}

// RecentCodeRequests counts codes delivered to userID within window. Codes
// the gateway never accepted do not count.
func (r *Records) RecentCodeRequests(ctx context.Context, userID string, window time.Duration) (int, error) {
	n, err := r.Store.OTPCodes().CountDeliveredOTPCodesSince(ctx, userID, r.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count code requests: %w", err)
	}
	return n, nil
}

// RecentFailedAttempts counts audit rows for userID within window.
func (r *Records) RecentFailedAttempts(ctx context.Context, userID string, window time.Duration) (int, error) {
	n, err := r.Store.FailedAttempts().CountFailedAttemptsSince(ctx, userID, r.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return n, nil
}

// liveCode reads through s so it can run inside a transaction.
func (r *Records) liveCode(ctx context.Context, s store.Store, userID string) (domain.OTPCode, bool, error) {
	c, err := s.OTPCodes().GetLatestUnusedOTPCode(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.OTPCode{}, false, nil
		}
		return domain.OTPCode{}, false, fmt.Errorf("load otp: %w", err)
	}
	if !c.Live(r.now()) {
		return domain.OTPCode{}, false, nil
	}
	return c, true, nil
}
