package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/metrics"
	"github.com/aussiebroadwan/authbot/pkg/cryptox"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
)

var ErrMalformedCode = errors.New("malformed code")

// Verifier checks submitted codes, spends the attempt budget and bans users
// who exhaust it.
type Verifier struct {
	Records *Records

	CodeLength  int
	MaxAttempts int
	BanDuration time.Duration
}

// Attempt checks submitted against the live code of userID. A malformed
// submission returns ErrMalformedCode and does not count as an attempt.
// Storage failures are returned as errors.
func (s *Verifier) Attempt(ctx context.Context, userID, phone, submitted string) (domain.Outcome, error) {
	out, err := s.attempt(ctx, userID, phone, submitted)
	if err == nil {
		metrics.VerificationOutcomes.WithLabelValues(out.Kind.String()).Inc()
	}
	return out, err
}

func (s *Verifier) attempt(ctx context.Context, userID, phone, submitted string) (domain.Outcome, error) {
	log := slogx.FromContext(ctx)

	if !cryptox.IsNumericCode(submitted, s.CodeLength) {
		return domain.Outcome{}, ErrMalformedCode
	}

	banned, err := s.Records.IsBanned(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if banned {
		return domain.Banned(), nil
	}

	ok, err := s.Records.VerifyOTP(ctx, userID, submitted)
	if err != nil {
		return domain.Outcome{}, err
	}
	if ok {
		if err := s.Records.SetVerified(ctx, userID, s.Records.now()); err != nil {
			return domain.Outcome{}, err
		}
		log.Info("user verified")
		return domain.Accepted(), nil
	}

	live, err := s.Records.HasLiveCode(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !live {
		if err := s.Records.RecordFailedAttempt(ctx, userID, phone, domain.AttemptExpiredOTP); err != nil {
			return domain.Outcome{}, err
		}
		log.Info("code submitted without a live code")
		return domain.Expired(), nil
	}

	if err := s.Records.RecordFailedAttempt(ctx, userID, phone, domain.AttemptInvalidOTP); err != nil {
		return domain.Outcome{}, err
	}
	attempts, err := s.Records.ActiveAttempts(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	remaining := s.MaxAttempts - attempts
	if remaining > 0 {
		log.Info("invalid code", slog.Int("remaining", remaining))
		return domain.Rejected(remaining), nil
	}

	if err := s.Records.Ban(ctx, userID, s.BanDuration); err != nil {
		return domain.Outcome{}, err
	}
	// The spent code must not be redeemable after the ban lifts.
	if err := s.Records.RetireOTP(ctx, userID); err != nil {
		return domain.Outcome{}, err
	}
	metrics.Bans.Inc()

	recent, err := s.Records.RecentFailedAttempts(ctx, userID, s.BanDuration)
	if err != nil {
		recent = -1
	}
	log.Warn("user banned after exhausting attempts",
		slog.Duration("ban_duration", s.BanDuration),
		slog.Int("recent_failures", recent),
	)
	return domain.Banned(), nil
}
