package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/gateway"
	"github.com/aussiebroadwan/authbot/internal/authbot/metrics"
	"github.com/aussiebroadwan/authbot/pkg/cryptox"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
)

var (
	ErrDeliveryFailed  = errors.New("otp delivery failed")
	ErrTooManyRequests = errors.New("too many code requests")
)

// Issuer generates, stores and delivers one-time codes.
type Issuer struct {
	Records *Records
	Sender  gateway.Sender

	CodeLength int
	TTL        time.Duration

	// MaxRequests caps codes delivered per user within RequestWindow.
	// Zero disables the cap.
	MaxRequests   int
	RequestWindow time.Duration
}

// Issue sends a fresh code to phone for userID. Any earlier unused code is
// retired. When delivery fails the new code is retired as well and the
// returned error wraps ErrDeliveryFailed.
func (s *Issuer) Issue(ctx context.Context, userID, phone string) (domain.OTPCode, error) {
	log := slogx.FromContext(ctx)

	if s.MaxRequests > 0 {
		n, err := s.Records.RecentCodeRequests(ctx, userID, s.RequestWindow)
		if err != nil {
			return domain.OTPCode{}, err
		}
		if n >= s.MaxRequests {
			log.Warn("otp request throttled",
				slog.Int("recent_requests", n),
			)
			metrics.OTPIssued.WithLabelValues("throttled").Inc()
			return domain.OTPCode{}, ErrTooManyRequests
		}
	}

	code, err := cryptox.GenerateNumericCode(s.CodeLength)
	if err != nil {
		return domain.OTPCode{}, fmt.Errorf("generate otp: %w", err)
	}

	saved, err := s.Records.SaveOTP(ctx, userID, phone, code, s.TTL)
	if err != nil {
		return domain.OTPCode{}, err
	}

	if err := s.Sender.Send(ctx, phone, code); err != nil {
		log.Error("otp delivery failed", slog.Any("error", err))
		metrics.OTPIssued.WithLabelValues("delivery_failed").Inc()

		// Use a fresh context so a cancelled send still retires the code.
		retireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := s.Records.RetireOTP(retireCtx, userID); rerr != nil {
			log.Error("failed to retire undelivered otp", slog.Any("error", rerr))
		}
		return domain.OTPCode{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	if err := s.Records.MarkDelivered(ctx, saved.ID); err != nil {
		// The user has the code; only the throttle undercounts it.
		log.Error("failed to mark otp delivered", slog.Int64("otp_id", saved.ID), slog.Any("error", err))
	}

	metrics.OTPIssued.WithLabelValues("sent").Inc()
	log.Info("otp issued",
		slog.Int64("otp_id", saved.ID),
		slog.Time("expires_at", saved.ExpiresAt),
	)
	return saved, nil
}
