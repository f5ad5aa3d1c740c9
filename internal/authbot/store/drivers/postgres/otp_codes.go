package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
)

type otpCodesRepo struct {
	q querier
}

func (r *otpCodesRepo) CreateOTPCode(ctx context.Context, c domain.OTPCode) (domain.OTPCode, error) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO otp_codes (user_id, phone_number, code, attempts, is_used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.UserID, c.PhoneNumber, c.Code, c.Attempts, c.IsUsed, c.CreatedAt, c.ExpiresAt,
	).Scan(&c.ID)
	if err != nil {
		return domain.OTPCode{}, mapConstraint(err)
	}
	return c, nil
}

func (r *otpCodesRepo) RetireUnusedOTPCodes(ctx context.Context, userID string) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE otp_codes SET is_used = TRUE
		WHERE user_id = $1 AND NOT is_used`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *otpCodesRepo) GetLatestUnusedOTPCode(ctx context.Context, userID string) (domain.OTPCode, error) {
	c, err := scanOTPCode(r.q.QueryRowContext(ctx, `
		SELECT `+otpCodeColumns+` FROM otp_codes
		WHERE user_id = $1 AND NOT is_used
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID,
	))
	if err != nil {
		return domain.OTPCode{}, mapNotFound(err)
	}
	return c, nil
}

func (r *otpCodesRepo) ConsumeOTPCode(ctx context.Context, id int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE otp_codes SET attempts = attempts + 1, is_used = TRUE
		WHERE id = $1 AND NOT is_used`,
		id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *otpCodesRepo) IncrementOTPCodeAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := r.q.QueryRowContext(ctx, `
		UPDATE otp_codes SET attempts = attempts + 1
		WHERE id = $1 AND NOT is_used
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *otpCodesRepo) MarkOTPCodeDelivered(ctx context.Context, id int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE otp_codes SET delivered_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *otpCodesRepo) CountDeliveredOTPCodesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_codes
		WHERE user_id = $1 AND created_at >= $2 AND delivered_at IS NOT NULL`,
		userID, since.UTC(),
	).Scan(&n)
	return n, err
}
