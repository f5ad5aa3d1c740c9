package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
)

type otpCodesRepo struct {
	q querier
}

func (r *otpCodesRepo) CreateOTPCode(ctx context.Context, c domain.OTPCode) (domain.OTPCode, error) {
	c.CreatedAt = utc(c.CreatedAt)
	c.ExpiresAt = utc(c.ExpiresAt)

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO otp_codes (user_id, phone_number, code, attempts, is_used, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
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
		WHERE user_id = ? AND is_used = FALSE`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *otpCodesRepo) GetLatestUnusedOTPCode(ctx context.Context, userID string) (domain.OTPCode, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+otpCodeColumns+` FROM otp_codes
		WHERE user_id = ? AND is_used = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID,
	)
	c, err := scanOTPCode(row)
	if err != nil {
		return domain.OTPCode{}, mapNotFound(err)
	}
	return c, nil
}

func (r *otpCodesRepo) ConsumeOTPCode(ctx context.Context, id int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE otp_codes SET attempts = attempts + 1, is_used = TRUE
		WHERE id = ? AND is_used = FALSE`,
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
		WHERE id = ? AND is_used = FALSE
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *otpCodesRepo) MarkOTPCodeDelivered(ctx context.Context, id int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE otp_codes SET delivered_at = ? WHERE id = ?`, utc(at), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *otpCodesRepo) CountDeliveredOTPCodesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_codes
		WHERE user_id = ? AND created_at >= ? AND delivered_at IS NOT NULL`,
		userID, utc(since),
	).Scan(&n)
	return n, err
}
