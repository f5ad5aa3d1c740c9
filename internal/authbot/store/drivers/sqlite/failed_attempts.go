package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
)

type failedAttemptsRepo struct {
	q querier
}

func (r *failedAttemptsRepo) CreateFailedAttempt(ctx context.Context, a domain.FailedAttempt) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO failed_attempts (user_id, phone_number, attempt_type, created_at)
		VALUES (?, ?, ?, ?)`,
		a.UserID, a.PhoneNumber, a.Kind, utc(a.CreatedAt),
	)
	return err
}

func (r *failedAttemptsRepo) CountFailedAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM failed_attempts
		WHERE user_id = ? AND created_at >= ?`,
		userID, utc(since),
	).Scan(&n)
	return n, err
}
