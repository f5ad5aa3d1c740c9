package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
)

type usersRepo struct {
	q   querier
	now func() time.Time
}

func (r *usersRepo) UpsertUser(ctx context.Context, u domain.User) error {
	now := r.now().UTC()
	createdAt := now
	if !u.CreatedAt.IsZero() {
		createdAt = u.CreatedAt.UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (
			user_id, phone_number, first_name, last_name, username,
			is_verified, verified_at, is_banned, ban_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, NULL, FALSE, NULL, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			first_name   = EXCLUDED.first_name,
			last_name    = EXCLUDED.last_name,
			username     = EXCLUDED.username,
			is_verified  = FALSE,
			verified_at  = NULL,
			updated_at   = EXCLUDED.updated_at`,
		u.ID, u.PhoneNumber, u.Profile.FirstName, u.Profile.LastName, u.Profile.Username,
		createdAt, now,
	)
	return mapConstraint(err)
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) SetVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `
		UPDATE users SET is_verified = TRUE, verified_at = $1, updated_at = $2
		WHERE user_id = $3`,
		at.UTC(), r.now().UTC(), id,
	)
}

func (r *usersRepo) SetBan(ctx context.Context, id string, until time.Time) error {
	return r.update(ctx, `
		UPDATE users SET is_banned = TRUE, ban_until = $1, updated_at = $2
		WHERE user_id = $3`,
		until.UTC(), r.now().UTC(), id,
	)
}

func (r *usersRepo) ClearBan(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE users SET is_banned = FALSE, ban_until = NULL, updated_at = $1
		WHERE user_id = $2`,
		r.now().UTC(), id,
	)
}

func (r *usersRepo) ReleasePhone(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE users SET phone_number = NULL, is_verified = FALSE, verified_at = NULL, updated_at = $1
		WHERE user_id = $2`,
		r.now().UTC(), id,
	)
}

// update runs a single-row UPDATE and reports ErrNotFound when nothing matched.
func (r *usersRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
