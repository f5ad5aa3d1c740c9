package sqlite

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
	now := utc(r.now())
	createdAt := now
	if !u.CreatedAt.IsZero() {
		createdAt = utc(u.CreatedAt)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (
			user_id, phone_number, first_name, last_name, username,
			is_verified, verified_at, is_banned, ban_until, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, FALSE, NULL, FALSE, NULL, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			phone_number = excluded.phone_number,
			first_name   = excluded.first_name,
			last_name    = excluded.last_name,
			username     = excluded.username,
			is_verified  = FALSE,
			verified_at  = NULL,
			updated_at   = excluded.updated_at`,
		u.ID, u.PhoneNumber, u.Profile.FirstName, u.Profile.LastName, u.Profile.Username,
		createdAt, now,
	)
	return mapConstraint(err)
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = ?`, phone)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) SetVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `
		UPDATE users SET is_verified = TRUE, verified_at = ?, updated_at = ?
		WHERE user_id = ?`,
		utc(at), utc(r.now()), id,
	)
}

func (r *usersRepo) SetBan(ctx context.Context, id string, until time.Time) error {
	return r.update(ctx, `
		UPDATE users SET is_banned = TRUE, ban_until = ?, updated_at = ?
		WHERE user_id = ?`,
		utc(until), utc(r.now()), id,
	)
}

func (r *usersRepo) ClearBan(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE users SET is_banned = FALSE, ban_until = NULL, updated_at = ?
		WHERE user_id = ?`,
		utc(r.now()), id,
	)
}

func (r *usersRepo) ReleasePhone(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE users SET phone_number = NULL, is_verified = FALSE, verified_at = NULL, updated_at = ?
		WHERE user_id = ?`,
		utc(r.now()), id,
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
