package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/store"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is the subset of *sql.DB and *sql.Tx the repositories need, so the
// same repo code runs inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite serialises writers anyway, and ":memory:" databases are per
	// connection, so a single connection keeps every caller on one database.
	db.SetMaxOpenConns(1)

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		dsn: dsn,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx, s.now), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
// With a single connection, fn must only use the repositories of the Tx it is
// handed; going back to the outer Store would block until the Tx ends.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Users() store.Users                   { return &usersRepo{q: s.db, now: s.now} }
func (s *Store) OTPCodes() store.OTPCodes             { return &otpCodesRepo{q: s.db} }
func (s *Store) FailedAttempts() store.FailedAttempts { return &failedAttemptsRepo{q: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapConstraint turns a UNIQUE or PRIMARY KEY violation into ErrAlreadyExists.
func mapConstraint(err error) error {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return store.ErrAlreadyExists
		}
	}
	return err
}

// Timestamps are always stored in UTC so that lexical comparison in SQL
// matches chronological order.
func utc(t time.Time) time.Time { return t.UTC() }

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time.UTC()
		return &val
	}
	return nil
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `user_id, phone_number, first_name, last_name, username,
	is_verified, verified_at, is_banned, ban_until, created_at, updated_at`

func scanUser(row scanner) (domain.User, error) {
	var (
		u          domain.User
		phone      sql.NullString
		verifiedAt sql.NullTime
		banUntil   sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&phone,
		&u.Profile.FirstName,
		&u.Profile.LastName,
		&u.Profile.Username,
		&u.IsVerified,
		&verifiedAt,
		&u.IsBanned,
		&banUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.PhoneNumber = phone.String
	u.VerifiedAt = mapNullTimePtr(verifiedAt)
	u.BanUntil = mapNullTimePtr(banUntil)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

const otpCodeColumns = `id, user_id, phone_number, code, attempts, is_used, created_at, expires_at, delivered_at`

func scanOTPCode(row scanner) (domain.OTPCode, error) {
	var (
		c           domain.OTPCode
		deliveredAt sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.PhoneNumber,
		&c.Code,
		&c.Attempts,
		&c.IsUsed,
		&c.CreatedAt,
		&c.ExpiresAt,
		&deliveredAt,
	)
	if err != nil {
		return domain.OTPCode{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.DeliveredAt = mapNullTimePtr(deliveredAt)
	return c, nil
}

// expectOneRow maps an UPDATE that matched nothing to store.ErrNotFound.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
