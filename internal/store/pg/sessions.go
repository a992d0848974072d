// Package pg stores console session tokens in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pgmanage.org/internal/session"
)

// ErrSchemaMissing is returned when console_sessions does not exist yet.
var ErrSchemaMissing = errors.New("pg: console_sessions table missing; run `migrate up`")

const undefinedTable = "42P01"

// SessionStore keeps console session tokens in the console_sessions table.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.TokenStore = (*SessionStore)(nil)

// Open connects through the pgx database/sql driver.
func Open(dsn string) (*SessionStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Pool defaults; adjust under load tests
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) DB() *sql.DB { return s.db }

func (s *SessionStore) Get(ctx context.Context, id string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`select token from console_sessions where id=$1 and expires_at > $2`,
		id, s.now().UTC(),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", wrapErr(err)
	}
	return token, nil
}

func (s *SessionStore) Put(ctx context.Context, id, token string, ttl time.Duration) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into console_sessions(id, token, expires_at, updated_at)
		values ($1, $2, $3, $4)
		on conflict (id) do update
		set token = excluded.token, expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, id, token, now.Add(ttl), now)
	return wrapErr(err)
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from console_sessions where id=$1`, id)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// PurgeExpired removes sessions past their expiry and reports how many were dropped.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from console_sessions where expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
	}
	return err
}
