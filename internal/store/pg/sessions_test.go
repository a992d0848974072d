package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"pgmanage.org/internal/session"
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(db)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestSessionStoreGet(t *testing.T) {
	store, mock, now := newMockStore(t)
	q := regexp.QuoteMeta(`select token from console_sessions where id=$1 and expires_at > $2`)

	mock.ExpectQuery(q).WithArgs("01HZX", now).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok"))
	tok, err := store.Get(context.Background(), "01HZX")
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	mock.ExpectQuery(q).WithArgs("missing", now).
		WillReturnRows(sqlmock.NewRows([]string{"token"}))
	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStorePut(t *testing.T) {
	store, mock, now := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`insert into console_sessions(id, token, expires_at, updated_at)`)).
		WithArgs("01HZX", "tok", now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Put(context.Background(), "01HZX", "tok", time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreDelete(t *testing.T) {
	store, mock, _ := newMockStore(t)
	q := regexp.QuoteMeta(`delete from console_sessions where id=$1`)

	mock.ExpectExec(q).WithArgs("01HZX").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Delete(context.Background(), "01HZX"))

	mock.ExpectExec(q).WithArgs("01HZX").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, store.Delete(context.Background(), "01HZX"), session.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStorePurgeExpired(t *testing.T) {
	store, mock, now := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`delete from console_sessions where expires_at <= $1`)).
		WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreMissingSchema(t *testing.T) {
	store, mock, now := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`select token from console_sessions`)).WithArgs("01HZX", now).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "console_sessions" does not exist`})
	_, err := store.Get(context.Background(), "01HZX")
	require.ErrorIs(t, err, ErrSchemaMissing)
	require.ErrorContains(t, err, "does not exist")

	mock.ExpectExec(regexp.QuoteMeta(`delete from console_sessions where id=$1`)).WithArgs("01HZX").
		WillReturnError(&pgconn.PgError{Code: "57014", Message: "canceling statement"})
	err = store.Delete(context.Background(), "01HZX")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSchemaMissing)

	require.NoError(t, mock.ExpectationsWereMet())
}
