package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func expectBookkeeping(mock sqlmock.Sqlmock, applied ...string) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range applied {
		rows.AddRow(name)
	}
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(rows)
}

func TestUpAppliesEmbeddedSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectBegin()
	mock.ExpectExec("create table if not exists console_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index if not exists console_sessions_expires_at_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0001_console_sessions.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db).Up(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0001_console_sessions.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpSkipsAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock, "0001_console_sessions.up.sql")

	applied, err := NewManager(db).Up(context.Background())
	require.NoError(t, err)
	require.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock, "0001_console_sessions.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec("drop index if exists console_sessions_expires_at_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("drop table if exists console_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_console_sessions.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db).Down(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0001_console_sessions.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	_, err = NewManager(db).Down(context.Background())
	require.ErrorIs(t, err, ErrNothingApplied)

	src := fstest.MapFS{"m/0002_extra.up.sql": {Data: []byte("select 1;")}}
	expectBookkeeping(mock, "0002_extra.up.sql")
	_, err = NewManager(db, WithSource(src, "m")).Down(context.Background())
	require.ErrorContains(t, err, "missing down migration")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	src := fstest.MapFS{"m/0001_bad.up.sql": {Data: []byte("create table broken (;")}}
	expectBookkeeping(mock)
	mock.ExpectBegin()
	mock.ExpectExec("create table broken").WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, err = NewManager(db, WithSource(src, "m"), WithMigrationsTable("schema_migrations")).Up(context.Background())
	require.ErrorContains(t, err, "apply migration 0001_bad.up.sql")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;")
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "'a;b'")
}
