package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pgmanage.org/internal/backend/backendtest"
	"pgmanage.org/internal/provision"
)

func setupEnv(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	t.Setenv("PGM_CONFIG", "")
	t.Setenv("PGM_BACKEND_URL", srv.URL)
	t.Setenv("PGM_SESSION_DIR", t.TempDir())
	t.Setenv("PGM_SESSION_SECRET", "")
	return srv
}

func TestRegisterThenSessionCommands(t *testing.T) {
	srv := setupEnv(t)
	ctx := context.Background()

	err := run(ctx, "", false, []string{"register",
		"-name", "Ravi", "-email", "ravi@pg.com", "-phone", "9000000001",
		"-room", "2", "-password", "secret1"})
	require.NoError(t, err)
	require.Equal(t, 3, srv.Accounts())

	require.NoError(t, run(ctx, "", false, []string{"whoami"}))
	require.NoError(t, run(ctx, "", false, []string{"dashboard"}))
	require.NoError(t, run(ctx, "", false, []string{"rooms", "-available"}))

	err = run(ctx, "", false, []string{"register",
		"-name", "Ravi", "-email", "ravi@pg.com", "-phone", "9000000001",
		"-room", "3", "-password", "secret1"})
	require.ErrorIs(t, err, provision.ErrDuplicateAccount)

	require.NoError(t, run(ctx, "", false, []string{"logout"}))
	require.ErrorContains(t, run(ctx, "", false, []string{"whoami"}), "not signed in")
}

func TestLoginAndReceipt(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	err := run(ctx, "", false, []string{"login", "-email", "tenant@pg.com", "-password", "nope"})
	require.ErrorIs(t, err, provision.ErrAuthentication)

	require.NoError(t, run(ctx, "", false, []string{"login", "-email", "tenant@pg.com", "-password", "tenant123"}))
	require.NoError(t, run(ctx, "", false, []string{"receipt", "1"}))
	require.Error(t, run(ctx, "", false, []string{"receipt", "x"}))
	require.ErrorContains(t, run(ctx, "", false, []string{"link", "-name", "T", "-phone", "1", "-room", "3"}), "already linked")
	require.ErrorContains(t, run(ctx, "", false, []string{"frobnicate"}), "unknown command")
}

func TestReportPrintsAdvicePerKind(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, &provision.Error{Kind: provision.KindValidation, Field: "email", Message: "email is required"})
	out := buf.String()
	require.Contains(t, out, "email is required (email)")
	require.Contains(t, out, provision.Advice(provision.KindValidation))

	buf.Reset()
	report(&buf, errors.New("boom"))
	require.Equal(t, "error: boom", strings.TrimSpace(buf.String()))
}
