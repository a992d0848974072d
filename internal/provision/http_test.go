package provision

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/backend/backendtest"
)

func httpRequest(roomID int64) Request {
	return Request{
		Name:            "Ravi",
		Email:           "ravi@pg.com",
		Phone:           "9000000001",
		RoomID:          roomID,
		Password:        "secret1",
		PasswordConfirm: "secret1",
	}
}

func newHTTPProvisioner(t *testing.T, srv *backendtest.Server) *Provisioner {
	t.Helper()
	client, err := backend.New(srv.URL)
	require.NoError(t, err)
	return New(client)
}

func TestProvisionOverHTTPLinkedAtRegister(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	s, err := newHTTPProvisioner(t, srv).Provision(context.Background(), httpRequest(2))
	require.NoError(t, err)
	require.EqualValues(t, 3, s.UserID)
	require.NotZero(t, s.TenantID)
	require.NotEmpty(t, s.Cookies)
	require.Equal(t, 0, srv.Calls(http.MethodPost, "/tenants"))

	room, ok := srv.Room(2)
	require.True(t, ok)
	require.Equal(t, backend.RoomOccupied, room.Status)
}

func TestProvisionOverHTTPCreatesTenant(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.SetLinkOnRegister(false)

	s, err := newHTTPProvisioner(t, srv).Provision(context.Background(), httpRequest(3))
	require.NoError(t, err)
	require.Equal(t, 1, srv.Calls(http.MethodPost, "/tenants"))
	require.Len(t, srv.Tenants(), 2)
	require.Equal(t, srv.Tenants()[1].ID, s.TenantID)
}

func TestProvisionOverHTTPWithoutIdentityEndpoint(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.SetNoCurrentUser(true)
	srv.SetLinkOnRegister(false)

	// The account list is admin-only, so a fresh tenant cannot resolve itself.
	_, err := newHTTPProvisioner(t, srv).Provision(context.Background(), httpRequest(3))
	require.ErrorIs(t, err, ErrIdentityUnresolved)
	require.Equal(t, 1, srv.Calls(http.MethodGet, "/users"))
	require.Equal(t, 0, srv.Calls(http.MethodPost, "/tenants"))
	require.Equal(t, 3, srv.Accounts())
}

func TestProvisionOverHTTPRoomTaken(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	p := newHTTPProvisioner(t, srv)

	_, err := p.Provision(context.Background(), httpRequest(1))
	require.ErrorIs(t, err, ErrTenantLink)
	require.Equal(t, "room_id", fieldOf(t, err))
	require.Equal(t, 0, srv.Calls(http.MethodPost, "/login"))
}

func TestLoginOverHTTPFallsBackToAccountList(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.SetNoCurrentUser(true)

	s, err := newHTTPProvisioner(t, srv).Login(context.Background(), "admin@pg.com", "admin123")
	require.NoError(t, err)
	require.EqualValues(t, 1, s.UserID)
	require.Equal(t, 1, srv.Calls(http.MethodGet, "/users"))
}
