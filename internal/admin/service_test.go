package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labportal/client/internal/apperr"
	"labportal/client/internal/remote"
	"labportal/client/internal/remote/remotetest"
	"labportal/client/internal/session"
	"labportal/client/internal/store"
)

func setup(t *testing.T, role string) (*remotetest.Server, *session.Store, *Service) {
	t.Helper()
	srv := remotetest.New(t)
	root := srv.AddUser(remotetest.User{Name: "root", Email: "root@example.com", Password: "toor12", Role: role})
	srv.AddUser(remotetest.User{Name: "ann", Email: "ann@example.com", Password: "secret1"})

	sess := session.New(store.NewMemory(), "user", nil, nil)
	_, err := sess.Login(context.Background(), remote.User{
		ID:   remote.ID("1"),
		Name: root.Name,
		Role: role,
	})
	require.NoError(t, err)

	svc := NewService(remote.New(srv.URL()), sess, nil, nil)
	t.Cleanup(svc.Close)
	return srv, sess, svc
}

func TestNonAdminIsRejectedWithoutNetwork(t *testing.T) {
	srv, _, svc := setup(t, "user")
	ctx := context.Background()

	_, err := svc.ListUsers(ctx)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	_, err = svc.SetBlocked(ctx, "2", true)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	err = svc.DeleteUser(ctx, "2")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	assert.Zero(t, srv.TotalCalls())
}

func TestLoggedOutIsRejected(t *testing.T) {
	srv, sess, svc := setup(t, "admin")
	sess.Logout(context.Background())

	_, err := svc.ListUsers(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	assert.Zero(t, srv.TotalCalls())
}

func TestListUsersStripsPasswords(t *testing.T) {
	_, _, svc := setup(t, "admin")

	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, remote.ID("1"), users[0].ID)
	assert.Equal(t, remote.ID("2"), users[1].ID)
	for _, u := range users {
		assert.Empty(t, u.Password)
	}
}

func TestSetBlocked(t *testing.T) {
	srv, sess, svc := setup(t, "admin")
	ctx := context.Background()

	u, err := svc.SetBlocked(ctx, "2", true)
	require.NoError(t, err)
	assert.True(t, u.IsBlocked)
	stored, _ := srv.User(2)
	assert.True(t, stored.IsBlocked)
	assert.True(t, sess.Snapshot().LoggedIn, "blocking another user keeps the session")

	u, err = svc.SetBlocked(ctx, "2", false)
	require.NoError(t, err)
	assert.False(t, u.IsBlocked)
}

func TestBlockingSelfEndsSession(t *testing.T) {
	_, sess, svc := setup(t, "admin")

	_, err := svc.SetBlocked(context.Background(), "1", true)
	require.NoError(t, err)
	assert.False(t, sess.Snapshot().LoggedIn)
}

func TestDeleteUser(t *testing.T) {
	srv, sess, svc := setup(t, "admin")
	ctx := context.Background()

	require.NoError(t, svc.DeleteUser(ctx, "2"))
	assert.Equal(t, 1, srv.UserCount())
	assert.True(t, sess.Snapshot().LoggedIn)

	err := svc.DeleteUser(ctx, "42")
	assert.True(t, errors.Is(err, apperr.ErrNetwork))

	require.NoError(t, svc.DeleteUser(ctx, "1"))
	assert.False(t, sess.Snapshot().LoggedIn)
}

func TestDeleteFailureKeepsSession(t *testing.T) {
	srv, sess, svc := setup(t, "admin")
	srv.Fail(http.MethodDelete, "/users/1", http.StatusInternalServerError)

	err := svc.DeleteUser(context.Background(), "1")
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
	assert.True(t, sess.Snapshot().LoggedIn)
}
