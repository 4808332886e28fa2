package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labportal/client/internal/apperr"
	"labportal/client/internal/rbac"
	"labportal/client/internal/remote"
	"labportal/client/internal/store"
)

const sessionKey = "user"

// failingKV wraps a KV and fails the operations switched on.
type failingKV struct {
	store.KV
	mu                   sync.Mutex
	failGet, failSet     bool
	sets, removes, reads int
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	f.reads++
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, false, errors.New("disk unavailable")
	}
	return f.KV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.sets++
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errors.New("quota exceeded")
	}
	return f.KV.Set(ctx, key, value)
}

func (f *failingKV) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	f.removes++
	f.mu.Unlock()
	return f.KV.Remove(ctx, key)
}

func ann() remote.User {
	return remote.User{
		ID:        "1",
		Name:      "ann",
		Email:     "ann@example.com",
		Password:  "secret1",
		Role:      "user",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHydrate(t *testing.T) {
	cases := []struct {
		name      string
		record    string
		loggedIn  bool
		removed   bool
		wantColor string
	}{
		{name: "absent", loggedIn: false},
		{name: "corrupt", record: `{"id":`, loggedIn: false, removed: true},
		{name: "missing id", record: `{"name":"ann"}`, loggedIn: false, removed: true},
		{name: "blocked", record: `{"id":"1","name":"ann","isBlocked":true}`, loggedIn: false, removed: true},
		{name: "admin", record: `{"id":3,"name":"root","role":"admin","avatarColor":"#000000"}`, loggedIn: true, wantColor: "#ff0000"},
		{name: "unknown role", record: `{"id":"4","name":"eve","role":"owner"}`, loggedIn: true, wantColor: "#FFD700"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			kv := store.NewMemory()
			if tc.record != "" {
				require.NoError(t, kv.Set(ctx, sessionKey, []byte(tc.record)))
			}

			s := New(kv, sessionKey, nil, nil)
			state := s.Hydrate(ctx)
			assert.True(t, state.Hydrated)
			assert.Equal(t, tc.loggedIn, state.LoggedIn)
			assert.Equal(t, state.LoggedIn, state.Identity != nil)
			if tc.loggedIn {
				assert.Equal(t, tc.wantColor, state.Identity.AvatarColor)
				assert.False(t, state.Identity.IsBlocked)
			}

			_, present, err := kv.Get(ctx, sessionKey)
			require.NoError(t, err)
			assert.Equal(t, tc.record != "" && !tc.removed, present)
		})
	}
}

func TestHydrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory()}
	s := New(kv, sessionKey, nil, nil)

	s.Hydrate(ctx)
	_, err := s.Login(ctx, ann())
	require.NoError(t, err)

	state := s.Hydrate(ctx)
	assert.True(t, state.LoggedIn, "second hydrate must not reload storage")
	assert.Equal(t, 1, kv.reads)
}

func TestHydrateReadErrorDegradesToLoggedOut(t *testing.T) {
	kv := &failingKV{KV: store.NewMemory(), failGet: true}
	state := New(kv, sessionKey, nil, nil).Hydrate(context.Background())
	assert.True(t, state.Hydrated)
	assert.False(t, state.LoggedIn)
}

func TestHydrateRemovesTamperedSealedRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	written, err := store.NewFile(dir, "first secret")
	require.NoError(t, err)
	_, err = New(written, sessionKey, nil, nil).Login(ctx, ann())
	require.NoError(t, err)

	reopened, err := store.NewFile(dir, "second secret")
	require.NoError(t, err)
	state := New(reopened, sessionKey, nil, nil).Hydrate(ctx)
	assert.False(t, state.LoggedIn)

	_, present, err := reopened.Get(ctx, sessionKey)
	require.NoError(t, err, "the unreadable record is gone, not reported again")
	assert.False(t, present)
}

func TestLoginThenHydrateInFreshStore(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	first := New(kv, sessionKey, nil, nil)
	first.Hydrate(ctx)
	loggedIn, err := first.Login(ctx, ann())
	require.NoError(t, err)

	raw, ok, err := kv.Get(ctx, sessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "secret1")
	assert.NotContains(t, string(raw), "password")

	restarted := New(kv, sessionKey, nil, nil)
	state := restarted.Hydrate(ctx)
	require.True(t, state.LoggedIn)
	assert.Equal(t, *loggedIn.Identity, *state.Identity)
	assert.Equal(t, "#FFD700", state.Identity.AvatarColor)
}

func TestLoginBlockedLeavesEverythingUnchanged(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory()}
	s := New(kv, sessionKey, nil, nil)
	s.Hydrate(ctx)

	u := ann()
	u.IsBlocked = true
	state, err := s.Login(ctx, u)
	assert.True(t, errors.Is(err, apperr.ErrBlockedAccount))
	assert.False(t, state.LoggedIn)
	assert.Nil(t, state.Identity)
	assert.Zero(t, kv.sets)
	assert.Zero(t, kv.removes)
}

func TestLoginPersistFailureStillLogsIn(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory(), failSet: true}
	s := New(kv, sessionKey, nil, nil)

	state, err := s.Login(ctx, ann())
	require.NoError(t, err)
	assert.True(t, state.LoggedIn)
	assert.Equal(t, 1, kv.sets)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := New(kv, sessionKey, nil, nil)
	_, err := s.Login(ctx, ann())
	require.NoError(t, err)

	state := s.Logout(ctx)
	assert.False(t, state.LoggedIn)
	assert.Nil(t, state.Identity)
	_, ok, _ := kv.Get(ctx, sessionKey)
	assert.False(t, ok)

	// Logging out twice is fine.
	assert.False(t, s.Logout(ctx).LoggedIn)
}

func strPtr(s string) *string { return &s }

func TestUpdateProfileNeverChangesProtectedFields(t *testing.T) {
	roles := []string{"user", "admin"}
	payloads := []remote.User{
		{ID: "999", Role: "admin", IsBlocked: true, Name: "mallory"},
		{ID: "", Role: "", IsBlocked: false, Email: "new@example.com"},
		{ID: "1", Role: "user", IsBlocked: true, Password: "stolen"},
		{Role: "superuser", Name: "x"},
	}

	for _, role := range roles {
		for i, payload := range payloads {
			t.Run(fmt.Sprintf("%s/%d", role, i), func(t *testing.T) {
				ctx := context.Background()
				kv := store.NewMemory()
				s := New(kv, sessionKey, nil, nil)
				u := ann()
				u.Role = role
				before, err := s.Login(ctx, u)
				require.NoError(t, err)

				p := PatchFromUser(payload)
				color := "#123456"
				p.AvatarColor = &color
				after, err := s.UpdateProfile(ctx, p)
				require.NoError(t, err)

				assert.Equal(t, before.Identity.ID, after.Identity.ID)
				assert.Equal(t, before.Identity.Role, after.Identity.Role)
				assert.Equal(t, before.Identity.IsBlocked, after.Identity.IsBlocked)
				assert.Equal(t, rbac.AvatarColor(rbac.Role(role)), after.Identity.AvatarColor)

				raw, _, _ := kv.Get(ctx, sessionKey)
				assert.NotContains(t, string(raw), "stolen")
			})
		}
	}
}

func TestUpdateProfileIgnoresEmptyValues(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), sessionKey, nil, nil)
	_, err := s.Login(ctx, ann())
	require.NoError(t, err)

	state, err := s.UpdateProfile(ctx, Patch{Name: strPtr(""), Email: nil})
	require.NoError(t, err)
	assert.Equal(t, "ann", state.Identity.Name)
	assert.Equal(t, "ann@example.com", state.Identity.Email)

	state, err = s.UpdateProfile(ctx, Patch{Name: strPtr("annie")})
	require.NoError(t, err)
	assert.Equal(t, "annie", state.Identity.Name)
}

func TestUpdateProfileRejectsInvalidEmail(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := New(kv, sessionKey, nil, nil)
	_, err := s.Login(ctx, ann())
	require.NoError(t, err)

	state, err := s.UpdateProfile(ctx, Patch{Name: strPtr("changed"), Email: strPtr("not-an-email")})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, "ann", state.Identity.Name, "whole mutation is dropped")
	assert.Equal(t, "ann@example.com", state.Identity.Email)

	restarted := New(kv, sessionKey, nil, nil).Hydrate(ctx)
	assert.Equal(t, "ann", restarted.Identity.Name)
}

func TestUpdateProfileWithoutSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: store.NewMemory()}
	s := New(kv, sessionKey, nil, nil)

	state, err := s.UpdateProfile(ctx, Patch{Name: strPtr("ghost")})
	require.NoError(t, err)
	assert.False(t, state.LoggedIn)
	assert.Zero(t, kv.sets)
}

func TestBlock(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), sessionKey, nil, nil)
	_, err := s.Login(ctx, ann())
	require.NoError(t, err)

	assert.True(t, s.Block(ctx, "2").LoggedIn, "blocking someone else keeps the session")
	assert.False(t, s.Block(ctx, "1").LoggedIn)
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), sessionKey, nil, nil)

	var seen []bool
	unsubscribe := s.Subscribe(func(st State) { seen = append(seen, st.LoggedIn) })
	s.Hydrate(ctx)
	_, _ = s.Login(ctx, ann())
	s.Logout(ctx)
	unsubscribe()
	_, _ = s.Login(ctx, ann())

	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestSubscribersSeeChangesInApplyOrder(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), sessionKey, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []bool
	var once sync.Once
	unsubscribe := s.Subscribe(func(st State) {
		if st.LoggedIn {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.LoggedIn)
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Login(ctx, ann())
	}()
	<-entered

	// Logout is applied while the login notification is still being delivered.
	s.Logout(ctx)
	assert.False(t, s.Snapshot().LoggedIn)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen, "the logout reaches subscribers after the login")
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemory(), sessionKey, nil, nil)
	_, _ = s.Login(ctx, ann())

	snap := s.Snapshot()
	snap.Identity.Role = rbac.RoleAdmin
	assert.Equal(t, rbac.RoleUser, s.Snapshot().Identity.Role)
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@b.co"))
	assert.False(t, ValidEmail("a@b"))
	assert.False(t, ValidEmail("a b@c.d"))
	assert.False(t, ValidEmail(""))
}
