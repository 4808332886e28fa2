// Package session keeps the logged-in identity and persists it to durable storage so
// it survives a restart.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
	"labportal/client/internal/rbac"
	"labportal/client/internal/remote"
	"labportal/client/internal/store"
	"labportal/client/internal/util"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ValidEmail reports whether email has the shape the client accepts.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Identity is the sanitized user record held in memory and on disk. It never carries
// a password.
type Identity struct {
	ID          remote.ID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Role        rbac.Role `json:"role"`
	IsBlocked   bool      `json:"isBlocked"`
	AvatarColor string    `json:"avatarColor"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == rbac.RoleAdmin
}

type State struct {
	Identity *Identity
	LoggedIn bool
	Hydrated bool
}

func (s State) IsAdmin() bool {
	return s.LoggedIn && s.Identity != nil && s.Identity.IsAdmin()
}

func (s State) clone() State {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// Patch is a profile change. Nil and empty-string fields are ignored.
type Patch struct {
	Name  *string
	Email *string

	// Server-controlled. Accepted so a whole record can be passed through, then
	// overwritten from the current identity.
	ID          *remote.ID
	Role        *rbac.Role
	IsBlocked   *bool
	AvatarColor *string
	Password    *string
}

// PatchFromUser builds a patch carrying every field of a remote record.
func PatchFromUser(u remote.User) Patch {
	role := rbac.Role(u.Role)
	return Patch{
		Name:      &u.Name,
		Email:     &u.Email,
		ID:        &u.ID,
		Role:      &role,
		IsBlocked: &u.IsBlocked,
		Password:  &u.Password,
	}
}

// Recorder receives session events. metrics.Registry implements it.
type Recorder interface {
	SessionEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) SessionEvent(string) {}

type Store struct {
	kv      store.KV
	key     string
	logger  *zap.Logger
	metrics Recorder

	mu    sync.Mutex
	state State

	changes util.Broadcaster[State]
}

func New(kv store.KV, key string, logger *zap.Logger, rec Recorder) *Store {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Store{
		kv:      kv,
		key:     key,
		logger:  logging.OrNop(logger).With(zap.String("component", "session")),
		metrics: rec,
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn for every state change. fn runs outside the store's lock
// and sees changes in the order they were applied.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.changes.Subscribe(func(st State) { fn(st.clone()) })
}

// commitLocked queues the current state for subscribers. The caller holds s.mu and
// calls s.changes.Flush after releasing it.
func (s *Store) commitLocked() State {
	out := s.state.clone()
	s.changes.Queue(out)
	return out
}

// Hydrate restores the persisted identity once, or yields a logged-out state. A
// failed read leaves storage alone; a corrupt or blocked record is removed.
func (s *Store) Hydrate(ctx context.Context) State {
	s.mu.Lock()
	if s.state.Hydrated {
		defer s.mu.Unlock()
		return s.state.clone()
	}
	s.state = s.load(ctx)
	s.state.Hydrated = true
	out := s.commitLocked()
	s.mu.Unlock()

	s.metrics.SessionEvent("hydrate")
	s.changes.Flush()
	return out
}

func (s *Store) load(ctx context.Context) State {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, store.ErrCorrupt) {
		s.logger.Warn("discarding corrupt persisted session", zap.Error(err))
		s.remove(ctx)
		return State{}
	}
	if err != nil {
		s.logger.Warn("read persisted session", zap.Error(err))
		return State{}
	}
	if !ok {
		return State{}
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil || id.ID == "" {
		s.logger.Warn("discarding unreadable persisted session", zap.Error(err))
		s.remove(ctx)
		return State{}
	}
	if id.IsBlocked {
		s.logger.Info("discarding persisted session of blocked user", zap.String("user_id", id.ID.String()))
		s.remove(ctx)
		return State{}
	}

	id.Role = rbac.Normalize(string(id.Role))
	id.AvatarColor = rbac.AvatarColor(id.Role)
	return State{Identity: &id, LoggedIn: true}
}

// Login makes u the active identity. A blocked user is refused and nothing changes.
func (s *Store) Login(ctx context.Context, u remote.User) (State, error) {
	if u.IsBlocked {
		s.metrics.SessionEvent("login_blocked")
		return s.Snapshot(), apperr.ErrBlockedAccount
	}

	role := rbac.Normalize(u.Role)
	id := &Identity{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        role,
		AvatarColor: rbac.AvatarColor(role),
		CreatedAt:   u.CreatedAt,
	}

	s.mu.Lock()
	s.state.Identity = id
	s.state.LoggedIn = true
	s.state.Hydrated = true
	s.persist(ctx, id)
	out := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("logged in", zap.String("user_id", id.ID.String()), zap.String("role", string(role)))
	s.metrics.SessionEvent("login")
	s.changes.Flush()
	return out, nil
}

func (s *Store) Logout(ctx context.Context) State {
	s.mu.Lock()
	out := s.clearLocked(ctx)
	s.mu.Unlock()

	s.metrics.SessionEvent("logout")
	s.changes.Flush()
	return out
}

func (s *Store) clearLocked(ctx context.Context) State {
	s.state.Identity = nil
	s.state.LoggedIn = false
	s.state.Hydrated = true
	s.remove(ctx)
	return s.commitLocked()
}

// UpdateProfile merges p into the active identity. Without a session it does nothing.
// An invalid email rejects the whole change.
func (s *Store) UpdateProfile(ctx context.Context, p Patch) (State, error) {
	s.mu.Lock()
	current := s.state.Identity
	if current == nil {
		defer s.mu.Unlock()
		return s.state.clone(), nil
	}

	next := *current
	if p.Name != nil && *p.Name != "" {
		next.Name = *p.Name
	}
	if p.Email != nil && *p.Email != "" {
		next.Email = *p.Email
	}
	// Protected fields always come from the current identity; password is never kept.
	next.ID = current.ID
	next.Role = current.Role
	next.IsBlocked = current.IsBlocked
	next.AvatarColor = rbac.AvatarColor(current.Role)

	if next.Email != "" && !ValidEmail(next.Email) {
		defer s.mu.Unlock()
		s.logger.Warn("rejecting profile update with invalid email", zap.String("user_id", current.ID.String()))
		return s.state.clone(), apperr.Validation("email is invalid")
	}

	s.state.Identity = &next
	s.persist(ctx, &next)
	out := s.commitLocked()
	s.mu.Unlock()

	s.metrics.SessionEvent("update_profile")
	s.changes.Flush()
	return out, nil
}

// ApplyServerRecord updates the profile from a record the remote store returned.
func (s *Store) ApplyServerRecord(ctx context.Context, u remote.User) (State, error) {
	return s.UpdateProfile(ctx, PatchFromUser(u))
}

// Block ends the session if userID is the active identity.
func (s *Store) Block(ctx context.Context, userID remote.ID) State {
	s.mu.Lock()
	if s.state.Identity == nil || s.state.Identity.ID != userID {
		defer s.mu.Unlock()
		return s.state.clone()
	}
	out := s.clearLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("active user blocked, session ended", zap.String("user_id", userID.String()))
	s.metrics.SessionEvent("blocked")
	s.changes.Flush()
	return out
}

// persist and remove log storage failures; memory stays authoritative.
func (s *Store) persist(ctx context.Context, id *Identity) {
	raw, err := json.Marshal(id)
	if err != nil {
		s.logger.Error("encode session", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		s.logger.Error("persist session", zap.Error(err))
	}
}

func (s *Store) remove(ctx context.Context) {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.logger.Error("remove persisted session", zap.Error(err))
	}
}
