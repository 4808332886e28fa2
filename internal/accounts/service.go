// Package accounts implements sign-in, registration, and profile editing against the
// remote user directory, feeding results into the session store.
package accounts

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
	"labportal/client/internal/rbac"
	"labportal/client/internal/remote"
	"labportal/client/internal/request"
	"labportal/client/internal/session"
)

const (
	minPasswordLen = 6
	minNameLen     = 2
)

// Directory is the slice of the remote store accounts needs.
type Directory interface {
	FindUsersByCredentials(ctx context.Context, name, password string) ([]remote.User, error)
	FindUsersByName(ctx context.Context, name string) ([]remote.User, error)
	FindUsersByEmail(ctx context.Context, email string) ([]remote.User, error)
	CreateUser(ctx context.Context, u remote.NewUser) (remote.User, error)
	PatchUser(ctx context.Context, id remote.ID, patch remote.UserPatch) (remote.User, error)
}

type Service struct {
	dir     Directory
	session *session.Store
	logger  *zap.Logger
	now     func() time.Time

	// submit is shared by login and registration: a new submission cancels the last.
	submit  *request.Coordinator
	profile *request.Coordinator
}

func NewService(dir Directory, sess *session.Store, logger *zap.Logger, rec request.Recorder) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		dir:     dir,
		session: sess,
		logger:  logger.With(zap.String("component", "accounts")),
		now:     time.Now,
		submit:  request.NewCoordinator("auth.submit", logger, rec),
		profile: request.NewCoordinator("auth.profile", logger, rec),
	}
}

// Login checks credentials remotely and starts a session.
func (s *Service) Login(ctx context.Context, name, password string) (session.State, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return s.session.Snapshot(), apperr.Validation("name and password are required")
	}

	user, gen, err := request.Run(s.submit, ctx, func(ctx context.Context) (remote.User, error) {
		users, err := s.dir.FindUsersByCredentials(ctx, name, password)
		if err != nil {
			return remote.User{}, err
		}
		if len(users) == 0 {
			return remote.User{}, apperr.ErrInvalidCredentials
		}
		return users[0], nil
	})
	if apperr.IsCancelled(err) {
		return s.session.Snapshot(), err
	}

	state := s.session.Snapshot()
	committed := s.submit.Commit(gen, func() {
		if err != nil {
			return
		}
		state, err = s.session.Login(ctx, user)
	})
	if !committed {
		return s.session.Snapshot(), apperr.ErrCancelled
	}
	if err != nil {
		s.logger.Info("login rejected", zap.String("name", name), zap.String("reason", string(apperr.KindOf(err))))
		return state, err
	}
	return state, nil
}

type Registration struct {
	Name     string
	Email    string
	Password string
}

func (r Registration) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Validation("name is required")
	}
	if !session.ValidEmail(r.Email) {
		return apperr.Validation("email is invalid")
	}
	return nil
}

// Register creates a user after checking that neither name nor email is taken, then
// logs the new user in. A taken name or email is reported before a short password.
func (s *Service) Register(ctx context.Context, r Registration) (session.State, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	if err := r.validate(); err != nil {
		return s.session.Snapshot(), err
	}

	created, gen, err := request.Run(s.submit, ctx, func(ctx context.Context) (remote.User, error) {
		var byName, byEmail []remote.User
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			byName, err = s.dir.FindUsersByName(gctx, r.Name)
			return err
		})
		g.Go(func() error {
			var err error
			byEmail, err = s.dir.FindUsersByEmail(gctx, r.Email)
			return err
		})
		if err := g.Wait(); err != nil {
			return remote.User{}, err
		}
		if len(byName) > 0 {
			return remote.User{}, apperr.New(apperr.KindDuplicateRegistration, "name already registered")
		}
		if len(byEmail) > 0 {
			return remote.User{}, apperr.New(apperr.KindDuplicateRegistration, "email already registered")
		}
		if len(r.Password) < minPasswordLen {
			return remote.User{}, apperr.Validation("password must be at least 6 characters")
		}

		return s.dir.CreateUser(ctx, remote.NewUser{
			Name:      r.Name,
			Email:     r.Email,
			Password:  r.Password,
			Role:      string(rbac.RoleUser),
			IsBlocked: false,
			CreatedAt: s.now().UTC(),
		})
	})
	if apperr.IsCancelled(err) {
		return s.session.Snapshot(), err
	}

	state := s.session.Snapshot()
	committed := s.submit.Commit(gen, func() {
		if err != nil {
			return
		}
		state, err = s.session.Login(ctx, created)
	})
	if !committed {
		return s.session.Snapshot(), apperr.ErrCancelled
	}
	if err != nil {
		s.logger.Info("registration rejected", zap.String("name", r.Name), zap.Error(err))
		return state, err
	}
	s.logger.Info("registered", zap.String("user_id", created.ID.String()))
	return state, nil
}

// ProfileUpdate is what the profile form submits. An empty Password keeps the
// current one.
type ProfileUpdate struct {
	Name     string
	Email    string
	Password string
}

func (p ProfileUpdate) validate() error {
	if len([]rune(strings.TrimSpace(p.Name))) < minNameLen {
		return apperr.Validation("name must be at least 2 characters")
	}
	if !session.ValidEmail(p.Email) {
		return apperr.Validation("email is invalid")
	}
	if p.Password != "" && len(p.Password) < minPasswordLen {
		return apperr.Validation("password must be at least 6 characters")
	}
	return nil
}

// UpdateProfile saves the change remotely and applies the stored record locally.
func (s *Service) UpdateProfile(ctx context.Context, p ProfileUpdate) (session.State, error) {
	current := s.session.Snapshot()
	if !current.LoggedIn {
		return current, apperr.ErrUnauthorized
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if err := p.validate(); err != nil {
		return current, err
	}

	patch := remote.UserPatch{Name: &p.Name, Email: &p.Email}
	if p.Password != "" {
		patch.Password = &p.Password
	}

	id := current.Identity.ID
	updated, gen, err := request.Run(s.profile, ctx, func(ctx context.Context) (remote.User, error) {
		return s.dir.PatchUser(ctx, id, patch)
	})
	if apperr.IsCancelled(err) {
		return s.session.Snapshot(), err
	}

	state := current
	committed := s.profile.Commit(gen, func() {
		if err != nil {
			return
		}
		state, err = s.session.ApplyServerRecord(ctx, updated)
	})
	if !committed {
		return s.session.Snapshot(), apperr.ErrCancelled
	}
	if err != nil {
		s.logger.Warn("profile update failed", zap.String("user_id", id.String()), zap.Error(err))
		return state, err
	}
	return state, nil
}

func (s *Service) Logout(ctx context.Context) session.State {
	s.submit.Teardown()
	s.profile.Teardown()
	return s.session.Logout(ctx)
}

// Close cancels any submission still running.
func (s *Service) Close() {
	s.submit.Teardown()
	s.profile.Teardown()
}
