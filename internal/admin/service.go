// Package admin lists, blocks, and deletes users on behalf of an administrator.
package admin

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
	"labportal/client/internal/rbac"
	"labportal/client/internal/remote"
	"labportal/client/internal/request"
	"labportal/client/internal/session"
)

type Directory interface {
	ListUsers(ctx context.Context) ([]remote.User, error)
	PatchUser(ctx context.Context, id remote.ID, patch remote.UserPatch) (remote.User, error)
	DeleteUser(ctx context.Context, id remote.ID) error
}

type Service struct {
	dir     Directory
	session *session.Store
	logger  *zap.Logger
	users   *request.Coordinator
}

func NewService(dir Directory, sess *session.Store, logger *zap.Logger, rec request.Recorder) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		dir:     dir,
		session: sess,
		logger:  logger.With(zap.String("component", "admin")),
		users:   request.NewCoordinator("admin.users", logger, rec),
	}
}

func (s *Service) authorize() error {
	state := s.session.Snapshot()
	if !state.LoggedIn || !rbac.Can(state.Identity.Role, rbac.ActionManageUsers) {
		return apperr.ErrUnauthorized
	}
	return nil
}

// ListUsers returns every user ordered by ID, passwords stripped. A newer call
// supersedes one still running.
func (s *Service) ListUsers(ctx context.Context) ([]remote.User, error) {
	if err := s.authorize(); err != nil {
		return nil, err
	}
	users, gen, err := request.Run(s.users, ctx, s.dir.ListUsers)
	if apperr.IsCancelled(err) {
		return nil, err
	}

	var out []remote.User
	if !s.users.Commit(gen, func() {
		if err == nil {
			out = sanitize(users)
		}
	}) {
		return nil, apperr.ErrCancelled
	}
	if err != nil {
		s.logger.Warn("list users failed", zap.Error(err))
		return nil, err
	}
	return out, nil
}

// SetBlocked flips the blocked flag remotely. Blocking the active identity ends the
// session.
func (s *Service) SetBlocked(ctx context.Context, id remote.ID, blocked bool) (remote.User, error) {
	if err := s.authorize(); err != nil {
		return remote.User{}, err
	}
	updated, err := s.dir.PatchUser(ctx, id, remote.UserPatch{IsBlocked: &blocked})
	if err != nil {
		s.logger.Warn("update blocked flag failed", zap.String("user_id", id.String()), zap.Error(err))
		return remote.User{}, err
	}
	s.logger.Info("user blocked flag changed", zap.String("user_id", id.String()), zap.Bool("blocked", blocked))
	if blocked {
		s.session.Block(ctx, id)
	}
	updated.Password = ""
	return updated, nil
}

// DeleteUser removes id remotely. Deleting the active identity ends the session.
func (s *Service) DeleteUser(ctx context.Context, id remote.ID) error {
	if err := s.authorize(); err != nil {
		return err
	}
	if err := s.dir.DeleteUser(ctx, id); err != nil {
		s.logger.Warn("delete user failed", zap.String("user_id", id.String()), zap.Error(err))
		return err
	}
	s.logger.Info("user deleted", zap.String("user_id", id.String()))
	s.session.Block(ctx, id)
	return nil
}

func (s *Service) Close() {
	s.users.Teardown()
}

func sanitize(users []remote.User) []remote.User {
	out := make([]remote.User, len(users))
	copy(out, users)
	for i := range out {
		out[i].Password = ""
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].ID.Int()
		b, bok := out[j].ID.Int()
		if aok && bok {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}
