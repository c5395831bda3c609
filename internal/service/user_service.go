package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/repository"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

const maxPageSize = 100

// UserService backs the admin user management endpoints.
type UserService struct {
	users      repository.UserRepository
	sessions   session.SubjectRevoker
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewUserService creates the service. sessions may be nil, in which case a
// role change leaves existing sessions untouched.
func NewUserService(users repository.UserRepository, sessions session.SubjectRevoker, dispatcher events.Dispatcher, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, sessions: sessions, dispatcher: dispatcher, logger: logger}
}

// List returns one page of accounts, optionally filtered by role.
func (s *UserService) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": filter.Role})
	}
	if filter.Limit == 0 || filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	return s.users.List(ctx, filter)
}

// ChangeRole assigns role to the account id and revokes the account's live
// sessions so the new role applies from its next login. Admins cannot change
// their own role.
func (s *UserService) ChangeRole(ctx context.Context, actor domain.Identity, id string, role domain.Role) (*domain.User, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	if actor.ID == id {
		return nil, apperrors.NewConflict("cannot change your own role", nil)
	}

	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	old := user.Role
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		return nil, err
	}
	user.Role = role

	revoked := 0
	if s.sessions != nil {
		n, err := s.sessions.DestroyForSubject(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("revoke sessions after role change: %w", err)
		}
		revoked = n
	}

	s.logger.Info("user role changed",
		zap.String("actor_id", actor.ID),
		zap.String("user_id", id),
		zap.String("old_role", string(old)),
		zap.String("new_role", string(role)),
		zap.Int("revoked_sessions", revoked))

	if s.dispatcher != nil {
		event := events.NewEvent(events.EventRoleChanged, events.Actor{SubjectID: actor.ID, Role: actor.Role},
			events.RoleChangedPayload{UserID: id, OldRole: old, NewRole: role})
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
	return user, nil
}
