package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/config"
	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/repository"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

const minPasswordLength = 8

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// LoginResult carries the correlated credential pair issued at login.
type LoginResult struct {
	User           *domain.User
	Token          string
	TokenExpiresAt time.Time
	Session        *domain.Session
}

// AuthService coordinates registration, login and logout flows.
type AuthService struct {
	users      repository.UserRepository
	sessions   session.Store
	tokenMgr   *auth.TokenManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int

	// comparePassword is swapped in tests to observe verification calls.
	comparePassword func(hashed, plain string) error
	dummyOnce       sync.Once
	dummyHash       string
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Sessions   session.Store
	Tokens     *auth.TokenManager
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:           deps.UserRepo,
		sessions:        deps.Sessions,
		tokenMgr:        deps.Tokens,
		dispatcher:      deps.Dispatcher,
		logger:          logger,
		bcryptCost:      cfg.BcryptCost,
		comparePassword: auth.ComparePassword,
	}
}

// Register creates a USER account. Elevated roles are only granted by an admin.
func (s *AuthService) Register(ctx context.Context, name, email, password, clientIP string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventUserRegistered, events.Actor{SubjectID: user.ID, Role: user.Role, ClientIP: clientIP}, nil)
	return user, nil
}

// Login verifies credentials and issues a token plus a matching session.
func (s *AuthService) Login(ctx context.Context, email, password, clientIP string) (*LoginResult, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		// Spend the same bcrypt work as a real account so response time
		// does not reveal whether the email is registered.
		_ = s.comparePassword(s.unknownUserHash(), password)
		s.loginFailed(ctx, email, clientIP, "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.comparePassword(user.PasswordHash, password); err != nil {
		s.loginFailed(ctx, email, clientIP, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		_ = s.sessions.Destroy(ctx, sess.ID)
		return nil, err
	}

	s.publish(ctx, events.EventLoginSucceeded, events.Actor{SubjectID: user.ID, Role: user.Role, ClientIP: clientIP}, nil)
	return &LoginResult{User: user, Token: token, TokenExpiresAt: exp, Session: sess}, nil
}

// Logout destroys the server-side session. Unknown sessions are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID, clientIP string) error {
	if sessionID == "" {
		return nil
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	if sess != nil {
		identity := sess.Identity()
		s.publish(ctx, events.EventLogout, events.Actor{SubjectID: identity.ID, Role: identity.Role, ClientIP: clientIP}, nil)
	}
	return nil
}

// Profile returns the account behind identity.
func (s *AuthService) Profile(ctx context.Context, identity domain.Identity) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, identity.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("user", nil)
	}
	return user, err
}

// EnsureAdmin makes sure an ADMIN account exists for email, creating or
// promoting it as needed. Empty email is a no-op.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Role == domain.RoleAdmin {
			return nil
		}
		s.logger.Info("promoting bootstrap admin", zap.String("user_id", user.ID))
		return s.users.UpdateRole(ctx, user.ID, domain.RoleAdmin)
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	if err := validateCredentials(email, password); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	admin := &domain.User{Name: "Administrator", Email: email, PasswordHash: hash, Role: domain.RoleAdmin}
	if err := s.users.Create(ctx, admin); err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", admin.ID))
	return nil
}

// unknownUserHash returns a bcrypt hash at the configured cost that no
// password matches.
func (s *AuthService) unknownUserHash() string {
	s.dummyOnce.Do(func() {
		hash, err := auth.HashPassword("unknown-user-"+strconv.FormatInt(time.Now().UnixNano(), 36), s.bcryptCost)
		if err != nil {
			s.logger.Error("derive placeholder password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) loginFailed(ctx context.Context, email, clientIP, reason string) {
	s.logger.Info("login failed", zap.String("email", email), zap.String("ip", clientIP), zap.String("reason", reason))
	s.publish(ctx, events.EventLoginFailed, events.Actor{ClientIP: clientIP}, events.LoginFailedPayload{Email: email, Reason: reason})
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, actor events.Actor, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, events.NewEvent(eventType, actor, payload)); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return apperrors.NewValidationError("a valid email is required", map[string]any{"field": "email"})
	}
	if len(password) < minPasswordLength {
		return apperrors.NewValidationError(
			fmt.Sprintf("password must be at least %d characters", minPasswordLength),
			map[string]any{"field": "password"},
		)
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperrors.NewValidationError(
			fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes),
			map[string]any{"field": "password"},
		)
	}
	return nil
}
