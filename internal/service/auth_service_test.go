package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/config"
	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

type authFixture struct {
	svc      *AuthService
	users    *fakeUserRepo
	sessions *session.MemoryStore
	tokens   *auth.TokenManager
	recorder *eventRecorder
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:    newFakeUserRepo(),
		sessions: session.NewMemoryStore(24 * time.Hour),
		tokens:   auth.NewTokenManager("test-secret", time.Hour),
		recorder: &eventRecorder{},
	}
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(f.recorder.handle)

	f.svc = NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, AuthDependencies{
		UserRepo:   f.users,
		Sessions:   f.sessions,
		Tokens:     f.tokens,
		Dispatcher: dispatcher,
	})
	return f
}

func TestRegisterCreatesUserRole(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, " Ada ", "Ada@Example.com", "correct horse", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, user.Role)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, "Ada", user.Name)
	require.NotEqual(t, "correct horse", user.PasswordHash)

	_, err = f.svc.Register(ctx, "Ada", "ada@example.com", "another pass", "10.0.0.1")
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	require.Equal(t, apperrors.CodeConflict, domainErr.Code)

	require.Equal(t, []events.EventType{events.EventUserRegistered}, f.recorder.types())
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name, userName, email, password string
	}{
		{"bad email", "Ada", "not-an-email", "correct horse"},
		{"display name in email", "Ada", "Ada <ada@example.com>", "correct horse"},
		{"short password", "Ada", "ada@example.com", "short"},
		{"missing name", " ", "ada@example.com", "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.userName, tt.email, tt.password, "")
			require.Equal(t, apperrors.CodeValidation, apperrors.ToDomainError(err).Code)
		})
	}
}

func TestLoginIssuesCorrelatedCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "ADA@example.com", "correct horse", "10.0.0.1")
	require.NoError(t, err)

	claims, err := f.tokens.ParseToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, registered.ID, claims.SubjectID())
	require.Equal(t, domain.RoleUser, claims.Role)

	stored, err := f.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, registered.ID, stored.SubjectID)
	require.Equal(t, domain.RoleUser, stored.Role)

	require.Contains(t, f.recorder.types(), events.EventLoginSucceeded)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong password", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@example.com", "correct horse", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.Equal(t, []events.EventType{
		events.EventUserRegistered,
		events.EventLoginFailed,
		events.EventLoginFailed,
	}, f.recorder.types())
}

func TestLoginUnknownEmailStillVerifiesPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)

	var hashes []string
	f.svc.comparePassword = func(hashed, plain string) error {
		hashes = append(hashes, hashed)
		return auth.ComparePassword(hashed, plain)
	}

	_, err = f.svc.Login(ctx, "nobody@example.com", "correct horse", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, hashes, 1)

	cost, err := bcrypt.Cost([]byte(hashes[0]))
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost, cost)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong password", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, hashes, 2)

	// The placeholder hash is derived once and never matches.
	_, err = f.svc.Login(ctx, "other@example.com", "", "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, hashes, 3)
	require.Equal(t, hashes[0], hashes[2])
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, "ada@example.com", "correct horse", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, res.Session.ID, ""))
	got, err := f.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	// A second logout with the same id is not an error.
	require.NoError(t, f.svc.Logout(ctx, res.Session.ID, ""))
	require.NoError(t, f.svc.Logout(ctx, "", ""))

	types := f.recorder.types()
	require.Equal(t, events.EventLogout, types[len(types)-1])
	require.Equal(t, 1, countType(types, events.EventLogout))
}

func countType(types []events.EventType, want events.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestEnsureAdmin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, "", ""))

	require.NoError(t, f.svc.EnsureAdmin(ctx, "root@example.com", "bootstrap-pass"))
	admin, err := f.users.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, admin.Role)

	// Idempotent on the second run.
	require.NoError(t, f.svc.EnsureAdmin(ctx, "root@example.com", "bootstrap-pass"))

	_, err = f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.EnsureAdmin(ctx, "ada@example.com", ""))
	promoted, err := f.users.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, promoted.Role)

	require.Error(t, f.svc.EnsureAdmin(ctx, "new@example.com", "short"))
}

func TestProfile(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "")
	require.NoError(t, err)

	got, err := f.svc.Profile(ctx, domain.Identity{ID: user.ID, Role: domain.RoleUser})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", got.Email)

	_, err = f.svc.Profile(ctx, domain.Identity{ID: "missing"})
	require.Equal(t, apperrors.CodeNotFound, apperrors.ToDomainError(err).Code)
}
