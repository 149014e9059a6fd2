package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/internal/push"
	"github.com/nanami404/meeting-assistant/internal/token"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
	"github.com/nanami404/meeting-assistant/pkg/logger"
)

func testUser(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{
		ID:           "usr-001",
		Email:        "alice@example.com",
		PasswordHash: string(hash),
		Name:         "Alice",
		Role:         domain.RoleUser,
		Status:       domain.StatusActive,
	}
}

func newAuthFixture(t *testing.T, users *mockUserRepository) (*AuthService, *push.Registry) {
	t.Helper()
	store := token.NewMemoryRevocationStore()
	t.Cleanup(store.Close)

	log := logger.New("auth-test", "error")
	tokens := token.NewManager(token.DefaultConfig("test-secret"), users, store, log)
	registry := push.NewRegistry()
	return NewAuthService(users, tokens, registry, log), registry
}

func TestLogin_Success(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)

	got, pair, err := svc.Login(context.Background(), u.Email, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	users.AssertExpectations(t)
}

func TestLogin_WrongPassword(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)

	_, _, err := svc.Login(context.Background(), u.Email, "wrong")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestLogin_UnknownEmail(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)

	users.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)

	_, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestLogin_InactiveUser(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)
	u := testUser(t, "hunter2")
	u.Status = domain.StatusSuspended

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)

	// Correct password, inactive account: same opaque 401.
	_, _, err := svc.Login(context.Background(), u.Email, "hunter2")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_Rotates(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)
	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)

	_, pair, err := svc.Login(context.Background(), u.Email, "hunter2")
	require.NoError(t, err)

	newPair, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)
}

func TestRefresh_ReplayEvictsChannels(t *testing.T) {
	users := &mockUserRepository{}
	svc, registry := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)
	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)

	_, pair, err := svc.Login(context.Background(), u.Email, "hunter2")
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	conn := registry.Register(u.ID)

	// Replaying the consumed refresh token fails and kills live channels.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrRevoked)
	assert.False(t, registry.IsOnline(u.ID))

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("expected channel eviction after refresh replay")
	}
}

func TestLogout_RevokesAndEvicts(t *testing.T) {
	users := &mockUserRepository{}
	svc, registry := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)

	_, pair, err := svc.Login(context.Background(), u.Email, "hunter2")
	require.NoError(t, err)

	conn := registry.Register(u.ID)

	require.NoError(t, svc.Logout(context.Background(), u.ID, pair.AccessToken, pair.RefreshToken))

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, token.ErrRevoked)
	assert.False(t, registry.IsOnline(u.ID))

	select {
	case <-conn.Done():
	default:
		t.Fatal("expected channel eviction on logout")
	}

	// Logout is idempotent.
	assert.NoError(t, svc.Logout(context.Background(), u.ID, pair.AccessToken, pair.RefreshToken))
}

func TestMe(t *testing.T) {
	users := &mockUserRepository{}
	svc, _ := newAuthFixture(t, users)
	u := testUser(t, "hunter2")

	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)

	got, err := svc.Me(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
}
