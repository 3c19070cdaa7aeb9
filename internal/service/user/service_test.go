package user

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) GetSystemUser(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) UpdateConfiguration(ctx context.Context, userID uuid.UUID, cfg domain.UserConfiguration) error {
	return m.Called(ctx, userID, cfg).Error(0)
}

func TestGetPublicProfile(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := NewService(repo)

	alice := &domain.User{UserID: uuid.New(), Username: "alice", Email: "alice@example.com"}
	repo.On("GetByID", ctx, alice.UserID).Return(alice, nil)

	profile, err := svc.GetPublicProfile(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)

	missing := uuid.New()
	repo.On("GetByID", ctx, missing).Return(nil, domain.ErrNotFound)
	_, err = svc.GetPublicProfile(ctx, missing)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := NewService(repo)

	alice := &domain.User{UserID: uuid.New(), Username: "alice"}
	settings := domain.UserConfiguration{AllowRequest: true, AllowOnlyFriendsChat: true}
	repo.On("GetByID", ctx, alice.UserID).Return(alice, nil)
	repo.On("UpdateConfiguration", ctx, alice.UserID, settings).Return(nil)

	updated, err := svc.UpdateSettings(ctx, alice.UserID, settings)
	require.NoError(t, err)
	assert.Equal(t, settings, updated.Settings)
	repo.AssertExpectations(t)
}

func TestUpdateSettingsRejectsSystemAccount(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := NewService(repo)

	ai := &domain.User{UserID: uuid.New(), IsSystem: true}
	repo.On("GetByID", ctx, ai.UserID).Return(ai, nil)

	_, err := svc.UpdateSettings(ctx, ai.UserID, domain.UserConfiguration{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	repo.AssertNotCalled(t, "UpdateConfiguration", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveSystemUser(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo := new(MockRepository)
		ai := &domain.User{UserID: uuid.New(), IsSystem: true}
		repo.On("GetSystemUser", ctx, "ai@chatrelay.local").Return(ai, nil)

		id, err := NewService(repo).ResolveSystemUser(ctx, "ai@chatrelay.local")
		require.NoError(t, err)
		assert.Equal(t, ai.UserID, id)
	})

	t.Run("missing disables replies", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetSystemUser", ctx, "").Return(nil, domain.ErrNotFound)

		id, err := NewService(repo).ResolveSystemUser(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, id)
	})

	t.Run("database failure", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetSystemUser", ctx, "").Return(nil, errors.New("connection refused"))

		_, err := NewService(repo).ResolveSystemUser(ctx, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})
}
