package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/domain"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockRepository) CountUnseen(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) MarkAllSeen(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRepository) DeleteSeen(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func TestSend(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo)
	ctx := context.Background()
	userID := uuid.New()

	repo.On("Create", ctx, mock.MatchedBy(func(n *domain.Notification) bool {
		return n.UserID == userID && n.Type == domain.NotificationMessage && !n.Seen && n.Message == "hi"
	})).Return(nil)

	n, err := service.Send(ctx, userID, "hi", domain.NotificationMessage)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, n.NotificationID)
	repo.AssertExpectations(t)
}

func TestNotify_SwallowsFailure(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo)
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

	assert.NotPanics(t, func() {
		service.Notify(ctx, uuid.New(), "hi", domain.NotificationRequestReceived)
	})
	repo.AssertExpectations(t)
}

func TestGetNotifications(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo)
	ctx := context.Background()
	userID := uuid.New()

	repo.On("GetByUserID", ctx, userID, 50).Return(nil, nil)
	repo.On("CountUnseen", ctx, userID).Return(3, nil)

	list, err := service.GetNotifications(ctx, userID, 0)
	require.NoError(t, err)
	assert.NotNil(t, list.Notifications)
	assert.Empty(t, list.Notifications)
	assert.Equal(t, 3, list.UnseenCount)
}

func TestRemoveSeen(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo)
	ctx := context.Background()
	userID := uuid.New()

	repo.On("DeleteSeen", ctx, userID).Return(int64(4), nil)

	removed, err := service.RemoveSeen(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
}
