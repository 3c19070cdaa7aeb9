package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/service/conversation"
	apperrors "chatrelay-backend/pkg/errors"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Error(0)
}

func picture(contentType string, size int64) *conversation.PictureUpload {
	return &conversation.PictureUpload{
		Filename:    "group.png",
		ContentType: contentType,
		Size:        size,
		Reader:      strings.NewReader("image-bytes"),
	}
}

func TestUploadGroupPicture(t *testing.T) {
	objects := new(MockObjectStore)
	store := NewPictureStore(objects, "pictures", "http://cdn.local/")
	conversationID := uuid.New()

	objects.On("PutObject", mock.Anything, "pictures",
		mock.MatchedBy(func(name string) bool {
			return strings.HasPrefix(name, "groups/"+conversationID.String()+"/") && strings.HasSuffix(name, ".png")
		}),
		mock.Anything, int64(11),
		minio.PutObjectOptions{ContentType: "image/png"},
	).Return(minio.UploadInfo{}, nil).Once()

	url, err := store.UploadGroupPicture(context.Background(), conversationID, picture("image/PNG; charset=binary", 11))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://cdn.local/pictures/groups/"+conversationID.String()+"/"))
	objects.AssertExpectations(t)
}

func TestUploadGroupPicture_Validation(t *testing.T) {
	objects := new(MockObjectStore)
	store := NewPictureStore(objects, "pictures", "http://cdn.local")

	tests := []struct {
		name   string
		upload *conversation.PictureUpload
		code   apperrors.ErrorCode
	}{
		{"missing", nil, apperrors.ErrCodeMissingField},
		{"empty", picture("image/png", 0), apperrors.ErrCodeValidation},
		{"too large", picture("image/png", MaxPictureSize+1), apperrors.ErrCodeValidation},
		{"not an image", picture("application/pdf", 10), apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.UploadGroupPicture(context.Background(), uuid.New(), tt.upload)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
	objects.AssertNotCalled(t, "PutObject")
}

func TestUploadGroupPicture_BreakerOpensAfterFailures(t *testing.T) {
	objects := new(MockObjectStore)
	store := NewPictureStore(objects, "pictures", "http://cdn.local")

	objects.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("connection refused"))

	for i := 0; i < 3; i++ {
		_, err := store.UploadGroupPicture(context.Background(), uuid.New(), picture("image/jpeg", 10))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
	}
	objects.AssertNumberOfCalls(t, "PutObject", 3)

	_, err := store.UploadGroupPicture(context.Background(), uuid.New(), picture("image/jpeg", 10))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
	objects.AssertNumberOfCalls(t, "PutObject", 3)
}

func TestRemoveGroupPicture(t *testing.T) {
	objects := new(MockObjectStore)
	store := NewPictureStore(objects, "pictures", "http://cdn.local")

	objects.On("RemoveObject", mock.Anything, "pictures", "groups/x/y.png", minio.RemoveObjectOptions{}).Return(nil).Once()

	require.NoError(t, store.RemoveGroupPicture(context.Background(), "http://cdn.local/pictures/groups/x/y.png"))
	require.NoError(t, store.RemoveGroupPicture(context.Background(), "https://elsewhere/avatar.png"))
	objects.AssertExpectations(t)
}
