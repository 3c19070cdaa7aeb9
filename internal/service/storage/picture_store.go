// Package storage keeps group pictures in MinIO.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"chatrelay-backend/internal/service/conversation"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/resilience"
)

// MaxPictureSize is the largest accepted group picture
const MaxPictureSize = 5 << 20

var pictureExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectStore is the subset of *minio.Client the picture store uses
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// PictureStore uploads group pictures under groups/<conversation id>/
type PictureStore struct {
	objects ObjectStore
	bucket  string
	baseURL string
	breaker *resilience.CircuitBreaker
}

// NewPictureStore returns a store whose URLs are baseURL/bucket/object
func NewPictureStore(objects ObjectStore, bucket, baseURL string) *PictureStore {
	// an upload body is a stream and cannot be replayed
	settings := resilience.DefaultSettings()
	settings.MaxAttempts = 1

	return &PictureStore{
		objects: objects,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: resilience.NewCircuitBreaker("minio", settings),
	}
}

// UploadGroupPicture validates and stores a picture, returning its URL
func (s *PictureStore) UploadGroupPicture(ctx context.Context, conversationID uuid.UUID, upload *conversation.PictureUpload) (string, error) {
	if upload == nil || upload.Reader == nil {
		return "", apperrors.MissingFieldError("picture")
	}
	if upload.Size <= 0 || upload.Size > MaxPictureSize {
		return "", apperrors.ValidationError(fmt.Sprintf("Picture must be between 1 byte and %d MB", MaxPictureSize>>20))
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(upload.ContentType, ";")[0]))
	ext, ok := pictureExtensions[contentType]
	if !ok {
		return "", apperrors.ValidationError("Picture must be a JPEG, PNG, GIF or WebP image")
	}

	objectName := path.Join("groups", conversationID.String(), uuid.New().String()+ext)

	err := s.breaker.Execute(ctx, "put_object", func(ctx context.Context) error {
		_, err := s.objects.PutObject(ctx, s.bucket, objectName, upload.Reader, upload.Size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	})
	if err != nil {
		logger.Error("Failed to upload group picture",
			zap.String("conversation_id", conversationID.String()),
			zap.String("object", objectName),
			zap.Error(err))
		return "", apperrors.StorageError(err)
	}

	return s.URL(objectName), nil
}

// RemoveGroupPicture deletes a picture previously returned by UploadGroupPicture.
// URLs that do not belong to this store are ignored.
func (s *PictureStore) RemoveGroupPicture(ctx context.Context, pictureURL string) error {
	prefix := s.URL("")
	if !strings.HasPrefix(pictureURL, prefix) {
		return nil
	}
	objectName := strings.TrimPrefix(pictureURL, prefix)

	err := s.breaker.Execute(ctx, "remove_object", func(ctx context.Context) error {
		return s.objects.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return apperrors.StorageError(err)
	}
	return nil
}

// URL returns the public URL of an object
func (s *PictureStore) URL(objectName string) string {
	return s.baseURL + "/" + s.bucket + "/" + objectName
}
