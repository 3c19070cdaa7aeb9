package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
)

// Repository is the user table as seen by the profile service
type Repository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetSystemUser(ctx context.Context, email string) (*domain.User, error)
	UpdateConfiguration(ctx context.Context, userID uuid.UUID, cfg domain.UserConfiguration) error
}

// Service exposes profiles and the per-user privacy gates
type Service struct {
	userRepo Repository
}

func NewService(userRepo Repository) *Service {
	return &Service{userRepo: userRepo}
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return user, nil
}

// GetProfile returns the caller's own account including settings
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.load(ctx, userID)
}

// GetPublicProfile returns what other users may see
func (s *Service) GetPublicProfile(ctx context.Context, userID uuid.UUID) (*domain.UserResponse, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ToResponse(), nil
}

// UpdateSettings replaces the privacy gates and returns the updated account
func (s *Service) UpdateSettings(ctx context.Context, userID uuid.UUID, settings domain.UserConfiguration) (*domain.User, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsSystem {
		return nil, apperrors.ForbiddenError("System accounts cannot be reconfigured")
	}

	if err := s.userRepo.UpdateConfiguration(ctx, userID, settings); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	user.Settings = settings
	logger.FromContext(ctx).Info("User settings updated",
		zap.String("user_id", userID.String()),
		zap.Bool("allow_request", settings.AllowRequest),
		zap.Bool("allow_being_added_to_group", settings.AllowBeingAddedToGroup),
		zap.Bool("allow_only_friends_chat", settings.AllowOnlyFriendsChat))
	return user, nil
}

// ResolveSystemUser looks up the AI participant once at startup. A missing
// account is not an error: the service then runs without auto-replies.
func (s *Service) ResolveSystemUser(ctx context.Context, email string) (uuid.UUID, error) {
	user, err := s.userRepo.GetSystemUser(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("No system account found, AI replies disabled", zap.String("email", email))
			return uuid.Nil, nil
		}
		return uuid.Nil, apperrors.DatabaseError(err)
	}

	logger.Info("Resolved AI system account", zap.String("user_id", user.UserID.String()))
	return user.UserID, nil
}
