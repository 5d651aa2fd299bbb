package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}

// AuthService composes credential verification, access-token signing and
// refresh-token persistence into the login and refresh flows.
type AuthService struct {
	users     authUserRepository
	hasher    *PasswordHasher
	tokens    *TokenService
	refresh   *RefreshTokenStore
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, hasher *PasswordHasher, tokens *TokenService, refresh *RefreshTokenStore, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		refresh:   refresh,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates a username/password pair and returns an issued token
// pair. An unknown username and a wrong password produce the identical
// InvalidCredentials outcome; nothing reveals whether the username exists.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	switch s.hasher.Verify(user.PasswordHash, req.Password) {
	case VerifyMismatch:
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	case VerifyNeedsRehash:
		s.rehashPassword(ctx, user.ID, req.Password)
	}

	now := s.now()

	accessToken, _, err := s.tokens.Issue(user.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.refresh.Issue(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		UserID:           user.ID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken.Token,
		RefreshExpiresAt: refreshToken.ExpiresAt,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The refresh
// token is neither rotated nor invalidated; it stays usable until its own
// expiry. An unknown token, an expired token and an owner mismatch all
// produce the same opaque Unauthorized.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	now := s.now()

	ownerID, err := s.refresh.Resolve(ctx, req.RefreshToken, now)
	if err != nil {
		return nil, err
	}
	if ownerID != req.UserID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is not valid")
	}

	// Owner row must still exist; a deleted user fails closed.
	if _, err := s.users.FindByID(ctx, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is not valid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, _, err := s.tokens.Issue(ownerID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &models.RefreshResponse{AccessToken: accessToken}, nil
}

// rehashPassword upgrades a stored hash created with weaker parameters.
// Best effort: a failure is logged and never fails the login.
func (s *AuthService) rehashPassword(ctx context.Context, userID int64, plaintext string) {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		s.logger.Warn("failed to rehash password", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		s.logger.Warn("failed to store rehashed password", zap.Int64("user_id", userID), zap.Error(err))
	}
}
