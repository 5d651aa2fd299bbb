package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/repository"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

// issueRetries bounds retries when a freshly generated token value collides
// with an existing row. With 256-bit values this is effectively unreachable.
const issueRetries = 3

type refreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByValue(ctx context.Context, value string) (*models.RefreshToken, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore issues and resolves opaque refresh tokens. Issuance
// persists the row before returning it; resolution collapses "absent" and
// "expired" into one failure so callers cannot tell them apart.
type RefreshTokenStore struct {
	repo   refreshTokenRepository
	ttl    time.Duration
	logger *zap.Logger
}

// NewRefreshTokenStore constructs a store with the given token lifetime.
func NewRefreshTokenStore(repo refreshTokenRepository, ttl time.Duration, logger *zap.Logger) *RefreshTokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshTokenStore{repo: repo, ttl: ttl, logger: logger}
}

// Issue generates a random opaque token for the user, persists it and
// returns the stored row. The database's unique constraint backs the value's
// global uniqueness; on the vanishingly rare clash the insert is retried
// with a fresh value rather than overwriting the existing row.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID int64, now time.Time) (*models.RefreshToken, error) {
	var lastErr error
	for attempt := 0; attempt < issueRetries; attempt++ {
		value, err := generateTokenValue()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate refresh token")
		}

		token := &models.RefreshToken{
			UserID:    userID,
			Token:     value,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}

		err = s.repo.Create(ctx, token)
		if err == nil {
			return token, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
		}

		s.logger.Warn("refresh token value collision, retrying", zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "refresh token value conflict")
}

// Resolve looks up a token by value and returns the owning user id. A token
// that does not exist and a token past its expiry produce the identical
// failure; neither outcome is distinguishable to the caller.
func (s *RefreshTokenStore) Resolve(ctx context.Context, value string, now time.Time) (int64, error) {
	token, err := s.repo.FindByValue(ctx, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is not valid")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if !now.Before(token.ExpiresAt) {
		return 0, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is not valid")
	}

	return token.UserID, nil
}

// PurgeExpired deletes rows whose expiry has passed.
func (s *RefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, now)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge refresh tokens")
	}
	return n, nil
}

func generateTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
