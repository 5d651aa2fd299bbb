package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

// TokenService signs and validates access tokens with a process-wide HMAC
// secret. Pure and stateless; safe to call from any number of requests.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService constructs a signer. The secret's presence is checked at
// startup by config loading; an empty secret never reaches this point.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue mints a signed access token for the user, expiring at now + expiry.
// The user id travels in the "id" claim as a decimal string.
func (s *TokenService) Issue(userID int64, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.expiry)
	claims := &models.AccessClaims{
		UserID: strconv.FormatInt(userID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks the token structure, signature and expiry against the
// supplied clock and returns the subject user id. Failures are one of
// ErrTokenMalformed, ErrTokenInvalid or ErrTokenExpired. Only HS256 is
// accepted; unsigned or foreign-algorithm tokens fail signature validation.
// Expiry has zero leeway: exp <= now is expired.
func (s *TokenService) Validate(tokenString string, now time.Time) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)

	claims := &models.AccessClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return 0, appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, appErrors.ErrTokenMalformed.Message)
		case errors.Is(err, jwt.ErrTokenExpired):
			return 0, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
		default:
			return 0, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
		}
	}
	if !token.Valid {
		return 0, appErrors.Clone(appErrors.ErrTokenInvalid, "")
	}

	// Zero tolerance on the boundary: a token expiring exactly now is dead.
	if exp := claims.ExpiresAt; exp != nil && !now.Before(exp.Time) {
		return 0, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}

	userID, err := claims.SubjectID()
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, "token subject is not a user id")
	}
	return userID, nil
}
