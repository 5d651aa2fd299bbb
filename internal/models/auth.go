package models

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token pair.
type LoginResponse struct {
	UserID           int64     `json:"user_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	UserID       int64  `json:"user_id" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshResponse carries the newly minted access token. The refresh token
// itself is not rotated and stays valid until its own expiry.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// AccessClaims is the signed payload of an access token. The user id travels
// in the "id" claim as a decimal string.
type AccessClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// SubjectID returns the numeric user id carried by the claims.
func (c *AccessClaims) SubjectID() (int64, error) {
	return strconv.ParseInt(c.UserID, 10, 64)
}
