package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/service"
)

type stubUserLookup struct {
	users map[int64]*models.User
}

func (s *stubUserLookup) Get(ctx context.Context, id int64) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newAuthTestRouter(tokens *service.TokenService, lookup *stubUserLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Authenticate(tokens, lookup))
	r.GET("/public", func(c *gin.Context) {
		user := UserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": user != nil})
	})
	r.GET("/private", RequireIdentity(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": UserFromContext(c).Username})
	})
	return r
}

func TestAuthenticateAttachesIdentity(t *testing.T) {
	tokens := service.NewTokenService("secret", time.Hour)
	lookup := &stubUserLookup{users: map[int64]*models.User{7: {ID: 7, Username: "ab"}}}
	r := newAuthTestRouter(tokens, lookup)

	token, _, err := tokens.Issue(7, time.Now().UTC())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"ab"`)
}

func TestAuthenticateFailsOpen(t *testing.T) {
	tokens := service.NewTokenService("secret", time.Hour)
	lookup := &stubUserLookup{users: map[int64]*models.User{7: {ID: 7, Username: "ab"}}}
	r := newAuthTestRouter(tokens, lookup)

	expired, _, err := service.NewTokenService("secret", -time.Hour).Issue(7, time.Now().UTC())
	require.NoError(t, err)
	foreign, _, err := service.NewTokenService("other", time.Hour).Issue(7, time.Now().UTC())
	require.NoError(t, err)
	unknownUser, _, err := tokens.Issue(404, time.Now().UTC())
	require.NoError(t, err)

	cases := map[string]string{
		"no header":      "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer garbage",
		"expired token":  "Bearer " + expired,
		"bad signature":  "Bearer " + foreign,
		"user not found": "Bearer " + unknownUser,
		"missing token":  "Bearer",
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			// A broken token never breaks the pipeline: the public route
			// still serves, just without an identity.
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/public", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"authenticated":false`)

			// The endpoint-level gate is what rejects.
			w = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodGet, "/private", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
