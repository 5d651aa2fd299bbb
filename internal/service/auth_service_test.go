package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

type memUserRepo struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*models.User
	byUsername map[string]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[int64]*models.User), byUsername: make(map[string]*models.User)}
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byUsername[user.Username]; exists {
		return &pq.Error{Code: "23505"}
	}
	m.nextID++
	user.ID = m.nextID
	stored := *user
	m.byID[user.ID] = &stored
	m.byUsername[user.Username] = &stored
	return nil
}

func (m *memUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byUsername[username]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *memUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *memUserRepo) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *memUserRepo) delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byID[id]; ok {
		delete(m.byUsername, user.Username)
		delete(m.byID, id)
	}
}

func newTestAuthService(t *testing.T, users *memUserRepo, tokens *memTokenRepo) *AuthService {
	t.Helper()
	hasher := NewPasswordHasher(bcrypt.MinCost)
	signer := NewTokenService("secret", time.Hour)
	store := NewRefreshTokenStore(tokens, 7*24*time.Hour, zap.NewNop())
	return NewAuthService(users, hasher, signer, store, validator.New(), zap.NewNop())
}

func seedUser(t *testing.T, users *memUserRepo, username, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{FirstName: "A", LastName: "B", Username: username, PasswordHash: string(hash)}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func TestAuthLoginSuccess(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	user := seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.UserID)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, res.RefreshExpiresAt.After(time.Now()))

	// The access token's claim carries the user's id.
	subject, err := svc.tokens.Validate(res.AccessToken, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)
}

func TestAuthLoginFailuresAreOpaque(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	_, wrongPassErr := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "nope"})
	require.Error(t, wrongPassErr)
	_, unknownUserErr := svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "secret"})
	require.Error(t, unknownUserErr)

	// Wrong password and unknown username are indistinguishable.
	assert.Equal(t, appErrors.FromError(wrongPassErr).Code, appErrors.FromError(unknownUserErr).Code)
	assert.Equal(t, appErrors.FromError(wrongPassErr).Message, appErrors.FromError(unknownUserErr).Message)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(wrongPassErr).Code)
}

func TestAuthLoginRehashesLegacyHash(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	user := seedUser(t, users, "ab", "secret")
	legacyHash := user.PasswordHash

	hasher := NewPasswordHasher(bcrypt.MinCost + 2)
	signer := NewTokenService("secret", time.Hour)
	store := NewRefreshTokenStore(tokens, time.Hour, zap.NewNop())
	svc := NewAuthService(users, hasher, signer, store, validator.New(), zap.NewNop())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
	require.NoError(t, err)

	stored, err := users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, legacyHash, stored.PasswordHash)
	assert.Equal(t, VerifyMatch, hasher.Verify(stored.PasswordHash, "secret"))
}

func TestAuthConcurrentLoginsIssueIndependentTokens(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	const sessions = 8
	results := make([]*models.LoginResponse, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, sessions)
	now := time.Now().UTC()
	for _, res := range results {
		assert.False(t, seen[res.RefreshToken], "refresh tokens must be distinct")
		seen[res.RefreshToken] = true

		owner, err := svc.refresh.Resolve(context.Background(), res.RefreshToken, now)
		require.NoError(t, err)
		assert.Equal(t, res.UserID, owner)
	}
}

func TestAuthRefresh(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	user := seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	loginTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return loginTime }

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
	require.NoError(t, err)

	svc.now = func() time.Time { return loginTime.Add(30 * time.Minute) }

	res, err := svc.Refresh(context.Background(), models.RefreshRequest{UserID: user.ID, RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	subject, err := svc.tokens.Validate(res.AccessToken, loginTime)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	// The refreshed token outlives the original: at login+70m the original
	// access token is dead while the new one still validates.
	probe := loginTime.Add(70 * time.Minute)
	_, err = svc.tokens.Validate(login.AccessToken, probe)
	assert.Error(t, err)
	_, err = svc.tokens.Validate(res.AccessToken, probe)
	assert.NoError(t, err)

	// No rotation: the same refresh token keeps working.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{UserID: user.ID, RefreshToken: login.RefreshToken})
	assert.NoError(t, err)
}

func TestAuthRefreshRejectsFabricatedToken(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	user := seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{UserID: user.ID, RefreshToken: "fabricated"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthRefreshRejectsOwnerMismatch(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	seedUser(t, users, "ab", "secret")
	other := seedUser(t, users, "cd", "secret")
	svc := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{UserID: other.ID, RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthRefreshFailsClosedWhenOwnerDeleted(t *testing.T) {
	users := newMemUserRepo()
	tokens := newMemTokenRepo()
	user := seedUser(t, users, "ab", "secret")
	svc := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "ab", Password: "secret"})
	require.NoError(t, err)

	users.delete(user.ID)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{UserID: user.ID, RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
